// Command ekho-identify transcribes a local audio file and prints the
// transcription and the welcome message for the speaker.
//
// Usage:
//
//	ekho-identify -audio clip.wav -roster promo.csv [-task translate] [-config config.yaml]
//
// Without -config the default Gradio Space is used, with HF_TOKEN (from the
// environment or .env) as its access token.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/RyderBlack/Ekho/internal/app"
	"github.com/RyderBlack/Ekho/internal/config"
	"github.com/RyderBlack/Ekho/internal/identify"
	"github.com/RyderBlack/Ekho/internal/identify/phonetic"
	"github.com/RyderBlack/Ekho/internal/roster"
	"github.com/RyderBlack/Ekho/pkg/provider/stt"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ekho-identify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "optional YAML configuration file")
	audioPath := fs.String("audio", "", "audio file to transcribe (required)")
	rosterPath := fs.String("roster", "", "CSV or XLSX roster (overrides roster.file)")
	taskFlag := fs.String("task", "", `"transcribe" or "translate" (overrides transcription.task)`)
	verbose := fs.Bool("v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *audioPath == "" {
		fmt.Fprintln(stderr, "ekho-identify: -audio is required")
		fs.Usage()
		return 2
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "ekho-identify: load .env: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "ekho-identify: %v\n", err)
		return 1
	}
	if *rosterPath != "" {
		cfg.Roster.File = *rosterPath
	}
	task, err := stt.ParseTask(*taskFlag, stt.Task(cfg.Transcription.Task))
	if err != nil {
		fmt.Fprintf(stderr, "ekho-identify: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)
	tr, err := reg.CreateTranscriber(cfg.Transcription.Provider)
	if err != nil {
		fmt.Fprintf(stderr, "ekho-identify: %v\n", err)
		return 1
	}

	res, err := identifyFile(ctx, tr, cfg, *audioPath, task)
	if err != nil {
		fmt.Fprintf(stderr, "ekho-identify: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Transcription: %s\n", res.text)
	if msg := identify.WelcomeMessage(res.result); msg != "" {
		fmt.Fprintln(stdout, msg)
	} else {
		fmt.Fprintln(stdout, `Aucun nom détecté (dites « Mon nom est … »).`)
	}
	if s := res.result.Suggestion; s != nil {
		fmt.Fprintf(stdout, "Vouliez-vous dire %s %s ? (%.2f)\n", s.FirstName, s.LastName, s.Score)
	}
	return 0
}

// loadConfig reads path, or returns the defaults with HF_TOKEN as the Gradio
// token when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Transcription.Provider.APIKey = os.Getenv("HF_TOKEN")
	return cfg, nil
}

type outcome struct {
	text   string
	result identify.Result
}

// identifyFile transcribes audioPath and matches the speaker against the
// configured roster file. Without a roster every spoken name is unrecognized.
func identifyFile(ctx context.Context, tr stt.Transcriber, cfg *config.Config, audioPath string, task stt.Task) (outcome, error) {
	var ros *roster.Roster
	if cfg.Roster.File != "" {
		var err error
		if ros, err = roster.LoadFile(cfg.Roster.File); err != nil {
			return outcome{}, fmt.Errorf("load roster: %w", err)
		}
	}

	t, err := tr.Transcribe(ctx, stt.Request{
		Path:     audioPath,
		Filename: filepath.Base(audioPath),
		Task:     task,
		Language: cfg.Transcription.Language,
		Prompt:   cfg.Transcription.Prompt,
	})
	if err != nil {
		return outcome{}, err
	}

	var opts []identify.Option
	if cfg.Roster.Suggestions.Enabled {
		opts = append(opts, identify.WithSuggester(phonetic.New(phonetic.WithPhoneticThreshold(cfg.Roster.Suggestions.Threshold))))
	}
	return outcome{text: t.Text, result: identify.New(opts...).Identify(t.Text, ros)}, nil
}
