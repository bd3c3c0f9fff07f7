package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/RyderBlack/Ekho/internal/observe"
	"github.com/RyderBlack/Ekho/internal/roster"
)

// rosterLoaded is returned after a roster replaced the session's previous one.
type rosterLoaded struct {
	Entries int    `json:"entries"`
	Source  string `json:"source"`
}

// rosterView is the body of GET /roster.
type rosterView struct {
	Entries  []roster.Entry `json:"entries"`
	Source   string         `json:"source"`
	LoadedAt time.Time      `json:"loaded_at"`
}

type sheetRequest struct {
	SpreadsheetID string `json:"spreadsheet_id"`
	Range         string `json:"range"`
}

// handleRosterUpload replaces the session roster with an uploaded CSV or
// XLSX file. A failed load leaves the previous roster in place.
func (s *Server) handleRosterUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := sessionFrom(r)

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, uploadErr(err, errNoFile))
		return
	}
	defer file.Close()

	source := "upload"
	if f, err := roster.DetectFormat(hdr.Filename); err == nil {
		source = string(f)
	}

	ros, err := roster.Read(file, hdr.Filename)
	s.cfg.Metrics.RecordRosterLoad(ctx, source, err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sess.ReplaceRoster(ros)

	observe.Logger(ctx).Info("roster loaded", "session_id", sess.ID, "source", ros.Source(), "entries", ros.Len())
	writeJSON(w, http.StatusOK, rosterLoaded{Entries: ros.Len(), Source: ros.Source()})
}

// handleRosterSheet replaces the session roster with rows read from one of
// the signed-in user's Google Sheets.
func (s *Server) handleRosterSheet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := sessionFrom(r)

	var req sheetRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, r, badRequest("invalid JSON body: "+err.Error()))
		return
	}
	if req.SpreadsheetID == "" {
		writeError(w, r, badRequest("spreadsheet_id is required"))
		return
	}

	ws, err := s.workspace(r, sess)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, span := observe.StartSpan(ctx, "roster.sheet",
		observe.AttrSessionID.String(sess.ID),
		observe.AttrSource.String(req.SpreadsheetID),
	)
	rows, err := ws.ReadRows(ctx, req.SpreadsheetID, req.Range)
	observe.EndSpan(span, err)
	s.saveToken(sess, ws)
	if err != nil {
		s.cfg.Metrics.RecordRosterLoad(ctx, "sheet", err)
		writeError(w, r, googleErr(err))
		return
	}

	ros, err := roster.Load(rows)
	s.cfg.Metrics.RecordRosterLoad(ctx, "sheet", err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ros = ros.WithSource(req.SpreadsheetID)
	sess.ReplaceRoster(ros)

	observe.Logger(ctx).Info("roster loaded", "session_id", sess.ID, "source", "sheet", "spreadsheet_id", req.SpreadsheetID, "entries", ros.Len())
	writeJSON(w, http.StatusOK, rosterLoaded{Entries: ros.Len(), Source: ros.Source()})
}

func (s *Server) handleRosterGet(w http.ResponseWriter, r *http.Request) {
	ros := sessionFrom(r).Roster()
	if ros == nil {
		writeError(w, r, errNoRoster)
		return
	}
	writeJSON(w, http.StatusOK, rosterView{Entries: ros.Entries(), Source: ros.Source(), LoadedAt: ros.LoadedAt()})
}

func (s *Server) handleRosterDelete(w http.ResponseWriter, r *http.Request) {
	sessionFrom(r).ClearRoster()
	w.WriteHeader(http.StatusNoContent)
}
