package server

import (
	"net/http"
	"strconv"

	"github.com/RyderBlack/Ekho/internal/google"
	"github.com/RyderBlack/Ekho/internal/observe"
	"github.com/RyderBlack/Ekho/internal/roster"
)

type fileList struct {
	Files []google.File `json:"files"`
}

type uploaded struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// handleListSpreadsheets lists the user's Google Sheets so one can be picked
// as the roster.
func (s *Server) handleListSpreadsheets(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	ws, err := s.workspace(r, sess)
	if err != nil {
		writeError(w, r, err)
		return
	}
	files, err := ws.ListSpreadsheets(r.Context())
	s.saveToken(sess, ws)
	if err != nil {
		writeError(w, r, googleErr(err))
		return
	}
	if files == nil {
		files = []google.File{}
	}
	writeJSON(w, http.StatusOK, fileList{Files: files})
}

// handleDriveUpload stores a local spreadsheet in the user's Drive, optionally
// converting it to a Google Sheet.
func (s *Server) handleDriveUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := sessionFrom(r)
	ws, err := s.workspace(r, sess)
	if err != nil {
		writeError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, uploadErr(err, errNoFile))
		return
	}
	defer file.Close()

	if _, err := roster.DetectFormat(hdr.Filename); err != nil {
		writeError(w, r, err)
		return
	}
	convert := false
	if v := r.FormValue("convert"); v != "" {
		if convert, err = strconv.ParseBool(v); err != nil {
			writeError(w, r, badRequest("convert must be a boolean"))
			return
		}
	}

	f, err := ws.UploadSpreadsheet(ctx, hdr.Filename, file, convert)
	s.saveToken(sess, ws)
	if err != nil {
		writeError(w, r, googleErr(err))
		return
	}

	observe.Logger(ctx).Info("spreadsheet uploaded to drive", "session_id", sess.ID, "file_id", f.ID, "converted", convert)
	writeJSON(w, http.StatusOK, uploaded{ID: f.ID, Name: f.Name})
}
