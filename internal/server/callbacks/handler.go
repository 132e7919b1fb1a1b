package callbacks

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/dmitrijs2005/mediavault/internal/server/models"
)

const maxBody = 64 << 10

type renditionRequest struct {
	BackendID string `json:"backend_id"`
	Path      string `json:"path"`
	FolderID  string `json:"folder_id"`
	Quality   string `json:"quality"`
	Codec     string `json:"codec"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mime_type"`
}

type doneRequest struct {
	Cancelled bool `json:"cancelled"`
}

type failedRequest struct {
	Reason string `json:"reason"`
}

type statusResponse struct {
	Status string `json:"status"`
	FileID string `json:"file_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, statusResponse{Status: "error", Error: msg})
}

// decode reads an optional JSON body; an empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v)
	if err == io.EOF {
		return nil
	}
	return err
}

func (s *Server) handleRendition(w http.ResponseWriter, r *http.Request) {
	var req renditionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if req.BackendID == "" || req.Path == "" || req.Size < 0 {
		writeError(w, http.StatusBadRequest, "backend_id, path and a non-negative size are required")
		return
	}

	ctx := r.Context()
	f, err := s.reporter.ReportRendition(ctx, jobContextFrom(ctx), models.Rendition{
		BackendID: req.BackendID,
		Path:      req.Path,
		FolderID:  req.FolderID,
		Quality:   req.Quality,
		Codec:     req.Codec,
		Size:      req.Size,
		MimeType:  req.MimeType,
	})
	if err != nil {
		s.logger.Error(ctx, "rendition report failed", "job_id", jobContextFrom(ctx).JobID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if f == nil {
		writeJSON(w, http.StatusAccepted, statusResponse{Status: "dropped"})
		return
	}
	writeJSON(w, http.StatusCreated, statusResponse{Status: "recorded", FileID: f.ID})
}

func (s *Server) handleDone(w http.ResponseWriter, r *http.Request) {
	var req doneRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	ctx := r.Context()
	out := models.JobOutcome{JobContext: jobContextFrom(ctx), Kind: models.OutcomeDone}
	if req.Cancelled {
		out.Kind = models.OutcomeCancelled
	}
	if err := s.reporter.JobDone(ctx, out); err != nil {
		s.logger.Error(ctx, "job done report failed", "job_id", out.JobID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFailed(w http.ResponseWriter, r *http.Request) {
	var req failedRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	ctx := r.Context()
	out := models.JobOutcome{JobContext: jobContextFrom(ctx), Kind: models.OutcomeFailed, Reason: req.Reason}
	if err := s.reporter.JobFailed(ctx, out); err != nil {
		s.logger.Error(ctx, "job failure report failed", "job_id", out.JobID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
