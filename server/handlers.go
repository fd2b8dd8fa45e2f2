package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/bosley/recordnote/config"
	"github.com/bosley/recordnote/minutes"
	"github.com/bosley/recordnote/observability"
	"github.com/bosley/recordnote/scribe"
	"github.com/bosley/recordnote/session"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 4 << 10

type titleRequest struct {
	Title string `json:"title" validate:"max=200"`
}

type modelRequest struct {
	ModelSize string `json:"model_size" validate:"required,model_size"`
}

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, err error, details ...string) {
	respondJSON(w, status, errorResponse{Error: err.Error(), Details: details})
}

// commandStatus maps a session command error to an HTTP status.
func commandStatus(err error) int {
	switch {
	case session.IsRejected(err):
		return http.StatusConflict
	case errors.Is(err, scribe.ErrUnsupportedModelSize):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes and validates a JSON request body. It writes the error
// response itself and reports whether the handler should continue.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}

	if err := config.Validator().Struct(dst); err != nil {
		var (
			details []string
			verrs   validator.ValidationErrors
		)
		if errors.As(err, &verrs) {
			details = config.FormatValidationErrors(verrs)
		}
		respondError(w, http.StatusBadRequest, errors.New("validation failed"), details...)
		return false
	}
	return true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.session.BeginRecording(); err != nil {
		respondError(w, commandStatus(err), err)
		return
	}
	respondJSON(w, http.StatusOK, s.session.Snapshot())
}

// handleStop answers as soon as capture has stopped; the pipeline result
// arrives over the WebSocket or a later GET.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.session.EndRecording(); err != nil {
		respondError(w, commandStatus(err), err)
		return
	}
	respondJSON(w, http.StatusAccepted, s.session.Snapshot())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Reset(); err != nil {
		respondError(w, commandStatus(err), err)
		return
	}
	respondJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleSetTitle(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.session.SetTitle(req.Title)
	respondJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	snap := s.session.Snapshot()
	if snap.State != session.Completed || snap.GeneratedAt == nil {
		respondError(w, http.StatusNotFound, errors.New("no document yet"))
		return
	}

	filename := minutes.DefaultFilename(*snap.GeneratedAt)
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(snap.Document)); err != nil {
		log.Warn().Err(err).Msg("Failed to write document")
		return
	}
	observability.RecordExport()
	log.Info().Str("session_id", snap.ID).Str("filename", filename).Msg("Document downloaded")
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.models.Info())
}

func (s *Server) handleSetModel(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	size, err := scribe.ParseModelSize(req.ModelSize)
	if err == nil {
		err = s.models.SetModelSize(size)
	}
	if err != nil {
		respondError(w, commandStatus(err), err)
		return
	}
	respondJSON(w, http.StatusOK, s.models.Info())
}
