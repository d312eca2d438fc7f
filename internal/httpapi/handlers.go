package httpapi

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/roach88/cfgsync/internal/engine"
)

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request, accountID string) {
	rec, found, err := s.engine.Get(r.Context(), accountID, clientInfo(r))
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	resp := configResponse{AccountID: accountID}
	if found {
		resp.Config = &rec
		resp.Revision = rec.Revision
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request, accountID string) {
	var body saveRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeMessage(w, http.StatusBadRequest, msgBadBody)
		return
	}

	out, err := s.engine.Save(r.Context(), engine.SaveRequest{
		AccountID:      accountID,
		ClientRevision: body.Revision,
		ClientHash:     body.DataHash,
		Fields:         body.ConfigFields,
		LastClient:     body.LastClient,
		ClientInfo:     clientInfo(r),
	})
	switch {
	case errors.Is(err, engine.ErrMissingRevision):
		writeMessage(w, http.StatusBadRequest, msgMissingRev)
		return
	case errors.Is(err, engine.ErrInvalidInitialRevision):
		writeMessage(w, http.StatusBadRequest, msgInvalidInitial)
		return
	case err != nil:
		s.internalError(w, r, err)
		return
	}

	switch out.Status {
	case engine.StatusSaved:
		writeJSON(w, http.StatusOK, saveResponse{
			Message:  msgSaved,
			Revision: out.Record.Revision,
			Config:   out.Record,
		})
	case engine.StatusNoChange:
		writeJSON(w, http.StatusOK, saveResponse{
			Message:  msgNoChange,
			Revision: out.Record.Revision,
			Merged:   true,
			Config:   out.Record,
		})
	case engine.StatusConflict:
		writeJSON(w, http.StatusConflict, conflictResponse{
			Message:        msgConflict,
			Latest:         out.Record,
			ServerRevision: out.ServerRevision,
			ClientRevision: out.ClientRevision,
		})
	case engine.StatusBusy:
		secs := int64(math.Ceil(out.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		writeJSON(w, http.StatusServiceUnavailable, busyResponse{Message: msgBusy, RetryAfter: secs})
	default:
		s.internalError(w, r, errors.New("unknown save status "+out.Status.String()))
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request, accountID string) {
	v, err := s.engine.Version(r.Context(), accountID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Database: "disconnected"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Database: "connected"})
}

// internalError logs the fault and answers 500 without leaking details.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	accountID, _ := AccountFromContext(r.Context())
	s.logger.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"account_id", accountID,
		"request_id", w.Header().Get("X-Request-ID"),
		"error", err,
	)
	writeMessage(w, http.StatusInternalServerError, msgInternal)
}
