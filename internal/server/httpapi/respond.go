package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/circle/internal/common"
	"github.com/dmitrijs2005/circle/internal/dto"
)

const maxJSONBody = 1 << 20

// errorStatuses is ordered; the first match wins. Entries with detail send
// the full error text, the rest send the bare sentinel so clients can match
// it exactly.
var errorStatuses = []struct {
	err    error
	status int
	detail bool
}{
	{common.ErrInvalidToken, http.StatusUnauthorized, false},
	{common.ErrTokenExpired, http.StatusUnauthorized, false},
	{common.ErrorUnauthorized, http.StatusUnauthorized, false},
	{common.ErrAccessDenied, http.StatusForbidden, false},
	{common.ErrNotParticipant, http.StatusForbidden, false},
	{common.ErrorNotFound, http.StatusNotFound, false},
	{common.ErrLoginIsTaken, http.StatusConflict, false},
	{common.ErrFileTooLarge, http.StatusRequestEntityTooLarge, false},
	{common.ErrQuotaExceeded, http.StatusRequestEntityTooLarge, false},
	{common.ErrChecksumMismatch, http.StatusBadRequest, false},
	{common.ErrUnknownUser, http.StatusBadRequest, true},
	{common.ErrInvalidRequest, http.StatusBadRequest, true},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			msg := e.err.Error()
			if e.detail {
				msg = err.Error()
			}
			writeJSON(w, e.status, dto.ErrorResponse{Error: msg})
			return
		}
	}

	s.logger.Error(ctx, "request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: common.ErrorInternal.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidRequest, err)
	}
	return nil
}
