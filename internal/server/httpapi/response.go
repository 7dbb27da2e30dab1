package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fredemmott/TempFiles/internal/common"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	codeNotFound       = "not_found"
	codeInvalidSession = "invalid_session"
	codeBadRequest     = "bad_request"
	codeValidation     = "validation_error"
	codeInternal       = "internal_server_error"
)

func respondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondErrorWithCode(w http.ResponseWriter, status int, code, message string) {
	respondWithJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// respondError maps service errors onto HTTP. Ceremony verification
// failures look exactly like a missing resource.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound), errors.Is(err, common.ErrVerification):
		s.logger.Debug(r.Context(), "not found", "path", r.URL.Path, "error", err)
		respondErrorWithCode(w, http.StatusNotFound, codeNotFound, "not found")
	case errors.Is(err, common.ErrInvalidSession):
		respondErrorWithCode(w, http.StatusUnauthorized, codeInvalidSession, "invalid session")
	case errors.Is(err, common.ErrBadRequest):
		respondErrorWithCode(w, http.StatusBadRequest, codeBadRequest, err.Error())
	default:
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		msg := "internal error"
		if s.opts.Debug {
			msg = err.Error()
		}
		respondErrorWithCode(w, http.StatusInternalServerError, codeInternal, msg)
	}
}

// decodeJSON reads a JSON body into dst and validates it.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes)).Decode(dst); err != nil {
		respondErrorWithCode(w, http.StatusBadRequest, codeBadRequest, "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		respondErrorWithCode(w, http.StatusBadRequest, codeValidation, err.Error())
		return false
	}
	return true
}
