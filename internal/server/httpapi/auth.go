package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fredemmott/TempFiles/internal/common"
)

const maxJSONBytes = 1 << 20

type registerStartRequest struct {
	Token string `json:"token" validate:"required"`
}

type registerStartResponse struct {
	ChallengeID string          `json:"challenge_id"`
	Challenge   json.RawMessage `json:"challenge"`
	UserUUID    string          `json:"user_uuid"`
	UserName    string          `json:"username"`
}

type registerFinishRequest struct {
	ChallengeID string          `json:"challenge_id" validate:"required,uuid"`
	Token       string          `json:"token" validate:"required"`
	Response    json.RawMessage `json:"response" validate:"required"`
}

type loginStartResponse struct {
	ChallengeID string          `json:"challenge_id"`
	Challenge   json.RawMessage `json:"challenge"`
	PRFSalt     string          `json:"prf_salt,omitempty"`
}

type loginFinishRequest struct {
	ChallengeID string          `json:"challenge_id" validate:"required,uuid"`
	Response    json.RawMessage `json:"response" validate:"required"`
}

type loginFinishResponse struct {
	Session   string `json:"session"`
	ExpiresAt int64  `json:"expires_at"`
}

func (s *Server) registerStart(w http.ResponseWriter, r *http.Request) {
	var req registerStartRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	ch, err := s.ceremonies.StartRegistration(r.Context(), req.Token)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, registerStartResponse{
		ChallengeID: ch.ChallengeID,
		Challenge:   ch.Challenge,
		UserUUID:    ch.UserUUID,
		UserName:    ch.UserName,
	})
}

func (s *Server) registerFinish(w http.ResponseWriter, r *http.Request) {
	var req registerFinishRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	if _, err := s.ceremonies.FinishRegistration(r.Context(), req.ChallengeID, req.Token, req.Response); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) loginStart(w http.ResponseWriter, r *http.Request) {
	ch, err := s.ceremonies.StartLogin(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	resp := loginStartResponse{ChallengeID: ch.ChallengeID, Challenge: ch.Challenge}
	if len(s.opts.PRFSalt) > 0 {
		resp.PRFSalt = common.EncodeToken(s.opts.PRFSalt)
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (s *Server) loginFinish(w http.ResponseWriter, r *http.Request) {
	var req loginFinishRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	session, err := s.ceremonies.FinishLogin(r.Context(), req.ChallengeID, req.Response)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, loginFinishResponse{
		Session:   session.Secret,
		ExpiresAt: session.ExpiresAt.Unix(),
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())
	if err := s.sessions.Revoke(session.Secret); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// unix converts an optional timestamp for JSON.
func unix(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := t.Unix()
	return &v
}
