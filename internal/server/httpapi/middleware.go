package httpapi

import (
	"context"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/fredemmott/TempFiles/internal/common"
	"github.com/fredemmott/TempFiles/internal/server/models"
	"github.com/fredemmott/TempFiles/internal/server/services"
)

type ctxKey string

const sessionKey ctxKey = "session"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info(r.Context(), "request",
			"method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

// bearerToken returns the secret from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func isFormEncoded(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/x-www-form-urlencoded"
}

// presentedSecret finds the session secret in the header or, for
// form-encoded bodies, in the "session" field.
func presentedSecret(r *http.Request) string {
	if t := bearerToken(r); t != "" {
		return t
	}
	if isFormEncoded(r) {
		return r.PostFormValue("session")
	}
	return ""
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := presentedSecret(r)
		if secret == "" {
			s.respondError(w, r, common.ErrInvalidSession)
			return
		}
		session, err := s.sessions.Validate(secret)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		session.Secret = secret
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, session)))
	})
}

func sessionFrom(ctx context.Context) *models.Session {
	s, _ := ctx.Value(sessionKey).(*models.Session)
	return s
}

func ownerOf(s *models.Session) services.Owner {
	return services.Owner{UserID: s.UserID, CredentialID: s.CredentialID}
}
