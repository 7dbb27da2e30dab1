// Package httpapi exposes the ceremony, session and blob services over
// HTTP/JSON and multipart.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/fredemmott/TempFiles/internal/logging"
	"github.com/fredemmott/TempFiles/internal/server/models"
	"github.com/fredemmott/TempFiles/internal/server/services"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

type Ceremonies interface {
	StartRegistration(ctx context.Context, token string) (*services.RegistrationChallenge, error)
	FinishRegistration(ctx context.Context, challengeID, token string, response []byte) (*models.Credential, error)
	StartLogin(ctx context.Context) (*services.LoginChallenge, error)
	FinishLogin(ctx context.Context, challengeID string, response []byte) (*models.Session, error)
}

type Sessions interface {
	Validate(secret string) (*models.Session, error)
	Revoke(secret string) error
}

type Blobs interface {
	List(ctx context.Context, owner services.Owner) ([]*models.Blob, error)
	Upload(ctx context.Context, owner services.Owner, meta models.BlobMeta, staged *os.File) (*models.Blob, error)
	Download(ctx context.Context, owner services.Owner, id string) (io.ReadCloser, bool, error)
	Delete(ctx context.Context, owner services.Owner, id string) error
	DeleteAll(ctx context.Context, owner services.Owner) (int, error)
}

// Options tune the transport.
type Options struct {
	StagingDir     string
	MaxUploadBytes int64
	// PRFSalt is handed to clients at login start.
	PRFSalt     []byte
	CORSOrigins []string
	// Debug adds error details to 500 responses.
	Debug bool
}

const shutdownTimeout = 10 * time.Second

type Server struct {
	address    string
	ceremonies Ceremonies
	sessions   Sessions
	blobs      Blobs
	opts       Options
	validate   *validator.Validate
	handler    http.Handler
	logger     logging.Logger
}

func NewServer(address string, logger logging.Logger, c Ceremonies, s Sessions, b Blobs, opts Options) *Server {
	srv := &Server{
		address:    address,
		ceremonies: c,
		sessions:   s,
		blobs:      b,
		opts:       opts,
		validate:   validator.New(),
		logger:     logger.With("module", "http_server"),
	}
	srv.handler = srv.routes()
	return srv
}

func (s *Server) routes() http.Handler {
	router := mux.NewRouter()
	router.Use(s.accessLog)

	router.HandleFunc("/health", s.health).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/register/start", s.registerStart).Methods(http.MethodPost)
	api.HandleFunc("/register/finish", s.registerFinish).Methods(http.MethodPost)
	api.HandleFunc("/login/start", s.loginStart).Methods(http.MethodPost)
	api.HandleFunc("/login/finish", s.loginFinish).Methods(http.MethodPost)

	// multipart uploads may carry the session as a part, so they
	// authenticate inside the handler
	api.HandleFunc("/files/upload", s.upload).Methods(http.MethodPost)

	secured := api.NewRoute().Subrouter()
	secured.Use(s.requireSession)
	secured.HandleFunc("/logout", s.logout).Methods(http.MethodPost)
	secured.HandleFunc("/files/list", s.list).Methods(http.MethodPost)
	secured.HandleFunc("/files/download", s.download).Methods(http.MethodPost)
	secured.HandleFunc("/files/delete", s.delete).Methods(http.MethodPost)
	secured.HandleFunc("/files/delete_all", s.deleteAll).Methods(http.MethodPost)

	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{finalDownloadHeader},
	})
	return c.Handler(router)
}

// Handler returns the complete handler chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(context.Background(), "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(context.Background(), "shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
