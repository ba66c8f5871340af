package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-taskchat/internal/auth"
	"github.com/npezzotti/go-taskchat/internal/config"
	"github.com/npezzotti/go-taskchat/internal/database"
	"github.com/npezzotti/go-taskchat/internal/server"
)

const defaultVerifyTimeout = 5 * time.Second

// PresenceReader is the configured presence store, read by the presence
// endpoint.
type PresenceReader interface {
	GetPresence(ctx context.Context, userId string) (database.Presence, error)
}

type TaskChatApp struct {
	log            *log.Logger
	db             database.TaskChatRepository
	srv            *http.Server
	cs             *server.ChatServer
	verifier       auth.Verifier
	access         server.AccessChecker
	presence       PresenceReader
	verifyTimeout  time.Duration
	allowedOrigins []string
	serviceKey     string
}

func NewTaskChatApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.TaskChatRepository,
	verifier auth.Verifier, access server.AccessChecker, presence PresenceReader, cfg *config.Config) *TaskChatApp {
	s := &TaskChatApp{
		log:            logger,
		db:             db,
		cs:             cs,
		verifier:       verifier,
		access:         access,
		presence:       presence,
		verifyTimeout:  cfg.VerifyTimeout,
		allowedOrigins: cfg.AllowedOrigins,
		serviceKey:     cfg.ServiceKey,
	}

	if s.verifyTimeout <= 0 {
		s.verifyTimeout = defaultVerifyTimeout
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("GET /ws", s.serveWs)
	mux.Handle("GET /api/tasks/{taskId}/messages", s.authMiddleware(s.getMessages))
	mux.Handle("GET /api/users/{userId}/presence", s.authMiddleware(s.getPresence))
	mux.Handle("POST /api/tasks/{taskId}/system-messages", s.serviceKeyMiddleware(s.createSystemMessage))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)
	h = handlers.CombinedLoggingHandler(logger.Writer(), h)

	s.srv = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *TaskChatApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *TaskChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *TaskChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
