package main

import (
	"context"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/npezzotti/go-taskchat/internal/access"
	"github.com/npezzotti/go-taskchat/internal/api"
	"github.com/npezzotti/go-taskchat/internal/auth"
	"github.com/npezzotti/go-taskchat/internal/config"
	"github.com/npezzotti/go-taskchat/internal/database"
	"github.com/npezzotti/go-taskchat/internal/presence"
	"github.com/npezzotti/go-taskchat/internal/server"
	"github.com/npezzotti/go-taskchat/internal/stats"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = strings.Split(value, ",")
	return nil
}

func main() {
	logger := log.New(os.Stderr, "[task-chat] ", log.LstdFlags)

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Fatal("config:", err)
	}

	allowedOrigins := stringSliceFlag(cfg.AllowedOrigins)
	flag.StringVar(&cfg.ServerAddr, "addr", cfg.ServerAddr, "server address")
	flag.StringVar(&cfg.DatabaseDSN, "dsn", cfg.DatabaseDSN, "database connection string")
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "base64 encoded secret used to sign access tokens")
	flag.StringVar(&cfg.IdentityURL, "identity-url", cfg.IdentityURL, "identity provider base URL, used instead of local JWT verification")
	flag.StringVar(&cfg.PresenceStore, "presence-store", cfg.PresenceStore, "where presence is persisted: postgres or redis")
	flag.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "redis URL for the redis presence store")
	flag.BoolVar(&cfg.Migrate, "migrate", cfg.Migrate, "apply database migrations on startup")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()
	cfg.AllowedOrigins = allowedOrigins

	if err := cfg.Validate(); err != nil {
		logger.Fatal("config:", err)
	}

	if cfg.Migrate {
		logger.Println("applying database migrations...")
		if err := database.Migrate(cfg.DatabaseDSN); err != nil {
			logger.Fatal("migrate:", err)
		}
	}

	dbConn, err := database.NewPgTaskChatRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	presenceStore, closeStore, err := newPresenceStore(cfg, dbConn)
	if err != nil {
		logger.Fatal("presence store:", err)
	}
	defer func() {
		if err := closeStore.Close(); err != nil {
			logger.Println("presence store close:", err)
		}
	}()

	tracker := presence.NewTracker(presenceStore, logger)
	go tracker.Run()

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	authorizer := access.NewAuthorizer(dbConn, logger)

	chatServer, err := server.NewChatServer(logger, dbConn, authorizer, tracker, statsUpdater)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}
	chatServer.SetOperationTimeout(cfg.OperationTimeout)

	srv := api.NewTaskChatApp(mux, logger, chatServer, dbConn, newVerifier(cfg), authorizer, presenceStore, cfg)

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	// presence writes queued by the chat server shutdown are flushed here
	tracker.Stop()

	logger.Println("shutdown complete")
}

func newVerifier(cfg *config.Config) auth.Verifier {
	if cfg.IdentityURL != "" {
		return auth.NewRemoteVerifier(cfg.IdentityURL, cfg.IdentityAPIKey, cfg.VerifyTimeout)
	}

	return auth.NewJWTVerifier(cfg.SigningKey, cfg.JWTAudience)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newPresenceStore returns the configured presence store. The closer must
// be called after the tracker has stopped.
func newPresenceStore(cfg *config.Config, db *database.PgTaskChatRepository) (presence.Store, io.Closer, error) {
	if cfg.PresenceStore == config.PresenceStoreRedis {
		store, err := presence.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	}

	// the repository is closed separately
	return db, nopCloser{}, nil
}
