// ABOUTME: Server assembly and lifecycle for duplexd
// ABOUTME: Wires store, services and HTTP routes, and runs with graceful shutdown

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/duplexchat/duplex/internal/auth"
	"github.com/duplexchat/duplex/internal/config"
	"github.com/duplexchat/duplex/internal/httpapi"
	"github.com/duplexchat/duplex/internal/message"
	"github.com/duplexchat/duplex/internal/readstate"
	"github.com/duplexchat/duplex/internal/store"
	"github.com/duplexchat/duplex/internal/thread"
)

const shutdownTimeout = 5 * time.Second

// Server owns the assembled service stack and its HTTP front.
type Server struct {
	config  *config.Config
	logger  *slog.Logger
	store   *store.SQLiteStore
	httpSrv *http.Server
}

// New assembles a server from configuration: opens the store, builds the
// domain services and mounts the API behind JWT auth.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	api := httpapi.New(
		thread.NewRegistry(st, st, logger),
		message.NewService(st, logger),
		readstate.NewTracker(st, logger),
		st,
		logger,
	)

	return &Server{
		config: cfg,
		logger: logger.With("component", "server"),
		store:  st,
		httpSrv: &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           api.Handler(auth.Middleware(st, verifier)),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Handler exposes the route tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run serves HTTP until the context is canceled, then shuts down
// gracefully and closes the store.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpSrv.Addr, err)
	}
	s.logger.Info("http server listening", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")

		// Fresh context: the run context is already canceled.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()
	if closeErr := s.store.Close(); closeErr != nil {
		s.logger.Error("closing store", "error", closeErr)
	}
	return runErr
}
