package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/freelancehub/convo/internal/bus"
	"github.com/freelancehub/convo/internal/directory"
	"github.com/freelancehub/convo/internal/profile"
	"github.com/freelancehub/convo/internal/store"
	"github.com/freelancehub/convo/internal/stream"
	"github.com/freelancehub/convo/internal/typing"
)

// Server is the HTTP/WebSocket front of the daemon.
type Server struct {
	listen string
	auth   *Auth
	db     *store.DB
	bus    *bus.Bus
	dir    *directory.Service
	stream   *stream.Service
	typing   typing.Publisher
	profiles *profile.Client
	logger   *zap.Logger

	httpServer *http.Server
	ln         net.Listener
}

// NewServer wires the gateway.
func NewServer(listen string, auth *Auth, db *store.DB, b *bus.Bus, dir *directory.Service,
	st *stream.Service, tp typing.Publisher, pc *profile.Client, logger *zap.Logger) *Server {
	return &Server{
		listen:   listen,
		auth:     auth,
		db:       db,
		bus:      b,
		dir:      dir,
		stream:   st,
		typing:   tp,
		profiles: pc,
		logger:   logger,
	}
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.auth.Middleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/conversations", s.handleListConversations)
		r.Post("/conversations", s.handleGetOrCreateConversation)
		r.Route("/conversations/{conversationID}", func(r chi.Router) {
			r.Get("/messages", s.handleListMessages)
			r.Post("/read", s.handleMarkRead)
			r.Post("/delivered", s.handleMarkDelivered)
			r.Post("/typing", s.handleTyping)
		})
		r.Post("/messages", s.handleSend)
		r.Get("/profiles/{userID}", s.handleGetProfile)
	})
	r.Get("/ws", s.handleWS)

	return r
}

// Start binds the listener and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}
	s.ln = ln
	s.httpServer = &http.Server{
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("gateway listening", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway serve failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound listen address, valid after Start. Useful when the
// configured address uses port 0.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.listen
	}
	return s.ln.Addr().String()
}

// Stop shuts the server down, draining in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
