package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"dreammotion/internal/service"
)

type Server struct {
	srv *http.Server
}

func NewServer(addr string, engine service.Engine, auth *Auth) *Server {
	mux := http.NewServeMux()
	h := NewHandler(engine, auth)
	h.Register(mux)

	return &Server{
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
			// Synchronous generation waits can run for minutes; the write
			// timeout has to outlive the provider polling ceiling.
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 16 * time.Minute,
			IdleTimeout:  120 * time.Second,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
