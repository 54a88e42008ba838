package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"iptvmerge/internal/storage"
)

// Server serves the run history API.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	done       chan struct{}
}

// NewServer creates a server for the history API on port. An empty or "0"
// port picks a free one, which Addr reports after Start.
func NewServer(port string, store storage.Storer, trigger Trigger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + port,
			Handler:           NewRouter(store, trigger),
			ReadHeaderTimeout: 10 * time.Second,
		},
		done: make(chan struct{}),
	}
}

// Start binds the listening socket and serves in a new goroutine. Bind
// errors are returned; later serve errors are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln
	log.Printf("history API listening on %s", ln.Addr())
	go func() {
		defer close(s.done)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("history API stopped: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("shutting down history API...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	if s.listener != nil {
		<-s.done
	}
	return nil
}
