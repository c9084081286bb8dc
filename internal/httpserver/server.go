// Package httpserver runs the optional HTTP surface of both commands.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"crosscount/internal/logging"
	"crosscount/internal/middleware"
)

// ShutdownTimeout bounds the graceful shutdown of open connections
const ShutdownTimeout = 5 * time.Second

// Server is an HTTP server with a health endpoint and request logging
type Server struct {
	mux    *http.ServeMux
	srv    *http.Server
	ln     net.Listener
	logger *logrus.Entry
	parent logrus.FieldLogger
}

// New creates a server. /healthz is always mounted.
func New(addr string, logger logrus.FieldLogger) *Server {
	s := &Server{
		mux:    http.NewServeMux(),
		logger: logging.Component(logger, "HTTPServer"),
		parent: logger,
	}
	s.srv = &http.Server{Addr: addr, ReadHeaderTimeout: 10 * time.Second}
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	return s
}

// Handle mounts h on a ServeMux pattern such as "GET /preview/{name}"
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
	s.logger.Debugf("HTTP mounted on %s", pattern)
}

// Addr returns the listening address once Start has returned
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.srv.Addr
	}
	return s.ln.Addr().String()
}

// Start listens and serves in the background. The server shuts down when
// ctx is done; wg is released once it has. Serve errors go to errc.
func (s *Server) Start(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.srv.Addr, err)
	}
	s.ln = ln
	s.srv.Handler = middleware.Chain(s.mux, middleware.RequestID(), middleware.Log(s.parent))

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			s.logger.Infof("HTTP server listening on %q", s.Addr())
			if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()

		<-ctx.Done()
		s.logger.Infof("Shutting down HTTP server at %q", s.Addr())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warnf("Failed to shutdown: %v", err)
			s.srv.Close()
		}
	}()
	return nil
}
