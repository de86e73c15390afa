// (C) 2025 GoodData Corporation
package server

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

// Server binds an Engine to a listening fasthttp server.
type Server struct {
	engine *Engine
	http   *fasthttp.Server
}

// NewServer wraps the engine in a fasthttp server.
func NewServer(engine *Engine) *Server {
	return &Server{
		engine: engine,
		http: &fasthttp.Server{
			Handler:            engine.Handle,
			Name:               "mockpilot",
			CloseOnShutdown:    true,
			ReadBufferSize:     16 * 1024,
			MaxRequestBodySize: 64 * 1024 * 1024,
		},
	}
}

// ListenAndServe blocks until the server stops. A bind failure is fatal to
// startup and returned to the caller.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.engine.port)
	log.WithFields(log.Fields{
		"addr": addr, "mode": s.engine.Mode(),
	}).Info("listening")
	return s.http.ListenAndServe(addr)
}

// Shutdown waits for in-flight requests to complete, then closes the
// engine's storage handle.
func (s *Server) Shutdown() error {
	if err := s.http.Shutdown(); err != nil {
		s.engine.Close()
		return err
	}
	return s.engine.Close()
}
