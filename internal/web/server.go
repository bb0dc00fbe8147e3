// Package web provides an HTTP status server for the homectl daemon.
package web

import (
	"context"
	"net"
	"net/http"

	"github.com/sweeney/homectl/internal/status"
)

// Source supplies the state shown by the server. *status.Tracker is one.
type Source interface {
	Snapshot() status.Snapshot
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	src        Source
}

// New creates a Server that reads state from src.
func New(addr string, src Source) *Server {
	s := &Server{src: src}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/scheduler.json", s.handleScheduler)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.src.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, status.FormatJSON)
}

func (s *Server) handleScheduler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, status.FormatSchedulerJSON)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, format func(status.Snapshot) []byte) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(format(s.src.Snapshot()))
}
