package health

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"
)

// Server serves a HealthChecker's aggregate report over HTTP.
type Server struct {
	checker *HealthChecker
	addr    string
	server  *http.Server
}

// NewServer builds a health HTTP server bound to addr (e.g. ":8090").
func NewServer(checker *HealthChecker, addr string) *Server {
	return &Server{checker: checker, addr: addr}
}

// Start begins serving in the background. It returns once the listener is
// bound; errors from Serve are not surfaced past construction, matching
// the pattern used for the metrics server.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/healthz/live", s.handleLiveness)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	go func() {
		_ = s.server.Serve(ln)
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.checker.GetSystemHealth(r.Context())

	w.Header().Set("Content-Type", "application/json")
	switch report.Status {
	case StatusUnhealthy:
		w.WriteHeader(http.StatusServiceUnavailable)
	default:
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(report)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
