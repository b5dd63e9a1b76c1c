// Package health serves the admin endpoint runnerctl exposes while a
// command runs: /healthz with build information and /metrics for
// Prometheus scraping.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/terrpan/runnerctl/internal/buildinfo"
)

// Response represents the health check response body.
type Response struct {
	Status       string    `json:"status"`
	ServiceName  string    `json:"service_name"`
	Version      string    `json:"version"`
	Commit       string    `json:"commit"`
	BuildTime    string    `json:"build_time"`
	GoVersion    string    `json:"go_version"`
	OS           string    `json:"os"`
	Architecture string    `json:"architecture"`
	Repository   string    `json:"repository"`
	Label        string    `json:"label,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Handler responds to liveness checks with build info and the runner
// this process manages.  It is always "healthy" (200 OK).
func Handler(repository, label string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		response := Response{
			Status:       "healthy",
			ServiceName:  "runnerctl",
			Version:      buildinfo.Version,
			Commit:       buildinfo.Commit,
			BuildTime:    buildinfo.BuildTime,
			GoVersion:    runtime.Version(),
			OS:           runtime.GOOS,
			Architecture: runtime.GOARCH,
			Repository:   repository,
			Label:        label,
			Timestamp:    time.Now().UTC(),
		}

		_ = json.NewEncoder(w).Encode(response)
	}
}

// NewMux returns the admin routes.
func NewMux(repository, label string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/healthz", Handler(repository, label))
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Server runs the admin endpoint in the background.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *slog.Logger
	done   chan error
}

// Start listens on port (0 picks a free one) and serves handler until
// Shutdown is called.
func Start(port int, handler http.Handler, logger *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("admin listener on port %d: %w", port, err)
	}

	s := &Server{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:     ln,
		logger: logger,
		done:   make(chan error, 1),
	}

	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()

	logger.Info("admin endpoint listening", slog.String("addr", ln.Addr().String()))
	return s, nil
}

// Port returns the port the server is listening on.
func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Shutdown stops the server and waits for the serve loop to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin shutdown: %w", err)
	}
	if err := <-s.done; err != nil {
		s.logger.Error("admin endpoint stopped with error", slog.String("error", err.Error()))
		return err
	}
	return nil
}
