package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server serves /metrics and /health on its own port, independent of
// the main API server, so scraping never competes with request
// traffic for a listener.
type Server struct {
	server *http.Server
	log    *logrus.Logger
}

// NewServer builds a Server bound to ":"+port. It does not start
// listening until StartAsync is called.
func NewServer(port string, log *logrus.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{Addr: ":" + port, Handler: mux},
		log:    log,
	}
}

// StartAsync starts the HTTP listener in its own goroutine. Any error
// other than a clean shutdown is logged, not returned, since nothing
// is waiting on this goroutine's result.
func (s *Server) StartAsync() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("metrics server stopped unexpectedly")
		}
	}()
}

// Stop gracefully shuts the server down, waiting for in-flight scrapes
// to finish until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
