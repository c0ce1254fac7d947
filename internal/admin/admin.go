// Package admin runs a small separate HTTP/1.1 listener for operational
// endpoints that have no business sharing the hand-rolled HTTP/1.0
// listener the core server speaks: Go's runtime profiler and a Prometheus
// scrape target. It is intentionally a distinct net/http server on its own
// port, built with gorilla/mux the way the rest of this codebase's sibling
// projects route their debug surfaces.
package admin

import (
	"context"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server is the admin HTTP/1.1 listener. A zero Addr or ":0" means the
// caller disabled it entirely (Start becomes a no-op).
type Server struct {
	addr   string
	log    *zap.Logger
	srv    *http.Server
	reg    *prometheus.Registry
}

// New builds an admin Server bound to addr, exposing /debug/pprof/* and
// /metrics in Prometheus text format against reg.
func New(addr string, reg *prometheus.Registry, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	r := mux.NewRouter()
	r.HandleFunc("/debug/pprof/", pprof.Index)
	r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	return &Server{
		addr: addr,
		log:  log,
		reg:  reg,
		srv:  &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second},
	}
}

// Start runs the listener in a background goroutine. A disabled server
// (empty or ":0" addr) returns immediately without binding a socket.
func (s *Server) Start() {
	if s.addr == "" || s.addr == ":0" {
		s.log.Info("admin server disabled")
		return
	}
	go func() {
		s.log.Info("admin server listening", zap.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("admin server stopped", zap.Error(err))
		}
	}()
}

// Shutdown gracefully stops the admin listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.addr == "" || s.addr == ":0" {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
