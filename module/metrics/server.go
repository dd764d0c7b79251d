package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	metricsEndpoint = "/metrics"
	shutdownTimeout = 5 * time.Second
)

// Server exposes the harness registry to prometheus scrapers.
type Server struct {
	log      zerolog.Logger
	server   *http.Server
	listener net.Listener
	served   chan struct{}
}

// NewServer binds the metrics port so that a port clash is reported before
// the run starts. The pprof handlers are mounted when withProfiler is set.
func NewServer(log zerolog.Logger, port uint, gatherer prometheus.Gatherer, withProfiler bool) (*Server, error) {
	addr := ":" + strconv.Itoa(int(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not listen for metrics on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(metricsEndpoint, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog:      zerologAdapter{log},
		ErrorHandling: promhttp.ContinueOnError,
	}))
	if withProfiler {
		mux.Handle("/debug/pprof/", http.DefaultServeMux)
	}

	return &Server{
		log:      log.With().Str("component", "metrics_server").Str("address", listener.Addr().String()).Logger(),
		server:   &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		listener: listener,
		served:   make(chan struct{}),
	}, nil
}

// Addr is the bound address, useful when port 0 was requested.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Ready starts serving and closes once the listener accepts scrapes.
func (s *Server) Ready() <-chan struct{} {
	go func() {
		defer close(s.served)
		err := s.server.Serve(s.listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Err(err).Msg("metrics server stopped unexpectedly")
		}
	}()
	s.log.Info().Str("endpoint", metricsEndpoint).Msg("metrics server started")
	ready := make(chan struct{})
	close(ready)
	return ready
}

// Done shuts the server down and closes once in-flight scrapes completed.
func (s *Server) Done() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := s.server.Shutdown(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("metrics server shutdown incomplete")
		}
		<-s.served
	}()
	return done
}

// zerologAdapter routes promhttp handler errors to the harness log.
type zerologAdapter struct {
	log zerolog.Logger
}

func (a zerologAdapter) Println(v ...interface{}) {
	a.log.Error().Msg(fmt.Sprint(v...))
}
