// Package admin serves the HTTP endpoints that inspect and steer a running
// load test.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	metricsprom "github.com/slok/go-http-metrics/metrics/prometheus"
	httpmiddleware "github.com/slok/go-http-metrics/middleware"
	"github.com/slok/go-http-metrics/middleware/std"
	"go.uber.org/atomic"

	"github.com/buybotsolana/LAYER-2-COMPLETE/module/aggregator"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/component"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/irrecoverable"
)

const shutdownTimeout = 5 * time.Second

// StatusSource reports the live counters of the run.
type StatusSource interface {
	Status() aggregator.Status
}

// RateControl reads and changes the target rate of the generator.
type RateControl interface {
	TPS() float64
	SetTPS(tps float64) error
}

// AbortFunc cancels the run.
type AbortFunc func(reason string)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	aggregator.Status
	TargetTPS float64 `json:"target_tps"`
	Elapsed   string  `json:"elapsed"`
	Aborted   bool    `json:"aborted"`
}

// SetTPSRequest is the body of POST /tps.
type SetTPSRequest struct {
	TPS float64 `json:"tps" validate:"gt=0"`
}

// AbortRequest is the optional body of POST /abort.
type AbortRequest struct {
	Reason string `json:"reason" validate:"max=256"`
}

// Server is a component serving the admin endpoints:
//
//	GET  /status  live counters
//	POST /tps     set the target rate
//	POST /abort   cancel the run
type Server struct {
	*component.ComponentManager
	log       zerolog.Logger
	addr      string
	status    StatusSource
	rate      RateControl
	abort     AbortFunc
	startedAt time.Time
	validate  *validator.Validate
	handler   http.Handler
	aborted   *atomic.Bool

	mu       sync.RWMutex
	listener net.Listener
}

// NewServer creates the admin server listening on addr. Request metrics are
// registered with registerer when it is not nil.
func NewServer(
	log zerolog.Logger,
	addr string,
	status StatusSource,
	rate RateControl,
	abort AbortFunc,
	startedAt time.Time,
	registerer prometheus.Registerer,
) *Server {
	s := &Server{
		log:       log.With().Str("component", "admin_server").Str("address", addr).Logger(),
		addr:      addr,
		status:    status,
		rate:      rate,
		abort:     abort,
		startedAt: startedAt,
		validate:  validator.New(),
		aborted:   atomic.NewBool(false),
	}

	router := mux.NewRouter()
	if registerer != nil {
		recorder := metricsprom.NewRecorder(metricsprom.Config{
			Prefix:   "loadtest_admin",
			Registry: registerer,
		})
		router.Use(std.HandlerProvider("", httpmiddleware.New(httpmiddleware.Config{
			Recorder: recorder,
		})))
	}
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/tps", s.handleSetTPS).Methods(http.MethodPost)
	router.HandleFunc("/abort", s.handleAbort).Methods(http.MethodPost)
	s.handler = router

	s.ComponentManager = component.NewComponentManagerBuilder().
		AddWorker(s.serve).
		Build()
	return s
}

// Handler returns the router of the server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the address the server listens on once it is ready.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

func (s *Server) serve(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		ctx.Throw(fmt.Errorf("could not listen on %s: %w", s.addr, err))
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("listen", listener.Addr().String()).Msg("admin server started")
	ready()

	err = server.Serve(listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Err(err).Msg("admin server stopped unexpectedly")
		return
	}
	s.log.Debug().Msg("admin server shutdown")
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, StatusResponse{
		Status:    s.status.Status(),
		TargetTPS: s.rate.TPS(),
		Elapsed:   time.Since(s.startedAt).Truncate(time.Millisecond).String(),
		Aborted:   s.aborted.Load(),
	})
}

func (s *Server) handleSetTPS(w http.ResponseWriter, r *http.Request) {
	var req SetTPSRequest
	err := s.decode(r, &req, false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	prev := s.rate.TPS()
	err = s.rate.SetTPS(req.TPS)
	if err != nil {
		s.writeError(w, NewInvalidFieldError("tps", err.Error(), req.TPS))
		return
	}
	s.log.Info().Float64("tps", req.TPS).Float64("previous", prev).Msg("target tps changed by admin")
	s.writeJSON(w, http.StatusOK, map[string]float64{"tps": req.TPS, "previous": prev})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	var req AbortRequest
	err := s.decode(r, &req, true)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.Reason == "" {
		req.Reason = "aborted by admin"
	}
	if s.aborted.CompareAndSwap(false, true) {
		s.log.Warn().Str("reason", req.Reason).Msg("run aborted")
		s.abort(req.Reason)
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"reason": req.Reason})
}

// decode reads and validates a JSON body. An empty body is accepted only when
// optional is set.
func (s *Server) decode(r *http.Request, v interface{}, optional bool) error {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(v)
	if errors.Is(err, io.EOF) && optional {
		return nil
	}
	if err != nil {
		return ErrMalformedRequest
	}
	err = s.validate.Struct(v)
	if err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) && len(invalid) > 0 {
			field := invalid[0]
			return NewInvalidFieldError(strings.ToLower(field.Field()), "failed "+field.Tag()+" check", field.Value())
		}
		return NewBadRequestErrorf("invalid request: %v", err)
	}
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	if IsBadRequestError(err) {
		code = http.StatusBadRequest
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		s.log.Debug().Err(err).Msg("could not write response")
	}
}
