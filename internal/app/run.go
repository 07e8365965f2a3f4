package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-voice-backend/internal/server"
)

// Phase is a step of the Run lifecycle
type Phase int32

const (
	PhaseStarting Phase = iota
	PhaseServing
	PhaseShuttingDown
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseServing:
		return "serving"
	case PhaseShuttingDown:
		return "shutting_down"
	case PhaseStopped:
		return "stopped"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// BindError is returned when the listen address is invalid or cannot be bound
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind %q: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// ServeError is returned when the HTTP server fails while serving
type ServeError struct {
	Err error
}

func (e *ServeError) Error() string {
	return fmt.Sprintf("http server failed: %v", e.Err)
}

func (e *ServeError) Unwrap() error { return e.Err }

// RouteFactory binds a route table to the shared state
type RouteFactory func(*State) server.RouteProvider

// Server timeouts. WriteTimeout is left unset so WebSocket sessions are not
// cut off.
const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second
)

// Run binds http_addr, activates the call-record manager when configured and
// serves until the root token is cancelled or the server fails. In-flight
// requests are not drained on cancellation. Whatever the outcome, the root
// token is cancelled before Run returns.
func Run(s *State, routes ...RouteFactory) error {
	s.setPhase(PhaseStarting)
	defer s.setPhase(PhaseStopped)

	addr := s.config.HTTPAddr
	ap, err := netip.ParseAddrPort(addr)
	if err != nil {
		return &BindError{Addr: addr, Err: err}
	}

	ln, err := net.Listen("tcp", ap.String())
	if err != nil {
		return &BindError{Addr: addr, Err: err}
	}

	s.ActivateCallRecord()

	providers := make([]server.RouteProvider, 0, len(routes))
	for _, r := range routes {
		providers = append(providers, r(s))
	}
	router := server.NewRouter(s.logger, providers...)

	ctx := s.token.Context()
	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	s.setPhase(PhaseServing)
	s.logger.Info("HTTP server listening", zap.String("address", ln.Addr().String()))

	var result error
	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
			result = &ServeError{Err: err}
		}
	case <-s.token.Done():
		s.logger.Info("Cancellation requested, stopping HTTP server")
		_ = srv.Close()
	}

	s.setPhase(PhaseShuttingDown)
	s.token.Cancel()
	s.logger.Info("Server stopped")
	return result
}
