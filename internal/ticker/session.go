package ticker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/efreitasn/papertrade/internal/metrics"
)

// ErrSessionStarted is returned by Run when the session has already run.
var ErrSessionStarted = errors.New("session_already_started")

// State is the lifecycle position of a Session.
type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateStreaming:
		return "STREAMING"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Sink delivers snapshots to a subscriber. A Send error means the
// subscriber is gone.
type Sink interface {
	Send(ctx context.Context, snap Snapshot) error
}

// Session streams snapshots for one symbol to one subscriber.
type Session struct {
	symbol   string
	registry *Registry
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	state atomic.Int32
}

// NewSession creates a session in the CONNECTING state.
func NewSession(registry *Registry, symbol string, interval time.Duration, logger *slog.Logger, m *metrics.Metrics) *Session {
	return &Session{
		symbol:   symbol,
		registry: registry,
		interval: interval,
		logger:   logger,
		metrics:  m,
	}
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Run streams until ctx is cancelled or the sink fails, then leaves the
// session DISCONNECTED. Both endings are normal and return nil. Run may be
// called once.
func (s *Session) Run(ctx context.Context, sink Sink) error {
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateStreaming)) {
		return ErrSessionStarted
	}
	s.metrics.SessionStarted()
	defer func() {
		s.state.Store(int32(StateDisconnected))
		s.metrics.SessionEnded()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		snap := s.registry.Tick(ctx, s.symbol)
		if ctx.Err() != nil {
			return nil
		}

		if err := sink.Send(ctx, snap); err != nil {
			s.logger.Debug("ticker subscriber gone",
				slog.String("symbol", s.symbol),
				slog.String("error", err.Error()),
			)
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
