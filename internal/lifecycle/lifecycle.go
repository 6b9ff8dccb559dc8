// Package lifecycle handles interrupts for a merge run. The first SIGINT or
// SIGTERM stops new merges from starting and gives running ones time to
// finish; a second signal, or the drain timeout, cancels them.
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Config holds configuration for the lifecycle manager.
type Config struct {
	// DrainTimeout is how long running merges may continue after the first
	// interrupt. Default: 10 minutes
	DrainTimeout time.Duration
}

// DefaultConfig returns the default lifecycle configuration.
func DefaultConfig() Config {
	return Config{DrainTimeout: 10 * time.Minute}
}

// Manager coordinates interrupts, in-flight merge tracking and cleanup.
type Manager struct {
	drainTimeout time.Duration
	logger       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	drainCh   chan struct{}
	drainOnce sync.Once
	draining  int32
	inFlight  int64
	reason    atomic.Value

	closers   []io.Closer
	closersMu sync.Mutex

	sigCh    chan os.Signal
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewManager creates a lifecycle manager whose context derives from parent.
func NewManager(parent context.Context, cfg Config, logger zerolog.Logger) *Manager {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultConfig().DrainTimeout
	}
	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		drainTimeout: cfg.DrainTimeout,
		logger:       logger.With().Str("component", "lifecycle").Logger(),
		ctx:          ctx,
		cancel:       cancel,
		drainCh:      make(chan struct{}),
		stopCh:       make(chan struct{}),
	}
}

// Context is cancelled on a second interrupt, when the drain timeout
// expires, or on Close. Running merges use it.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Draining is closed when the first interrupt arrives. The runner stops
// scheduling groups once it is closed.
func (m *Manager) Draining() <-chan struct{} {
	return m.drainCh
}

// Interrupted reports whether a drain has begun.
func (m *Manager) Interrupted() bool {
	return atomic.LoadInt32(&m.draining) == 1
}

// Reason returns why the drain started, or "".
func (m *Manager) Reason() string {
	if v, ok := m.reason.Load().(string); ok {
		return v
	}
	return ""
}

// ListenForSignals installs the SIGINT and SIGTERM handler. It returns
// immediately; the handler runs until Close.
func (m *Manager) ListenForSignals() {
	m.sigCh = make(chan os.Signal, 2)
	signal.Notify(m.sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for {
			select {
			case sig := <-m.sigCh:
				if !m.Interrupted() {
					m.Drain(fmt.Sprintf("received signal: %v", sig))
					continue
				}
				m.logger.Warn().Str("signal", sig.String()).Msg("second interrupt, cancelling running merges")
				m.cancel()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Drain stops new work and, after the drain timeout, cancels running work.
// Only the first call has an effect.
func (m *Manager) Drain(reason string) {
	m.drainOnce.Do(func() {
		m.reason.Store(reason)
		atomic.StoreInt32(&m.draining, 1)
		close(m.drainCh)

		m.logger.Warn().
			Str("reason", reason).
			Int64("in_flight", m.InFlight()).
			Dur("drain_timeout", m.drainTimeout).
			Msg("stopping: no new merges will start")

		go func() {
			if err := m.drainInFlight(); err != nil {
				m.logger.Error().Err(err).Msg("drain timed out, cancelling running merges")
				m.cancel()
			}
		}()
	})
}

// drainInFlight waits for all in-flight merges to complete.
func (m *Manager) drainInFlight() error {
	drainCtx, cancel := context.WithTimeout(m.ctx, m.drainTimeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if atomic.LoadInt64(&m.inFlight) == 0 {
			return nil
		}

		select {
		case <-drainCtx.Done():
			remaining := atomic.LoadInt64(&m.inFlight)
			if remaining > 0 && m.ctx.Err() == nil {
				return fmt.Errorf("timeout waiting for %d in-flight merges", remaining)
			}
			return nil
		case <-ticker.C:
		}
	}
}

// Track registers a merge about to start. It returns false once a drain has
// begun, and the merge must not start.
func (m *Manager) Track() bool {
	if m.Interrupted() {
		return false
	}
	atomic.AddInt64(&m.inFlight, 1)
	return true
}

// Untrack marks a tracked merge as finished.
func (m *Manager) Untrack() {
	atomic.AddInt64(&m.inFlight, -1)
}

// InFlight returns the number of running merges.
func (m *Manager) InFlight() int64 {
	return atomic.LoadInt64(&m.inFlight)
}

// RegisterCloser adds a closer to be called by Close.
// Closers are called in reverse order of registration (LIFO).
func (m *Manager) RegisterCloser(closer io.Closer) {
	m.closersMu.Lock()
	defer m.closersMu.Unlock()
	m.closers = append(m.closers, closer)
}

// Close stops signal handling, cancels the context and closes every
// registered closer. It returns the first close error.
func (m *Manager) Close() error {
	var firstErr error
	m.stopOnce.Do(func() {
		if m.sigCh != nil {
			signal.Stop(m.sigCh)
		}
		close(m.stopCh)
		m.cancel()

		m.closersMu.Lock()
		closers := m.closers
		m.closers = nil
		m.closersMu.Unlock()

		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("close failed: %w", err)
			}
		}
	})
	return firstErr
}

// CloserFunc is an adapter to allow ordinary functions to be used as io.Closer.
type CloserFunc func() error

// Close calls the underlying function.
func (f CloserFunc) Close() error {
	return f()
}
