// Package lifecycle handles interrupts and orderly release of run-wide
// resources.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ExitInterrupted is the exit status after a second interrupt
// (128 + SIGINT).
const ExitInterrupted = 130

// Interruptor turns SIGINT and SIGTERM into context cancellation. The first
// signal cancels the context so the import stops between records; the
// second exits the process immediately.
type Interruptor struct {
	mu     sync.Mutex
	count  int
	cancel context.CancelFunc
	exit   func(code int)
	logger *slog.Logger

	sigs chan os.Signal
	stop chan struct{}
	once sync.Once
}

// WithInterrupt returns a context canceled by the first interrupt signal.
// Call Stop to release the signal handler.
func WithInterrupt(parent context.Context, logger *slog.Logger) (context.Context, *Interruptor) {
	ctx, cancel := context.WithCancel(parent)
	i := newInterruptor(cancel, os.Exit, logger)

	signal.Notify(i.sigs, syscall.SIGINT, syscall.SIGTERM)
	go i.loop()
	return ctx, i
}

func newInterruptor(cancel context.CancelFunc, exit func(int), logger *slog.Logger) *Interruptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interruptor{
		cancel: cancel,
		exit:   exit,
		logger: logger,
		sigs:   make(chan os.Signal, 2),
		stop:   make(chan struct{}),
	}
}

func (i *Interruptor) loop() {
	for {
		select {
		case sig := <-i.sigs:
			i.interrupt(sig)
		case <-i.stop:
			return
		}
	}
}

// interrupt handles one signal.
func (i *Interruptor) interrupt(sig os.Signal) {
	i.mu.Lock()
	i.count++
	n := i.count
	i.mu.Unlock()

	if n == 1 {
		i.logger.Warn("interrupted; finishing the current record (interrupt again to exit now)",
			"signal", sig.String())
		i.cancel()
		return
	}
	i.logger.Error("interrupted twice; exiting", "signal", sig.String())
	i.exit(ExitInterrupted)
}

// Interrupted reports whether at least one signal arrived.
func (i *Interruptor) Interrupted() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.count > 0
}

// Stop unregisters the signal handler and releases the context.
func (i *Interruptor) Stop() {
	i.once.Do(func() {
		signal.Stop(i.sigs)
		close(i.stop)
		i.cancel()
	})
}

// Closer interface for services that need cleanup.
type Closer interface {
	Close() error
}

// CloserFunc adapts a function to Closer.
type CloserFunc func() error

// Close calls f.
func (f CloserFunc) Close() error { return f() }

// ShutdownManager closes registered resources in reverse registration
// order when the run ends.
type ShutdownManager struct {
	mu sync.Mutex

	drainTimeout time.Duration
	closers      []namedCloser
	done         bool
}

type namedCloser struct {
	name string
	c    Closer
}

// ShutdownConfig configures the shutdown manager.
type ShutdownConfig struct {
	// DrainTimeout bounds how long Shutdown waits for closers.
	DrainTimeout time.Duration
}

// DefaultShutdownConfig returns sensible defaults.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{DrainTimeout: 30 * time.Second}
}

// NewShutdownManager creates a new shutdown manager.
func NewShutdownManager(cfg ShutdownConfig) *ShutdownManager {
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	return &ShutdownManager{drainTimeout: cfg.DrainTimeout}
}

// RegisterCloser adds a resource to be closed during shutdown.
func (m *ShutdownManager) RegisterCloser(name string, c Closer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closers = append(m.closers, namedCloser{name: name, c: c})
}

// Shutdown closes every registered resource, last registered first. It
// returns the joined close errors, or a timeout error if the closers do
// not finish within the drain timeout. Later calls are no-ops.
func (m *ShutdownManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return nil
	}
	m.done = true
	closers := m.closers
	m.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", closers[i].name, err))
			}
		}
		errCh <- errors.Join(errs...)
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(m.drainTimeout):
		return fmt.Errorf("shutdown timeout after %s", m.drainTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
