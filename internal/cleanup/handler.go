// Package cleanup provides graceful shutdown and child process management
// for the long-running modes (spool archiver, WAL streamer, scheduled
// backups).
package cleanup

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"walvault/internal/logger"
)

// CleanupFunc is a function that performs cleanup with a timeout context
type CleanupFunc func(ctx context.Context) error

// Handler manages graceful shutdown and resource cleanup
type Handler struct {
	ctx    context.Context
	cancel context.CancelFunc

	cleanupFns []cleanupEntry
	mu         sync.Mutex

	shutdownTimeout time.Duration
	log             logger.Logger

	shutdownOnce sync.Once
	shutdownDone chan struct{}
}

type cleanupEntry struct {
	name string
	fn   CleanupFunc
}

// NewHandler creates a shutdown handler
func NewHandler(log logger.Logger) *Handler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Handler{
		ctx:             ctx,
		cancel:          cancel,
		cleanupFns:      make([]cleanupEntry, 0),
		shutdownTimeout: 30 * time.Second,
		log:             log,
		shutdownDone:    make(chan struct{}),
	}
}

// Context returns the shutdown context
func (h *Handler) Context() context.Context {
	return h.ctx
}

// RegisterCleanup adds a named cleanup function
func (h *Handler) RegisterCleanup(name string, fn CleanupFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleanupFns = append(h.cleanupFns, cleanupEntry{name: name, fn: fn})
}

// SetShutdownTimeout sets the maximum time to wait for cleanup
func (h *Handler) SetShutdownTimeout(d time.Duration) {
	h.shutdownTimeout = d
}

// Shutdown triggers graceful shutdown
func (h *Handler) Shutdown() {
	h.shutdownOnce.Do(func() {
		h.log.Info("Initiating graceful shutdown...")

		// Cancel first so in-flight operations stop producing work
		h.cancel()
		h.runCleanup()

		close(h.shutdownDone)
	})
}

// ShutdownWithSignal triggers shutdown due to an OS signal
func (h *Handler) ShutdownWithSignal(sig os.Signal) {
	h.log.Info("Received signal, initiating graceful shutdown", "signal", sig.String())
	h.Shutdown()
}

// Wait blocks until shutdown is complete
func (h *Handler) Wait() {
	<-h.shutdownDone
}

// runCleanup executes all cleanup functions in LIFO order
func (h *Handler) runCleanup() {
	h.mu.Lock()
	fns := make([]cleanupEntry, len(h.cleanupFns))
	copy(fns, h.cleanupFns)
	h.mu.Unlock()

	if len(fns) == 0 {
		return
	}

	h.log.Debug("Running cleanup functions", "count", len(fns))

	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	var failed int
	for i := len(fns) - 1; i >= 0; i-- {
		entry := fns[i]
		if err := entry.fn(ctx); err != nil {
			h.log.Warn("Cleanup function failed", "name", entry.name, "error", err)
			failed++
		}
	}

	if failed > 0 {
		h.log.Warn("Some cleanup functions failed", "count", failed)
	} else {
		h.log.Debug("All cleanup functions completed")
	}
}

// RegisterSignalHandler sets up signal handling for graceful shutdown.
// A second signal forces exit.
func (h *Handler) RegisterSignalHandler() {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigChan
		h.ShutdownWithSignal(sig)

		sig = <-sigChan
		h.log.Warn("Received second signal, forcing exit", "signal", sig.String())
		os.Exit(1)
	}()
}

// CatalogCleanup creates a cleanup function that closes the backup catalog
func CatalogCleanup(log logger.Logger, closer func() error) CleanupFunc {
	return func(ctx context.Context) error {
		log.Debug("Closing catalog")
		return closer()
	}
}

// LockCleanup creates a cleanup function that releases a held lock
func LockCleanup(log logger.Logger, release func() error) CleanupFunc {
	return func(ctx context.Context) error {
		log.Debug("Releasing lock")
		return release()
	}
}
