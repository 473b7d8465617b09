package reconcile

import (
	"log/slog"
	"time"

	"github.com/jmcleod/ironcert/archive"
	"github.com/jmcleod/ironcert/pki"
)

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithBackend sets the cryptographic backend for both managers.
func WithBackend(b pki.Backend) Option {
	return func(r *Reconciler) {
		r.pkiOpts = append(r.pkiOpts, pki.WithBackend(b))
	}
}

// WithClock overrides the time source used for validity windows.
// Default: time.Now.
func WithClock(clock func() time.Time) Option {
	return func(r *Reconciler) {
		if clock != nil {
			r.clock = clock
			r.pkiOpts = append(r.pkiOpts, pki.WithClock(clock))
		}
	}
}

// WithLogger sets the structured logger.
// Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithArchive stores the outcome of every successful run under namespace.
func WithArchive(a *archive.Archive, namespace string) Option {
	return func(r *Reconciler) {
		r.archive = a
		r.namespace = namespace
	}
}

// WithMetrics records every run in m under the target label.
func WithMetrics(m *Metrics, target string) Option {
	return func(r *Reconciler) {
		r.metrics = m
		r.target = target
	}
}
