package pki

import (
	"log/slog"
	"time"
)

// Option configures a KeyManager or CertificateManager.
type Option func(*managerOptions)

type managerOptions struct {
	backend Backend
	clock   func() time.Time
	logger  *slog.Logger
}

func newManagerOptions(opts []Option) managerOptions {
	o := managerOptions{
		backend: NewSoftwareBackend(),
		clock:   time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithBackend sets the cryptographic backend.
// Default: a SoftwareBackend reading from crypto/rand.
func WithBackend(b Backend) Option {
	return func(o *managerOptions) {
		if b != nil {
			o.backend = b
		}
	}
}

// WithClock overrides the time source used for validity windows.
func WithClock(clock func() time.Time) Option {
	return func(o *managerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
// Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *managerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
