package reconcile_test

import (
	"crypto/rand"
	"crypto/rsa"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmcleod/ironcert/pki"
	"github.com/jmcleod/ironcert/reconcile"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var (
	keysOnce sync.Once
	poolKeys [3]*rsa.PrivateKey
)

// poolBackend returns pre-generated keys for default-sized requests.
type poolBackend struct {
	*pki.SoftwareBackend
	next atomic.Int32
}

func (b *poolBackend) GenerateKey(bits, exponent int) (*rsa.PrivateKey, error) {
	if bits != pki.DefaultKeyBits || exponent != pki.DefaultPublicExponent {
		return b.SoftwareBackend.GenerateKey(bits, exponent)
	}
	keysOnce.Do(func() {
		for i := range poolKeys {
			k, err := rsa.GenerateKey(rand.Reader, pki.DefaultKeyBits)
			if err != nil {
				panic(err)
			}
			poolKeys[i] = k
		}
	})
	return poolKeys[int(b.next.Add(1)-1)%len(poolKeys)], nil
}

func newReconciler(opts ...reconcile.Option) *reconcile.Reconciler {
	base := []reconcile.Option{
		reconcile.WithBackend(&poolBackend{SoftwareBackend: pki.NewSoftwareBackend()}),
		reconcile.WithClock(func() time.Time { return fixedNow }),
		reconcile.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return reconcile.New(append(base, opts...)...)
}

func ptr[T any](v T) *T { return &v }
