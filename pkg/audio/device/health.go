// ABOUTME: Fatal error reporting shared by the device streams
// ABOUTME: Latches the first failure and watches callbacks for stalls
package device

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/lanrelay/pkg/audio"
)

// stallTimeout is how long a started hardware stream may go without a
// callback before it is reported as failed.
const stallTimeout = 2 * time.Second

// health latches the first fatal error of a stream for Done. Failures
// reported once the stream is closing are dropped.
type health struct {
	errs    chan error
	once    sync.Once
	closing atomic.Bool
	beats   atomic.Uint64

	stop     chan struct{}
	stopOnce sync.Once
}

func newHealth() *health {
	return &health{
		errs: make(chan error, 1),
		stop: make(chan struct{}),
	}
}

func (h *health) Done() <-chan error { return h.errs }

// beat records callback progress. It is safe on the real-time thread.
func (h *health) beat() { h.beats.Add(1) }

func (h *health) fail(err error) {
	if h.closing.Load() {
		return
	}
	h.once.Do(func() { h.errs <- err })
}

// watch fails the stream when a full timeout passes without a callback, or
// when check returns an error. It runs until close.
func (h *health) watch(timeout time.Duration, check func() error) {
	go func() {
		ticker := time.NewTicker(timeout)
		defer ticker.Stop()

		last := h.beats.Load()
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
			}

			if check != nil {
				if err := check(); err != nil {
					h.fail(err)
					return
				}
			}
			now := h.beats.Load()
			if now == last {
				h.fail(fmt.Errorf("%w: no callback for %s", audio.ErrStreamStalled, timeout))
				return
			}
			last = now
		}
	}()
}

// close stops the watchdog and suppresses later failures.
func (h *health) close() {
	h.closing.Store(true)
	h.stopOnce.Do(func() { close(h.stop) })
}
