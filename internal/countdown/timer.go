// Package countdown provides the exam countdown: a seconds-granularity timer
// with warning bands and an expiry callback that fires exactly once.
package countdown

import (
	"sync"
	"time"

	"github.com/JohnnyZhao2/LMS-sub002/internal/errors"
)

// ErrAlreadyRunning guards against duplicate Start calls, which would
// otherwise arm duplicate auto-submit triggers.
var ErrAlreadyRunning = errors.New(errors.CodeFailedPrecondition,
	errors.WithMessagef("countdown timer is already running"))

// Band classifies the remaining time for display purposes only.
type Band string

const (
	BandNone     Band = "NONE"
	BandWarning  Band = "WARNING"  // <= 300s
	BandCritical Band = "CRITICAL" // <= 60s
)

const (
	warningThreshold  = 300
	criticalThreshold = 60
)

// Ticker abstracts the tick source so tests can drive time manually.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// NewTickerFunc creates the tick source; d is always one second outside
// tests.
type NewTickerFunc func(d time.Duration) Ticker

// Timer counts down from a fixed number of seconds. Remaining decreases by
// one per tick and never goes negative. When it reaches zero the timer stops
// and invokes onExpire exactly once; Cancel before expiry stops ticking
// without firing onExpire.
type Timer struct {
	mu        sync.Mutex
	remaining int
	started   bool
	done      chan struct{}
	stopOnce  sync.Once
	newTicker NewTickerFunc
}

func New(durationSeconds int, opts ...TimerOption) *Timer {
	if durationSeconds < 0 {
		durationSeconds = 0
	}

	t := &Timer{
		remaining: durationSeconds,
		done:      make(chan struct{}),
		newTicker: func(d time.Duration) Ticker { return tickTicker{time.NewTicker(d)} },
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

type TimerOption func(*Timer)

func WithTickerFunc(f NewTickerFunc) TimerOption {
	return func(t *Timer) {
		t.newTicker = f
	}
}

// Remaining returns the seconds left on the timer.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.remaining
}

// CurrentBand classifies Remaining into a display band.
func (t *Timer) CurrentBand() Band {
	r := t.Remaining()
	switch {
	case r <= criticalThreshold:
		return BandCritical
	case r <= warningThreshold:
		return BandWarning
	default:
		return BandNone
	}
}

// Start begins ticking. onTick is invoked after every tick with the new
// remaining value; onExpire is invoked once when remaining reaches zero.
// Either callback may be nil. A second Start returns ErrAlreadyRunning.
func (t *Timer) Start(onTick func(remaining int), onExpire func()) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyRunning
	}
	t.started = true
	expired := t.remaining == 0
	t.mu.Unlock()

	// A zero-duration exam is already over; skip ticking entirely.
	if expired {
		go t.expire(onExpire)
		return nil
	}

	go t.run(onTick, onExpire)
	return nil
}

func (t *Timer) run(onTick func(int), onExpire func()) {
	ticker := t.newTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C():
			select {
			case <-t.done:
				return
			default:
			}

			t.mu.Lock()
			if t.remaining > 0 {
				t.remaining--
			}
			r := t.remaining
			t.mu.Unlock()

			if onTick != nil {
				onTick(r)
			}

			if r == 0 {
				t.expire(onExpire)
				return
			}
		}
	}
}

func (t *Timer) expire(onExpire func()) {
	// Stop ticking before firing so a racing Cancel cannot observe a live
	// timer after expiry.
	var fire bool
	t.stopOnce.Do(func() {
		close(t.done)
		fire = true
	})

	if fire && onExpire != nil {
		onExpire()
	}
}

// Cancel stops ticking without firing onExpire. Safe to call repeatedly and
// after expiry.
func (t *Timer) Cancel() {
	t.stopOnce.Do(func() {
		close(t.done)
	})
}

type tickTicker struct {
	t *time.Ticker
}

func (t tickTicker) C() <-chan time.Time { return t.t.C }
func (t tickTicker) Stop()               { t.t.Stop() }

