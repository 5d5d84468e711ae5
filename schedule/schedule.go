// Package schedule provides the trigger discipline shared by the offline
// queue and the analytics recorder.
//
// Both components run their sync pass under the same three triggers: a
// coarse periodic tick, an edge signal when connectivity is restored, and
// an opportunistic kick issued right after a new record is persisted. A
// single-flight Gate keeps overlapping passes from running; a trigger that
// fires while a pass is in flight is simply dropped, since the running
// pass already covers the work.
package schedule

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Gate is a single-flight latch. The zero value is ready to use.
type Gate struct {
	running atomic.Bool
}

// TryAcquire claims the gate. Returns false when a pass is already
// running.
func (g *Gate) TryAcquire() bool {
	return g.running.CompareAndSwap(false, true)
}

// Release clears the gate.
func (g *Gate) Release() {
	g.running.Store(false)
}

// Busy reports whether a pass currently holds the gate.
func (g *Gate) Busy() bool {
	return g.running.Load()
}

// Trigger drives a sync function from the three scheduling sources.
type Trigger struct {
	name     string
	interval time.Duration
	restored <-chan struct{}
	fn       func(context.Context)
	logger   *logrus.Entry

	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Trigger that invokes fn on every tick of interval, on
// every signal from restored, and on every Kick. restored may be nil.
//
// fn is responsible for its own eligibility checks and single-flight
// guarding; the trigger only decides when to call it.
func New(name string, interval time.Duration, restored <-chan struct{}, fn func(context.Context), logger *logrus.Logger) *Trigger {
	if logger == nil {
		logger = logrus.New()
	}
	return &Trigger{
		name:     name,
		interval: interval,
		restored: restored,
		fn:       fn,
		logger:   logger.WithField("component", "schedule").WithField("trigger", name),
		kick:     make(chan struct{}, 1),
	}
}

// Start launches the trigger loop. Stop must be called to release it.
func (t *Trigger) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	t.wg.Add(1)
	go t.run(ctx)
}

// Stop shuts the loop down. A pass already in flight runs to completion.
func (t *Trigger) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}

// Kick requests a pass outside the normal cadence, typically right after a
// new record was persisted while online. Non-blocking; redundant kicks
// collapse into one.
func (t *Trigger) Kick() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

func (t *Trigger) run(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.fn(ctx)
		case <-t.kick:
			t.fn(ctx)
		case _, ok := <-t.restored:
			if !ok {
				t.restored = nil
				continue
			}
			t.logger.Debug("connectivity restored, running pass")
			t.fn(ctx)
		}
	}
}
