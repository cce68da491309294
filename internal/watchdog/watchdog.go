// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package watchdog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/gateway"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

// DefaultWindow is the inactivity window.
const DefaultWindow = 120 * time.Second

// ErrTimeout is delivered when no delta arrived within the window.
var ErrTimeout = errors.New("response timed out")

// =============================================================================
// TIMER
// =============================================================================

// Watchdog calls onExpire once if it is not kicked within the window.
type Watchdog struct {
	mu       sync.Mutex
	window   time.Duration
	onExpire func()
	timer    *time.Timer
	gen      uint64
	stopped  bool
}

// New creates a stopped watchdog. Call Arm to start it.
func New(window time.Duration, onExpire func()) *Watchdog {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Watchdog{window: window, onExpire: onExpire}
}

// Window returns the configured window.
func (w *Watchdog) Window() time.Duration {
	return w.window
}

// Arm starts the countdown. Arm after Stop is a no-op.
func (w *Watchdog) Arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetLocked()
}

// Kick restarts the countdown from zero.
func (w *Watchdog) Kick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetLocked()
}

// Stop clears the timer for good.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watchdog) resetLocked() {
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	// A timer that already fired may still be waiting on mu; the generation
	// check in fire discards it.
	w.gen++
	gen := w.gen
	w.timer = time.AfterFunc(w.window, func() { w.fire(gen) })
}

func (w *Watchdog) fire(gen uint64) {
	w.mu.Lock()
	if w.stopped || gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.timer = nil
	w.mu.Unlock()

	if w.onExpire != nil {
		w.onExpire()
	}
}

// =============================================================================
// GUARDED SESSION
// =============================================================================

// Starter opens streaming sessions. *gateway.Client implements it.
type Starter interface {
	StartSession(ctx context.Context, messages []model.Message, h gateway.Handlers) *gateway.Session
}

// Guarded is a streaming session under watchdog supervision.
type Guarded struct {
	mu       sync.Mutex
	dog      *Watchdog
	session  *gateway.Session
	handlers gateway.Handlers
	finished bool
	expired  bool
}

// Guard starts a session through starter and supervises it. Exactly one of
// h.OnDone or h.OnError is called unless Cancel is called first.
func Guard(ctx context.Context, starter Starter, messages []model.Message, h gateway.Handlers, window time.Duration) *Guarded {
	g := &Guarded{handlers: h}
	g.dog = New(window, g.expire)

	g.dog.Arm()
	s := starter.StartSession(ctx, messages, gateway.Handlers{
		OnChunk: g.onChunk,
		OnDone:  g.onDone,
		OnError: g.onError,
	})

	g.mu.Lock()
	g.session = s
	expiredEarly := g.expired
	g.mu.Unlock()
	if expiredEarly {
		s.Cancel()
	}
	return g
}

// Session returns the underlying gateway session.
func (g *Guarded) Session() *gateway.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session
}

// Done is closed when the underlying session goroutine exits.
func (g *Guarded) Done() <-chan struct{} {
	return g.Session().Done()
}

// Cancel stops the watchdog and the session without any callback.
func (g *Guarded) Cancel() {
	g.dog.Stop()

	g.mu.Lock()
	g.finished = true
	s := g.session
	g.mu.Unlock()

	if s != nil {
		s.Cancel()
	}
}

// finish marks the terminal outcome; it returns false if one already happened.
func (g *Guarded) finish() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.finished {
		return false
	}
	g.finished = true
	return true
}

func (g *Guarded) isFinished() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.finished
}

func (g *Guarded) onChunk(d gateway.Delta) {
	if g.isFinished() {
		return
	}
	g.dog.Kick()
	if g.handlers.OnChunk != nil {
		g.handlers.OnChunk(d)
	}
}

func (g *Guarded) onDone(u *model.Usage) {
	g.dog.Stop()
	if !g.finish() {
		return
	}
	if g.handlers.OnDone != nil {
		g.handlers.OnDone(u)
	}
}

func (g *Guarded) onError(err error) {
	g.dog.Stop()
	if !g.finish() {
		return
	}
	if g.handlers.OnError != nil {
		g.handlers.OnError(err)
	}
}

func (g *Guarded) expire() {
	g.mu.Lock()
	if g.finished {
		g.mu.Unlock()
		return
	}
	g.finished = true
	g.expired = true
	s := g.session
	g.mu.Unlock()

	if s != nil {
		s.Cancel()
	}
	if g.handlers.OnError != nil {
		g.handlers.OnError(ErrTimeout)
	}
}
