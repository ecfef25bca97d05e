// Package arbiter serializes exclusive access to the singleton execution
// engine. The engine-driving goroutine owns the engine by default and yields
// it to other goroutines at safe points, when it calls Poll.
package arbiter

import (
	"errors"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrAcquireTimeout is returned when the driving goroutine never reaches a
// safe point within the acquire timeout.
var ErrAcquireTimeout = errors.New("arbiter: timed out waiting for engine access")

const defaultAcquireTimeout = 5 * time.Second

// IdleHooker is the subset of the engine surface the arbiter manipulates
// while a token is held.
type IdleHooker interface {
	IdleHook() func()
	SetIdleHook(fn func())
}

type Options struct {
	// AcquireTimeout bounds how long Acquire waits for a grant. Zero means
	// the default of five seconds.
	AcquireTimeout time.Duration
	Logger         *slog.Logger
	// OnGrant and OnTimeout are optional instrumentation callbacks.
	OnGrant   func()
	OnTimeout func()
}

// Arbiter grants temporary exclusive engine access to secondary goroutines.
// One grant is produced per request, matched by exactly one finished signal.
type Arbiter struct {
	eng       IdleHooker
	timeout   time.Duration
	log       *slog.Logger
	onGrant   func()
	onTimeout func()

	// entry serializes competing top-level acquirers so at most one
	// handshake is in flight at a time.
	entry    sync.Mutex
	pending  atomic.Bool
	grant    chan struct{}
	finished chan struct{}

	mu     sync.Mutex
	holder uint64
	depth  int
}

func New(eng IdleHooker, opts Options) *Arbiter {
	timeout := opts.AcquireTimeout
	if timeout <= 0 {
		timeout = defaultAcquireTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Arbiter{
		eng:       eng,
		timeout:   timeout,
		log:       log,
		onGrant:   opts.OnGrant,
		onTimeout: opts.OnTimeout,
		grant:     make(chan struct{}),
		finished:  make(chan struct{}),
	}
}

// Acquire blocks the calling goroutine until the driving goroutine yields the
// engine, then returns a token scoping the exclusive access. A goroutine that
// already holds a token may acquire nested tokens without blocking. Returns
// ErrAcquireTimeout when no safe point is reached in time.
func (a *Arbiter) Acquire() (*Token, error) {
	gid := goroutineID()

	a.mu.Lock()
	if a.depth > 0 && a.holder == gid {
		a.depth++
		a.mu.Unlock()
		return &Token{a: a, nested: true}, nil
	}
	a.mu.Unlock()

	a.entry.Lock()
	a.pending.Store(true)

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()
	select {
	case <-a.grant:
	case <-timer.C:
		a.pending.Store(false)
		a.entry.Unlock()
		if a.onTimeout != nil {
			a.onTimeout()
		}
		a.log.Warn("engine access request timed out", "timeout", a.timeout)
		return nil, ErrAcquireTimeout
	}

	a.mu.Lock()
	a.holder = gid
	a.depth = 1
	a.mu.Unlock()

	if a.onGrant != nil {
		a.onGrant()
	}
	// Suppress the idle hook so work done under the token cannot re-enter
	// the handoff protocol.
	return &Token{a: a, guard: suppressIdle(a.eng)}, nil
}

// Poll is called by the driving goroutine at safe points. If a secondary
// goroutine is waiting, Poll hands it the engine and blocks until the grantee
// signals it has finished; the driver never proceeds past a poll while a
// grant is outstanding.
func (a *Arbiter) Poll() {
	if !a.pending.Load() {
		return
	}
	select {
	case a.grant <- struct{}{}:
		<-a.finished
	default:
		// The requester gave up between the flag check and the handoff.
	}
}

// With runs fn while holding a token, releasing it on all exit paths.
func (a *Arbiter) With(fn func()) error {
	tok, err := a.Acquire()
	if err != nil {
		return err
	}
	defer tok.Release()
	fn()
	return nil
}

// Token is scoped proof of temporary exclusive engine ownership. It must be
// released by the goroutine that acquired it.
type Token struct {
	a        *Arbiter
	guard    *idleGuard
	nested   bool
	released bool
}

// Release restores the engine idle hook, signals the driving goroutine, and
// clears the pending flag. Releasing twice is a no-op. For nested tokens only
// the bookkeeping depth is unwound; the outermost release completes the
// handshake.
func (t *Token) Release() {
	if t.released {
		return
	}
	t.released = true

	if t.nested {
		t.a.mu.Lock()
		t.a.depth--
		t.a.mu.Unlock()
		return
	}

	t.guard.restore()

	t.a.mu.Lock()
	t.a.holder = 0
	t.a.depth = 0
	t.a.mu.Unlock()

	t.a.pending.Store(false)
	t.a.finished <- struct{}{}
	t.a.entry.Unlock()
}

// goroutineID extracts the runtime id of the calling goroutine from its stack
// header. Used only for reentrancy bookkeeping, never for scheduling.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := strings.Fields(string(buf[:n]))
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return id
}
