package arbiter

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type stubEngine struct {
	mu   sync.Mutex
	idle func()
}

func (s *stubEngine) IdleHook() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle
}

func (s *stubEngine) SetIdleHook(fn func()) {
	s.mu.Lock()
	s.idle = fn
	s.mu.Unlock()
}

// startPoller drives Poll in a loop the way the engine driver does at safe
// points. Returns a stop function.
func startPoller(a *Arbiter) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				a.Poll()
				time.Sleep(time.Millisecond)
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}

func TestMutualExclusion(t *testing.T) {
	var grants atomic.Int64
	a := New(&stubEngine{}, Options{
		AcquireTimeout: 5 * time.Second,
		OnGrant:        func() { grants.Add(1) },
	})
	defer startPoller(a)()

	const workers = 8
	const rounds = 10

	var inside atomic.Int32
	var finishes atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				tok, err := a.Acquire()
				if err != nil {
					t.Errorf("acquire failed: %v", err)
					return
				}
				if n := inside.Add(1); n != 1 {
					t.Errorf("%d goroutines inside protected section", n)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				tok.Release()
				finishes.Add(1)
			}
		}()
	}
	wg.Wait()

	if grants.Load() != workers*rounds {
		t.Fatalf("expected %d grants, got %d", workers*rounds, grants.Load())
	}
	if grants.Load() != finishes.Load() {
		t.Fatalf("grants (%d) != finishes (%d)", grants.Load(), finishes.Load())
	}
}

func TestReentrantAcquire(t *testing.T) {
	a := New(&stubEngine{}, Options{AcquireTimeout: 2 * time.Second})
	defer startPoller(a)()

	outer, err := a.Acquire()
	if err != nil {
		t.Fatalf("outer acquire: %v", err)
	}

	nested, err := a.Acquire()
	if err != nil {
		t.Fatalf("nested acquire: %v", err)
	}
	inner, err := a.Acquire()
	if err != nil {
		t.Fatalf("second nested acquire: %v", err)
	}
	inner.Release()
	nested.Release()
	outer.Release()

	// The handshake must be fully unwound: another goroutine can acquire.
	errCh := make(chan error, 1)
	go func() {
		tok, err := a.Acquire()
		if err == nil {
			tok.Release()
		}
		errCh <- err
	}()
	if err := <-errCh; err != nil {
		t.Fatalf("acquire after reentrant release: %v", err)
	}
}

func TestAcquireTimeout(t *testing.T) {
	var timeouts atomic.Int64
	a := New(&stubEngine{}, Options{
		AcquireTimeout: 30 * time.Millisecond,
		OnTimeout:      func() { timeouts.Add(1) },
	})
	// No poller: the driving goroutine never reaches a safe point.

	tok, err := a.Acquire()
	if !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("expected ErrAcquireTimeout, got %v (token %v)", err, tok)
	}
	if timeouts.Load() != 1 {
		t.Fatalf("expected one timeout callback, got %d", timeouts.Load())
	}

	// A later poll must not produce an unmatched grant.
	a.Poll()

	// And the arbiter must still be usable once polling starts.
	defer startPoller(a)()
	tok, err = a.Acquire()
	if err != nil {
		t.Fatalf("acquire after timeout: %v", err)
	}
	tok.Release()
}

func TestIdleHookSuppressedWhileHeld(t *testing.T) {
	var calls atomic.Int32
	eng := &stubEngine{}
	eng.SetIdleHook(func() { calls.Add(1) })

	a := New(eng, Options{AcquireTimeout: 2 * time.Second})
	defer startPoller(a)()

	tok, err := a.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if hook := eng.IdleHook(); hook == nil {
		t.Fatal("idle hook removed instead of substituted")
	} else {
		hook()
	}
	if calls.Load() != 0 {
		t.Fatal("idle hook ran while token held")
	}
	tok.Release()

	eng.IdleHook()()
	if calls.Load() != 1 {
		t.Fatal("idle hook not restored on release")
	}
}

func TestWithReleasesOnPanic(t *testing.T) {
	a := New(&stubEngine{}, Options{AcquireTimeout: 2 * time.Second})
	defer startPoller(a)()

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		_ = a.With(func() { panic("boom") })
	}()

	if err := a.With(func() {}); err != nil {
		t.Fatalf("acquire after panic: %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	a := New(&stubEngine{}, Options{AcquireTimeout: 2 * time.Second})
	defer startPoller(a)()

	tok, err := a.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	tok.Release()
	tok.Release()

	if err := a.With(func() {}); err != nil {
		t.Fatalf("acquire after double release: %v", err)
	}
}
