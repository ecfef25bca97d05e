// Package kernel sequences execution and control requests against the
// singleton engine. A single request loop consumes requests in arrival
// order; a dedicated driver goroutine feeds accepted code to the engine one
// submission at a time.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"replhost/go-kernel/internal/arbiter"
	"replhost/go-kernel/internal/engine"
	"replhost/go-kernel/internal/platform/metrics"
	"replhost/go-kernel/pkg/models"
)

// ErrKernelStopped is returned by Submit once the request loop has exited.
var ErrKernelStopped = errors.New("kernel: request loop stopped")

const (
	defaultRequestQueue = 16
	defaultHubBacklog   = 256
	defaultPollInterval = 50 * time.Millisecond
)

type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Arbiter, when set, is polled by the driver at safe points so other
	// goroutines can borrow engine access.
	Arbiter      *arbiter.Arbiter
	RequestQueue int
	HubBacklog   int
	// PollInterval bounds how long the idle driver goes between arbiter
	// polls.
	PollInterval time.Duration
}

type Kernel struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	eng     engine.Engine
	arb     *arbiter.Arbiter
	hub     *Hub

	requests   chan Request
	console    chan submission
	driverDone chan struct{}
	// closing is closed when shutdown begins, before the driver is joined,
	// so a driver blocked on interactive input can bail out.
	closing      chan struct{}
	stopped      chan struct{}
	pollInterval time.Duration

	executionCount atomic.Uint32

	initMu       sync.Mutex
	banner       strings.Builder
	initializing bool

	inputMu sync.Mutex
	inputCh chan<- InputPromptRequest

	// activeOriginator belongs to the driver goroutine; it names the front
	// end whose execution is currently in flight.
	activeOriginator string
}

func New(eng engine.Engine, opts Options) *Kernel {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	queue := opts.RequestQueue
	if queue <= 0 {
		queue = defaultRequestQueue
	}
	backlog := opts.HubBacklog
	if backlog <= 0 {
		backlog = defaultHubBacklog
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	k := &Kernel{
		log:          log,
		metrics:      opts.Metrics,
		eng:          eng,
		arb:          opts.Arbiter,
		requests:     make(chan Request, queue),
		console:      make(chan submission, queue),
		driverDone:   make(chan struct{}),
		closing:      make(chan struct{}),
		stopped:      make(chan struct{}),
		pollInterval: interval,
		initializing: true,
	}
	k.hub = NewHub(backlog, opts.Metrics.NotificationDropped)
	return k
}

func (k *Kernel) Hub() *Hub { return k.hub }

// ExecutionCount returns the number of history-tracked executions accepted
// so far.
func (k *Kernel) ExecutionCount() uint32 { return k.executionCount.Load() }

// Submit enqueues a request for the kernel loop. Requests are executed in
// the order Submit accepts them.
func (k *Kernel) Submit(ctx context.Context, req Request) error {
	select {
	case <-k.stopped:
		return ErrKernelStopped
	default:
	}
	select {
	case k.requests <- req:
		return nil
	case <-k.stopped:
		return ErrKernelStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the engine driver and consumes requests until a Shutdown
// request arrives or ctx is cancelled.
func (k *Kernel) Run(ctx context.Context) error {
	defer close(k.stopped)
	go k.runDriver()

	for {
		select {
		case <-ctx.Done():
			k.stopDriver()
			return ctx.Err()
		case req := <-k.requests:
			switch r := req.(type) {
			case ExecuteCode:
				k.handleExecute(r)
			case Shutdown:
				k.log.Info("shutdown requested")
				k.stopDriver()
				return nil
			case EstablishInputChannel:
				k.setInputChannel(r.Ch)
			case DeliverEvent:
				k.hub.Publish(models.KindEvent, r.Event)
			default:
				k.log.Warn("dropping unknown request", "type", fmt.Sprintf("%T", req))
			}
		}
	}
}

func (k *Kernel) handleExecute(r ExecuteCode) {
	if !k.eng.IsComplete(r.Code) {
		k.metrics.IncompleteInput()
		k.sendReply(r.Reply, models.ExecuteReply{
			Status:         models.StatusError,
			ExecutionCount: k.executionCount.Load(),
			Exception: &models.Exception{
				Name:      "IncompleteInput",
				Value:     fmt.Sprintf("Code fragment is not complete: %s", r.Code),
				Traceback: []string{},
			},
		})
		return
	}

	if r.StoreHistory {
		k.executionCount.Add(1)
	}
	count := k.executionCount.Load()

	if !r.Silent {
		k.hub.Publish(models.KindExecuteInput, models.ExecuteInput{
			Code:           r.Code,
			ExecutionCount: count,
		})
	}

	k.metrics.ExecutionStarted()
	k.console <- submission{
		code:       r.Code,
		count:      count,
		originator: r.Originator,
		reply:      r.Reply,
	}
}

func (k *Kernel) setInputChannel(ch chan<- InputPromptRequest) {
	k.inputMu.Lock()
	k.inputCh = ch
	k.inputMu.Unlock()
}

// CompleteInitialization freezes the startup banner and publishes kernel
// info. Called once by the driver when the engine has finished starting up.
func (k *Kernel) CompleteInitialization() {
	k.initMu.Lock()
	if !k.initializing {
		k.initMu.Unlock()
		k.log.Warn("initialization already complete")
		return
	}
	k.initializing = false
	banner := k.banner.String()
	k.initMu.Unlock()

	k.hub.Publish(models.KindKernelInfo, models.KernelInfo{
		Version: k.eng.Version(),
		Banner:  banner,
	})
	k.log.Info("kernel initialized", "version", k.eng.Version())
}

func (k *Kernel) sendReply(ch chan<- models.ExecuteReply, reply models.ExecuteReply) {
	if ch == nil {
		return
	}
	select {
	case ch <- reply:
	default:
		k.log.Warn("execute reply dropped; requester not receiving",
			"status", reply.Status, "execution_count", reply.ExecutionCount)
	}
}
