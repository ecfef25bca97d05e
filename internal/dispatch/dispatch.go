// Package dispatch is a transport-agnostic, correlation-keyed message
// router. Inbound payloads are decoded and routed to registered methods;
// outbound calls are tagged with strictly increasing ids and matched to
// their eventual responses through a pending-call table.
//
// The dispatcher owns no connection or worker pool: it is a decode/route/
// encode function plus an in-memory correlation table, safe for concurrent
// use from any goroutine holding an inbound byte buffer.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

type method struct {
	sync  func(id *uint64, body []byte) []byte
	async func(ctx context.Context, id *uint64, body []byte) []byte
}

// Builder accumulates method registrations. All methods must be registered
// before Build; the resulting registry is immutable and needs no locking.
type Builder struct {
	codec   Codec
	log     *slog.Logger
	methods map[string]method
	onCalls func(delta int)
}

func NewBuilder(codec Codec) *Builder {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &Builder{
		codec:   codec,
		log:     slog.Default(),
		methods: make(map[string]method),
	}
}

func (b *Builder) SetLogger(log *slog.Logger) {
	if log != nil {
		b.log = log
	}
}

// InstrumentCalls registers a callback observing pending-call table size
// changes (+1 on call, -1 on resolution or cancellation).
func (b *Builder) InstrumentCalls(fn func(delta int)) {
	b.onCalls = fn
}

// RegisterSync registers a handler that runs inline during Dispatch and
// returns its result directly.
func RegisterSync[P, R any](b *Builder, name string, fn func(P) (R, error)) {
	codec := b.codec
	b.methods[name] = method{
		sync: func(id *uint64, body []byte) []byte {
			var req requestParams[P]
			if err := codec.Unmarshal(body, &req); err != nil {
				return encodeError(codec, id, 0, err.Error())
			}
			result, err := fn(req.Params)
			if err != nil {
				return encodeError(codec, id, -1, err.Error())
			}
			return encodeSuccess(codec, id, result)
		},
	}
}

// RegisterAsync registers a handler returned to the Dispatch caller as a
// deferred computation; the caller decides when and where to drive it.
func RegisterAsync[P, R any](b *Builder, name string, fn func(ctx context.Context, params P) (R, error)) {
	codec := b.codec
	b.methods[name] = method{
		async: func(ctx context.Context, id *uint64, body []byte) []byte {
			var req requestParams[P]
			if err := codec.Unmarshal(body, &req); err != nil {
				return encodeError(codec, id, 0, err.Error())
			}
			result, err := fn(ctx, req.Params)
			if err != nil {
				return encodeError(codec, id, -1, err.Error())
			}
			return encodeSuccess(codec, id, result)
		},
	}
}

// Build freezes the registry into a dispatcher.
func (b *Builder) Build() *Dispatcher {
	methods := make(map[string]method, len(b.methods))
	for name, m := range b.methods {
		methods[name] = m
	}
	return &Dispatcher{
		codec:   b.codec,
		log:     b.log,
		methods: methods,
		onCalls: b.onCalls,
		calls:   make(map[uint64]*PendingCall),
	}
}

// Dispatcher routes inbound payloads and correlates outbound calls.
type Dispatcher struct {
	codec   Codec
	log     *slog.Logger
	methods map[string]method
	onCalls func(delta int)

	nextID atomic.Uint64

	mu    sync.Mutex
	calls map[uint64]*PendingCall
}

// Outcome is the result of dispatching one inbound payload. At most one of
// Sync and Async is set: Sync holds bytes to send back (nil when the payload
// produced nothing), Async holds a deferred computation whose return value
// is the bytes to send back.
type Outcome struct {
	Sync  []byte
	Async func(ctx context.Context) []byte
}

// Call allocates a correlation id, encodes {id, method, params}, and inserts
// a pending entry. The returned bytes must be sent by the caller; the
// returned handle resolves when the matching response is dispatched.
func (d *Dispatcher) Call(methodName string, params any) ([]byte, *PendingCall, error) {
	id := d.nextID.Add(1) - 1
	body, err := d.codec.Marshal(fullRequest{ID: &id, Method: methodName, Params: params})
	if err != nil {
		return nil, nil, err
	}

	pc := &PendingCall{id: id, d: d, done: make(chan callOutcome, 1)}
	d.mu.Lock()
	d.calls[id] = pc
	d.mu.Unlock()
	if d.onCalls != nil {
		d.onCalls(1)
	}
	return body, pc, nil
}

// Dispatch decodes and routes one inbound payload. Undecodable payloads,
// notifications for unknown methods, and responses matching no outstanding
// call all produce an empty outcome.
func (d *Dispatcher) Dispatch(body []byte) Outcome {
	var partial partialIncoming
	if err := d.codec.Unmarshal(body, &partial); err != nil {
		d.log.Debug("dropping undecodable payload", "err", err)
		return Outcome{}
	}

	switch {
	case partial.Method != nil:
		m, ok := d.methods[*partial.Method]
		if !ok {
			if partial.ID == nil {
				return Outcome{}
			}
			return Outcome{Sync: encodeError(d.codec, partial.ID, -1, "Method not found: "+*partial.Method)}
		}
		if m.sync != nil {
			return Outcome{Sync: m.sync(partial.ID, body)}
		}
		id := partial.ID
		payload := append([]byte(nil), body...)
		return Outcome{Async: func(ctx context.Context) []byte {
			return m.async(ctx, id, payload)
		}}

	case partial.Error != nil:
		d.resolve(partial.ID, callOutcome{err: partial.Error})
		return Outcome{}

	case partial.Result != nil:
		d.resolve(partial.ID, callOutcome{body: append([]byte(nil), body...)})
		return Outcome{}

	default:
		return Outcome{}
	}
}

// PendingCalls reports the number of outstanding outbound calls.
func (d *Dispatcher) PendingCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *Dispatcher) resolve(id *uint64, out callOutcome) {
	if id == nil {
		return
	}
	d.mu.Lock()
	pc, ok := d.calls[*id]
	if ok {
		delete(d.calls, *id)
	}
	d.mu.Unlock()
	if !ok {
		// Unmatched or already resolved: dropped silently.
		return
	}
	if d.onCalls != nil {
		d.onCalls(-1)
	}
	pc.done <- out
}

func (d *Dispatcher) cancel(id uint64) {
	d.mu.Lock()
	_, ok := d.calls[id]
	delete(d.calls, id)
	d.mu.Unlock()
	if ok && d.onCalls != nil {
		d.onCalls(-1)
	}
}

type callOutcome struct {
	body []byte
	err  *ResponseError
}

// PendingCall is a handle on an outstanding outbound call.
type PendingCall struct {
	id   uint64
	d    *Dispatcher
	done chan callOutcome
}

func (p *PendingCall) ID() uint64 { return p.id }

// Await blocks until the matching response arrives or ctx ends. Ending the
// context removes the pending entry, so abandoned calls do not leak.
func (p *PendingCall) Await(ctx context.Context) ([]byte, error) {
	select {
	case out := <-p.done:
		if out.err != nil {
			return nil, out.err
		}
		return out.body, nil
	case <-ctx.Done():
		p.d.cancel(p.id)
		return nil, ctx.Err()
	}
}

// AwaitResult awaits the response and decodes its result field into R.
func AwaitResult[R any](ctx context.Context, p *PendingCall) (R, error) {
	var zero R
	body, err := p.Await(ctx)
	if err != nil {
		return zero, err
	}
	var resp successResponse[R]
	if err := p.d.codec.Unmarshal(body, &resp); err != nil {
		return zero, &ResponseError{Code: 0, Message: err.Error()}
	}
	return resp.Result, nil
}

func encodeSuccess[R any](codec Codec, id *uint64, result R) []byte {
	if id == nil {
		return nil
	}
	out, err := codec.Marshal(successResponse[R]{ID: *id, Result: result})
	if err != nil {
		return encodeError(codec, id, 0, err.Error())
	}
	return out
}

func encodeError(codec Codec, id *uint64, code int, message string) []byte {
	if id == nil {
		return nil
	}
	out, err := codec.Marshal(errorResponse{ID: *id, Error: ResponseError{Code: code, Message: message}})
	if err != nil {
		return nil
	}
	return out
}
