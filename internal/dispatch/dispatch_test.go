package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func decodeJSON(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, body)
	}
	return out
}

func TestDispatchSyncMethod(t *testing.T) {
	b := NewBuilder(JSONCodec{})
	RegisterSync(b, "ping", func(params struct{}) (string, error) {
		return "pong", nil
	})
	d := b.Build()

	out := d.Dispatch([]byte(`{"id":1,"method":"ping","params":{}}`))
	if out.Async != nil {
		t.Fatal("sync method produced deferred outcome")
	}
	resp := decodeJSON(t, out.Sync)
	if resp["id"] != float64(1) || resp["result"] != "pong" {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestDispatchMethodNotFound(t *testing.T) {
	d := NewBuilder(JSONCodec{}).Build()

	out := d.Dispatch([]byte(`{"id":2,"method":"missing","params":{}}`))
	resp := decodeJSON(t, out.Sync)
	if resp["id"] != float64(2) {
		t.Fatalf("unexpected id: %v", resp["id"])
	}
	errObj, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error object, got %v", resp)
	}
	if errObj["code"] != float64(-1) || errObj["message"] != "Method not found: missing" {
		t.Fatalf("unexpected error: %v", errObj)
	}
}

func TestDispatchEmptyMethodNameIsStillARequest(t *testing.T) {
	d := NewBuilder(JSONCodec{}).Build()

	out := d.Dispatch([]byte(`{"id":5,"method":"","params":{}}`))
	resp := decodeJSON(t, out.Sync)
	if resp["id"] != float64(5) {
		t.Fatalf("unexpected id: %v", resp["id"])
	}
	errObj, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error object, got %v", resp)
	}
	if errObj["code"] != float64(-1) || errObj["message"] != "Method not found: " {
		t.Fatalf("unexpected error: %v", errObj)
	}
}

func TestDispatchUnknownNotificationProducesNothing(t *testing.T) {
	d := NewBuilder(JSONCodec{}).Build()

	out := d.Dispatch([]byte(`{"method":"missing","params":{}}`))
	if out.Sync != nil || out.Async != nil {
		t.Fatalf("expected silence for id-less unknown method, got %v", out)
	}
}

func TestDispatchUndecodablePayloadProducesNothing(t *testing.T) {
	d := NewBuilder(JSONCodec{}).Build()

	out := d.Dispatch([]byte(`{not json`))
	if out.Sync != nil || out.Async != nil {
		t.Fatal("expected silence for undecodable payload")
	}
}

func TestDispatchParamsDecodeError(t *testing.T) {
	b := NewBuilder(JSONCodec{})
	RegisterSync(b, "add", func(params struct{ N int }) (int, error) {
		return params.N + 1, nil
	})
	d := b.Build()

	out := d.Dispatch([]byte(`{"id":7,"method":"add","params":{"N":"not a number"}}`))
	resp := decodeJSON(t, out.Sync)
	errObj, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error object, got %v", resp)
	}
	if errObj["code"] != float64(0) {
		t.Fatalf("expected code 0 for params decode failure, got %v", errObj["code"])
	}
}

func TestDispatchHandlerApplicationError(t *testing.T) {
	b := NewBuilder(JSONCodec{})
	RegisterSync(b, "boom", func(params struct{}) (struct{}, error) {
		return struct{}{}, errors.New("engine on fire")
	})
	d := b.Build()

	out := d.Dispatch([]byte(`{"id":3,"method":"boom","params":{}}`))
	resp := decodeJSON(t, out.Sync)
	errObj := resp["error"].(map[string]any)
	if errObj["code"] != float64(-1) || errObj["message"] != "engine on fire" {
		t.Fatalf("unexpected error: %v", errObj)
	}
}

func TestDispatchAsyncMethodDeferred(t *testing.T) {
	b := NewBuilder(JSONCodec{})
	RegisterAsync(b, "slow", func(ctx context.Context, params struct{}) (string, error) {
		return "done", nil
	})
	d := b.Build()

	out := d.Dispatch([]byte(`{"id":4,"method":"slow","params":{}}`))
	if out.Sync != nil {
		t.Fatal("async method produced inline bytes")
	}
	if out.Async == nil {
		t.Fatal("async method produced no deferred computation")
	}
	resp := decodeJSON(t, out.Async(context.Background()))
	if resp["id"] != float64(4) || resp["result"] != "done" {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestCallIDsStrictlyIncrease(t *testing.T) {
	d := NewBuilder(JSONCodec{}).Build()

	var prev *PendingCall
	for i := 0; i < 10; i++ {
		_, pc, err := d.Call("m", struct{}{})
		if err != nil {
			t.Fatalf("call: %v", err)
		}
		if prev != nil && pc.ID() <= prev.ID() {
			t.Fatalf("ids not strictly increasing: %d after %d", pc.ID(), prev.ID())
		}
		prev = pc
	}
	if prev.ID() != 9 {
		t.Fatalf("ids should start at 0; last of ten was %d", prev.ID())
	}
}

func TestCallResolvedByMatchingResponse(t *testing.T) {
	d := NewBuilder(JSONCodec{}).Build()

	body, pc, err := d.Call("compute", map[string]int{"n": 41})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	req := decodeJSON(t, body)
	if req["method"] != "compute" {
		t.Fatalf("unexpected call body: %v", req)
	}

	// Responses may arrive out of order; only the matching id resolves.
	d.Dispatch([]byte(`{"id":999,"result":"stray"}`))
	d.Dispatch(fmt.Appendf(nil, `{"id":%d,"result":42}`, pc.ID()))

	got, err := AwaitResult[int](context.Background(), pc)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	if d.PendingCalls() != 0 {
		t.Fatalf("pending table should be empty, has %d", d.PendingCalls())
	}
}

func TestCallResolvedByErrorResponse(t *testing.T) {
	d := NewBuilder(JSONCodec{}).Build()

	_, pc, err := d.Call("compute", struct{}{})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	d.Dispatch(fmt.Appendf(nil, `{"id":%d,"error":{"code":-1,"message":"nope"}}`, pc.ID()))

	_, err = pc.Await(context.Background())
	var respErr *ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("expected ResponseError, got %v", err)
	}
	if respErr.Code != -1 || respErr.Message != "nope" {
		t.Fatalf("unexpected error: %v", respErr)
	}
}

func TestDuplicateResponseIsNoOp(t *testing.T) {
	d := NewBuilder(JSONCodec{}).Build()

	_, pc, err := d.Call("m", struct{}{})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	resp := fmt.Appendf(nil, `{"id":%d,"result":1}`, pc.ID())
	d.Dispatch(resp)
	d.Dispatch(resp)

	if got, err := AwaitResult[int](context.Background(), pc); err != nil || got != 1 {
		t.Fatalf("await: %v %v", got, err)
	}
	select {
	case out := <-pc.done:
		t.Fatalf("pending call resolved twice: %+v", out)
	default:
	}
}

func TestInterleavedCallsResolveExactlyOnce(t *testing.T) {
	d := NewBuilder(JSONCodec{}).Build()

	const calls = 32
	pending := make([]*PendingCall, calls)
	for i := range pending {
		_, pc, err := d.Call("m", i)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		pending[i] = pc
	}

	// Resolve in reverse order, concurrently.
	var wg sync.WaitGroup
	for i := calls - 1; i >= 0; i-- {
		wg.Add(1)
		go func(pc *PendingCall) {
			defer wg.Done()
			d.Dispatch(fmt.Appendf(nil, `{"id":%d,"result":%d}`, pc.ID(), pc.ID()))
		}(pending[i])
	}
	wg.Wait()

	for i, pc := range pending {
		got, err := AwaitResult[uint64](context.Background(), pc)
		if err != nil {
			t.Fatalf("await %d: %v", i, err)
		}
		if got != pc.ID() {
			t.Fatalf("call %d resolved with result %d, want %d", i, got, pc.ID())
		}
	}
	if d.PendingCalls() != 0 {
		t.Fatalf("pending table should be empty, has %d", d.PendingCalls())
	}
}

func TestAwaitCancellationRemovesPendingEntry(t *testing.T) {
	d := NewBuilder(JSONCodec{}).Build()

	_, pc, err := d.Call("m", struct{}{})
	if err != nil {
		t.Fatalf("call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := pc.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if d.PendingCalls() != 0 {
		t.Fatalf("cancelled call leaked a pending entry")
	}
}

func TestInstrumentCallsTracksTableSize(t *testing.T) {
	var mu sync.Mutex
	size := 0
	b := NewBuilder(JSONCodec{})
	b.InstrumentCalls(func(delta int) {
		mu.Lock()
		size += delta
		mu.Unlock()
	})
	d := b.Build()

	_, pc, err := d.Call("m", struct{}{})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	mu.Lock()
	if size != 1 {
		t.Fatalf("expected size 1 after call, got %d", size)
	}
	mu.Unlock()

	d.Dispatch(fmt.Appendf(nil, `{"id":%d,"result":true}`, pc.ID()))
	mu.Lock()
	defer mu.Unlock()
	if size != 0 {
		t.Fatalf("expected size 0 after resolution, got %d", size)
	}
}
