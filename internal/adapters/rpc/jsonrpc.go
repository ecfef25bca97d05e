package rpc

import (
	"errors"
	"io"
	"net/http"
	"time"
)

const maxRPCBodyBytes int64 = 1 << 20 // 1 MiB

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if !s.applyCORS(w, r) {
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if !s.authorizeRPC(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key := clientKey(r, s.extractRPCToken(r))
	if !s.limiter.Allow(key, time.Now()) {
		s.metrics.RPCRateLimited()
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRPCBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.metrics.RPCRequest()
	started := time.Now()

	out := s.disp.Dispatch(body)
	var resp []byte
	if out.Async != nil {
		resp = out.Async(r.Context())
	} else {
		resp = out.Sync
	}
	s.log.Info("rpc request", "bytes", len(body), "latency_ms", time.Since(started).Milliseconds())

	if len(resp) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(resp)
}
