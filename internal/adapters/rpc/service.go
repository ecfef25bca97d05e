package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"replhost/go-kernel/internal/dispatch"
	"replhost/go-kernel/internal/engine"
	"replhost/go-kernel/internal/kernel"
	"replhost/go-kernel/pkg/models"
)

// KernelService adapts the kernel's channel-facing surface to the RPC method
// registry. It also relays mid-execution input prompts out through the
// notification hub and routes the answers back by originator.
type KernelService struct {
	log  *slog.Logger
	kern *kernel.Kernel
	eng  engine.Engine

	mu      sync.Mutex
	pending map[string]chan<- string
}

func NewKernelService(kern *kernel.Kernel, eng engine.Engine, log *slog.Logger) *KernelService {
	if log == nil {
		log = slog.Default()
	}
	return &KernelService{
		log:     log,
		kern:    kern,
		eng:     eng,
		pending: make(map[string]chan<- string),
	}
}

// Start registers the input channel with the kernel and begins relaying
// prompts. Must be called after the kernel loop is running.
func (s *KernelService) Start(ctx context.Context) error {
	prompts := make(chan kernel.InputPromptRequest, 8)
	if err := s.kern.Submit(ctx, kernel.EstablishInputChannel{Ch: prompts}); err != nil {
		return fmt.Errorf("register input channel: %w", err)
	}
	go s.relayPrompts(ctx, prompts)
	return nil
}

func (s *KernelService) relayPrompts(ctx context.Context, prompts <-chan kernel.InputPromptRequest) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-prompts:
			s.mu.Lock()
			s.pending[req.Prompt.Originator] = req.Answer
			s.mu.Unlock()
			s.kern.Hub().Publish(models.KindInputRequest, req.Prompt)
		}
	}
}

type executeParams struct {
	Code         string `json:"code"`
	Silent       bool   `json:"silent"`
	StoreHistory bool   `json:"store_history"`
	Originator   string `json:"originator"`
}

type isCompleteParams struct {
	Code string `json:"code"`
}

type isCompleteResult struct {
	Complete bool `json:"complete"`
}

type inputReplyParams struct {
	Originator string `json:"originator"`
	Value      string `json:"value"`
}

type deliverEventParams struct {
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload"`
}

type okResult struct {
	Status string `json:"status"`
}

type kernelInfoResult struct {
	Version        string `json:"version"`
	ExecutionCount uint32 `json:"execution_count"`
}

// RegisterMethods installs every kernel-facing RPC method on the builder.
// Must run before the dispatcher is built and exposed to traffic.
func (s *KernelService) RegisterMethods(b *dispatch.Builder) {
	dispatch.RegisterAsync(b, "execute", s.execute)
	dispatch.RegisterAsync(b, "shutdown", s.shutdown)
	dispatch.RegisterSync(b, "is_complete", s.isComplete)
	dispatch.RegisterSync(b, "input_reply", s.inputReply)
	dispatch.RegisterSync(b, "deliver_event", s.deliverEvent)
	dispatch.RegisterSync(b, "kernel_info", s.kernelInfo)
	dispatch.RegisterSync(b, "ping", func(struct{}) (string, error) {
		return "pong", nil
	})
}

func (s *KernelService) execute(ctx context.Context, p executeParams) (models.ExecuteReply, error) {
	if strings.TrimSpace(p.Code) == "" {
		return models.ExecuteReply{}, errors.New("code is required")
	}
	if p.Originator == "" {
		p.Originator = uuid.NewString()
	}

	reply := make(chan models.ExecuteReply, 1)
	err := s.kern.Submit(ctx, kernel.ExecuteCode{
		Code:         p.Code,
		Silent:       p.Silent,
		StoreHistory: p.StoreHistory,
		Originator:   p.Originator,
		Reply:        reply,
	})
	if err != nil {
		return models.ExecuteReply{}, err
	}

	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return models.ExecuteReply{}, ctx.Err()
	}
}

func (s *KernelService) shutdown(ctx context.Context, _ struct{}) (okResult, error) {
	if err := s.kern.Submit(ctx, kernel.Shutdown{}); err != nil {
		return okResult{}, err
	}
	return okResult{Status: "ok"}, nil
}

func (s *KernelService) isComplete(p isCompleteParams) (isCompleteResult, error) {
	return isCompleteResult{Complete: s.eng.IsComplete(p.Code)}, nil
}

func (s *KernelService) inputReply(p inputReplyParams) (okResult, error) {
	s.mu.Lock()
	answer, ok := s.pending[p.Originator]
	delete(s.pending, p.Originator)
	s.mu.Unlock()
	if !ok {
		return okResult{}, fmt.Errorf("no input pending for originator %q", p.Originator)
	}
	answer <- p.Value
	return okResult{Status: "ok"}, nil
}

func (s *KernelService) deliverEvent(p deliverEventParams) (okResult, error) {
	if strings.TrimSpace(p.Name) == "" {
		return okResult{}, errors.New("event name is required")
	}
	err := s.kern.Submit(context.Background(), kernel.DeliverEvent{
		Event: models.Event{Name: p.Name, Payload: p.Payload},
	})
	if err != nil {
		return okResult{}, err
	}
	return okResult{Status: "ok"}, nil
}

func (s *KernelService) kernelInfo(struct{}) (kernelInfoResult, error) {
	return kernelInfoResult{
		Version:        s.eng.Version(),
		ExecutionCount: s.kern.ExecutionCount(),
	}, nil
}
