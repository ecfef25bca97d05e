package kernel

import "replhost/go-kernel/pkg/models"

// Request is an execution or control message, created by a producer and
// consumed exactly once by the kernel's request loop.
type Request interface {
	isRequest()
}

// ExecuteCode submits code for evaluation. Exactly one ExecuteReply is sent
// on Reply; Reply should be buffered so a departed requester cannot stall
// the kernel.
type ExecuteCode struct {
	Code         string
	Silent       bool
	StoreHistory bool
	// Originator identifies the requesting front end so mid-execution input
	// prompts can be routed back to it.
	Originator string
	Reply      chan<- models.ExecuteReply
}

// Shutdown stops the engine driver and terminates the request loop.
type Shutdown struct{}

// EstablishInputChannel registers the channel used to forward interactive
// input prompts to the front end. Idempotent; the last registration wins.
type EstablishInputChannel struct {
	Ch chan<- InputPromptRequest
}

// DeliverEvent forwards a client event straight to the broadcast hub,
// bypassing the execution path and the execution counter.
type DeliverEvent struct {
	Event models.Event
}

func (ExecuteCode) isRequest()           {}
func (Shutdown) isRequest()              {}
func (EstablishInputChannel) isRequest() {}
func (DeliverEvent) isRequest()          {}

// InputPromptRequest asks the front end for one line of input. The consumer
// must eventually send exactly one answer; the execution that triggered the
// prompt stays blocked until it arrives.
type InputPromptRequest struct {
	Prompt models.InputPrompt
	Answer chan<- string
}
