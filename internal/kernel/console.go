package kernel

import (
	"errors"
	"time"

	"replhost/go-kernel/internal/engine"
	"replhost/go-kernel/pkg/models"
)

// submission is one unit of work for the engine driver. A zero code with
// shutdown set is the sentinel that stops the driver.
type submission struct {
	code       string
	count      uint32
	originator string
	reply      chan<- models.ExecuteReply
	shutdown   bool
}

func (k *Kernel) stopDriver() {
	close(k.closing)
	k.console <- submission{shutdown: true}
	<-k.driverDone
}

// runDriver is the engine-driving goroutine: the only place Evaluate runs.
// Between submissions it polls the arbiter so secondary goroutines can
// borrow engine access at safe points.
func (k *Kernel) runDriver() {
	defer close(k.driverDone)

	k.eng.SetHooks(engine.Hooks{
		WriteConsole: k.writeConsole,
		ReadInput:    k.requestInput,
	})
	if k.arb != nil {
		k.eng.SetIdleHook(k.arb.Poll)
	}

	if b, ok := k.eng.(interface{ EmitBanner() }); ok {
		b.EmitBanner()
	}
	k.CompleteInitialization()

	idle := time.NewTicker(k.pollInterval)
	defer idle.Stop()
	for {
		if k.arb != nil {
			k.arb.Poll()
		}
		select {
		case sub := <-k.console:
			if sub.shutdown {
				k.log.Info("engine driver stopping")
				return
			}
			k.execute(sub)
		case <-idle.C:
		}
	}
}

func (k *Kernel) execute(sub submission) {
	k.activeOriginator = sub.originator
	defer func() { k.activeOriginator = "" }()

	result, err := k.eng.Evaluate(sub.code)
	if err != nil {
		k.metrics.ExecutionFailed()
		k.log.Warn("evaluation failed", "execution_count", sub.count, "err", err)
		k.sendReply(sub.reply, models.ExecuteReply{
			Status:         models.StatusError,
			ExecutionCount: sub.count,
			Exception: &models.Exception{
				Name:      "EvaluationError",
				Value:     err.Error(),
				Traceback: []string{},
			},
		})
		return
	}

	data := map[string]string{"text/plain": result.Text}
	if result.HTML != "" {
		data["text/html"] = result.HTML
	}
	k.hub.Publish(models.KindExecuteResult, models.ExecuteResult{
		ExecutionCount: sub.count,
		Data:           data,
	})

	k.sendReply(sub.reply, models.ExecuteReply{
		Status:         models.StatusOK,
		ExecutionCount: sub.count,
	})
}

// writeConsole receives engine console output. During initialization all
// output accumulates into the startup banner; afterwards it is broadcast as
// stream notifications.
func (k *Kernel) writeConsole(text string, stream models.Stream) {
	k.initMu.Lock()
	if k.initializing {
		k.banner.WriteString(text)
		k.initMu.Unlock()
		return
	}
	k.initMu.Unlock()

	k.hub.Publish(models.KindStream, models.StreamOutput{
		Stream: stream,
		Text:   text,
	})
}

// requestInput forwards an interactive input prompt to the registered input
// channel and blocks the in-flight execution until the answer arrives. The
// execute reply is sent only after the execution completes, never here.
func (k *Kernel) requestInput(prompt string, password bool) (string, error) {
	k.inputMu.Lock()
	ch := k.inputCh
	k.inputMu.Unlock()
	if ch == nil {
		return "", errors.New("no input channel registered")
	}

	answer := make(chan string, 1)
	req := InputPromptRequest{
		Prompt: models.InputPrompt{
			Prompt:     prompt,
			Password:   password,
			Originator: k.activeOriginator,
		},
		Answer: answer,
	}
	select {
	case ch <- req:
	case <-k.closing:
		return "", ErrKernelStopped
	}
	select {
	case v := <-answer:
		return v, nil
	case <-k.closing:
		// Shutdown began while the prompt was outstanding; the answer will
		// never arrive.
		return "", ErrKernelStopped
	}
}
