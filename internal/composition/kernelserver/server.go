// Package kernelserver wires the engine, arbiter, kernel loop, dispatcher,
// and RPC transport into one runnable unit.
package kernelserver

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"replhost/go-kernel/internal/adapters/rpc"
	"replhost/go-kernel/internal/arbiter"
	"replhost/go-kernel/internal/bootstrap/kernelconfig"
	"replhost/go-kernel/internal/dispatch"
	"replhost/go-kernel/internal/engine"
	"replhost/go-kernel/internal/kernel"
	"replhost/go-kernel/internal/platform/metrics"
	"replhost/go-kernel/internal/platform/privacylog"
)

type Runtime struct {
	cfg  kernelconfig.Config
	log  *slog.Logger
	kern *kernel.Kernel
	arb  *arbiter.Arbiter
	srv  *rpc.Server
}

func DefaultLogger() *slog.Logger {
	return slog.New(privacylog.WrapHandler(slog.NewJSONHandler(os.Stdout, nil)))
}

// Build assembles a runtime from the config at configPath (optional, see
// kernelconfig.LoadFromPath) using the built-in engine.
func Build(configPath string) (*Runtime, error) {
	return BuildWithEngine(configPath, engine.NewMock())
}

// BuildWithEngine assembles a runtime around the given engine.
func BuildWithEngine(configPath string, eng engine.Engine) (*Runtime, error) {
	if eng == nil {
		return nil, errors.New("engine is required")
	}
	cfg := kernelconfig.LoadFromPath(configPath)
	log := DefaultLogger()
	slog.SetDefault(log)

	m := metrics.New()
	arb := arbiter.New(eng, arbiter.Options{
		AcquireTimeout: cfg.AcquireTimeout,
		Logger:         log,
		OnGrant:        m.ArbiterGrant,
		OnTimeout:      m.ArbiterTimeout,
	})
	kern := kernel.New(eng, kernel.Options{
		Logger:       log,
		Metrics:      m,
		Arbiter:      arb,
		RequestQueue: cfg.RequestQueue,
		HubBacklog:   cfg.HubBacklog,
		PollInterval: cfg.PollInterval,
	})

	svc := rpc.NewKernelService(kern, eng, log)
	b := dispatch.NewBuilder(dispatch.JSONCodec{})
	b.SetLogger(log)
	b.InstrumentCalls(m.PendingCallsAdd)
	svc.RegisterMethods(b)

	srv := rpc.NewServer(cfg, b.Build(), kern.Hub(), svc, m, log)
	return &Runtime{
		cfg:  cfg,
		log:  log,
		kern: kern,
		arb:  arb,
		srv:  srv,
	}, nil
}

func (r *Runtime) Kernel() *kernel.Kernel { return r.kern }

func (r *Runtime) Arbiter() *arbiter.Arbiter { return r.arb }

// Run drives the kernel loop and the RPC server until either stops or ctx is
// cancelled. A shutdown request to the kernel also brings the server down.
func (r *Runtime) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		err := r.kern.Run(ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		errCh <- err
	}()
	go func() {
		errCh <- r.srv.Run(ctx)
	}()

	err := <-errCh
	cancel()
	if second := <-errCh; err == nil {
		err = second
	}
	if err != nil {
		r.log.Error("kernel runtime stopped", "err", err)
	}
	return err
}
