package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"replhost/go-kernel/internal/composition/kernelserver"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	rpcAddr := flag.String("rpc-addr", "", "RPC listen address (overrides config)")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	rpcToken := flag.String("rpc-token", "", "RPC token for Authorization/X-RK-RPC-Token (optional)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("kerneld version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *rpcToken != "" {
		_ = os.Setenv("RK_RPC_TOKEN", *rpcToken)
	}
	if *rpcAddr != "" {
		_ = os.Setenv("RK_RPC_ADDR", *rpcAddr)
	}

	rt, err := kernelserver.Build(*configPath)
	if err != nil {
		log.Fatalf("kerneld failed to initialize: %v", err)
	}

	log.Println("kerneld starting")
	if err := rt.Run(ctx); err != nil {
		log.Fatalf("kerneld failed: %v", err)
	}
	log.Println("kerneld stopped")
}
