// Agentqueued is the long-running daemon half of the agentqueue autonomous
// execution harness: it wires the Store, EventBus, adapters, Scheduler, and
// Heartbeat through internal/orchestrator and runs the heartbeat loop until
// signaled to stop.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentqueue/agentqueue/internal/config"
	"github.com/agentqueue/agentqueue/internal/orchestrator"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	o, err := orchestrator.New(config.Effective())
	if err != nil {
		logger.Error("agentqueued: wire orchestrator", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := o.Close(); err != nil {
			logger.Error("agentqueued: close orchestrator", "error", err)
		}
	}()

	logger.Info("agentqueued: starting heartbeat")
	o.StartHeartbeat(ctx)

	<-ctx.Done()
	logger.Info("agentqueued: shutting down")
}
