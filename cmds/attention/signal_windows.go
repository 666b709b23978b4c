package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/safing/attention/service"
)

func waitForSignal(ctx context.Context, _ *service.Instance) error {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(
		signalCh,
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer signal.Stop(signalCh)

	select {
	case <-ctx.Done():
		return nil
	case sig := <-signalCh:
		fmt.Printf(" <SIGNAL: %v>\n", sig) // CLI output.
		slog.Warn("received stop signal", "signal", sig)
		return errStopSignal
	}
}
