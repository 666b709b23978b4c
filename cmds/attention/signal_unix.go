//go:build !windows

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/safing/attention/base/log"
	"github.com/safing/attention/service"
)

func waitForSignal(ctx context.Context, instance *service.Instance) error {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(
		signalCh,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
		syscall.SIGUSR1,
	)
	defer signal.Stop(signalCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-signalCh:
			// Only print and continue to wait if SIGUSR1.
			if sig == syscall.SIGUSR1 {
				printDebugTo(log.GlobalWriter, instance)
				continue
			}

			fmt.Printf(" <SIGNAL: %v>\n", sig) // CLI output.
			slog.Warn("received stop signal", "signal", sig)
			return errStopSignal
		}
	}
}
