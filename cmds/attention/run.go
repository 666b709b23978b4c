package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/safing/attention/base/config"
	"github.com/safing/attention/base/log"
	"github.com/safing/attention/base/metrics"
	"github.com/safing/attention/service"
)

func run(cmd *cobra.Command, _ []string) error {
	// Start logging.
	// Note: Must be started before the instance, so that modules use the right logger.
	if err := log.Start(svcCfg.LogLevel, svcCfg.LogToStdout, svcCfg.LogDir); err != nil {
		return err
	}
	defer log.Shutdown()

	// Create instance. This registers all options.
	instance, err := service.New(version, svcCfg)
	if err != nil {
		return fmt.Errorf("create instance: %w", err)
	}

	// Configure metrics before anything registers a metric.
	if err := metrics.SetNamespace("attention"); err != nil {
		return fmt.Errorf("set metrics namespace: %w", err)
	}
	if err := metrics.AddGlobalLabel("instance", instance.ID()); err != nil {
		return fmt.Errorf("add instance label: %w", err)
	}
	if err := metrics.RegisterDefaultMetrics(); err != nil {
		return fmt.Errorf("register default metrics: %w", err)
	}

	// Load config after all options are registered.
	config.SetConfigFile(svcCfg.ConfigFile)
	if err := config.LoadConfig(false); err != nil {
		return fmt.Errorf("load config from %s: %w", svcCfg.ConfigFile, err)
	}

	if err := instance.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	slog.Info("attention started", "version", version)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)

	if withDemo {
		demo, err := newDemo(instance.Scheduler())
		if err != nil {
			_ = instance.Stop()
			return fmt.Errorf("set up demo: %w", err)
		}
		group.Go(func() error {
			return demo.run(ctx)
		})
	}
	group.Go(func() error {
		return waitForSignal(ctx, instance)
	})

	// Wait for a stop signal or a failed demo, then shut down.
	runErr := group.Wait()
	if errors.Is(runErr, errStopSignal) {
		runErr = nil
	}
	if err := instance.Stop(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("stop: %w", err))
	}
	return runErr
}

var errStopSignal = errors.New("received stop signal")

func printDebugTo(writer io.Writer, instance *service.Instance) {
	_, err := fmt.Fprintln(writer, "===== PRINTING DEBUG INFO ON REQUEST =====")
	if err == nil {
		err = instance.WriteDebugInfo(writer)
	}
	if err != nil {
		slog.Error("failed to write debug info", "err", err)
	}
}
