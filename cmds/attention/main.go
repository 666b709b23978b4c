package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/safing/attention/service"
)

// Set via ldflags.
var version = "dev"

var (
	svcCfg   = &service.ServiceConfig{}
	withDemo bool

	rootCmd = &cobra.Command{
		Use:   "attention",
		Short: "Time-slicing scheduler for continuous work units",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return svcCfg.Init()
		},
		SilenceUsage: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler service",
		Args:  cobra.NoArgs,
		RunE:  run,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Show version and related metadata.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("attention %s (%s %s, %s)\n", version, runtime.GOOS, runtime.GOARCH, runtime.Version())
		},
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&svcCfg.DataDir, "data", "", "set data directory")
	flags.StringVar(&svcCfg.ConfigFile, "config", "", "set config file (.json or .yaml), defaults to config.json in the data directory")
	flags.StringVar(&svcCfg.LogLevel, "log", "", "set log level (trace, debug, info, warning, error, critical)")
	flags.BoolVar(&svcCfg.LogToStdout, "log-stdout", false, "log to stdout instead of the log directory")
	flags.StringVar(&svcCfg.LogDir, "log-dir", "", "set log directory, defaults to logs in the data directory")

	runCmd.Flags().Float32Var(&svcCfg.FixedThrottle, "fixed-throttle", 0, "use a fixed throttle (0-1) instead of adapting to the host load")
	runCmd.Flags().DurationVar(&svcCfg.FixedPeriod, "fixed-period", 20*time.Millisecond, "cycle period of the fixed clock")
	runCmd.Flags().BoolVar(&withDemo, "demo", false, "run a demo workload")

	rootCmd.AddCommand(runCmd, versionCmd, unitsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
