package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/safing/attention/base/config"
	"github.com/safing/attention/service"
	"github.com/safing/attention/service/diag"
)

var (
	unitsAddress string

	unitsCmd = &cobra.Command{
		Use:   "units",
		Short: "Show the units of a running service",
		Args:  cobra.NoArgs,
		RunE:  units,
	}
)

func init() {
	unitsCmd.Flags().StringVar(&unitsAddress, "addr", "", "address of the diagnostics server, defaults to the configured one")
}

func units(cmd *cobra.Command, _ []string) error {
	address := unitsAddress
	if address == "" {
		address = configuredListenAddress()
	}
	if address == "" {
		return errors.New("diagnostics server is disabled")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+address+"/units", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("query %s: %w", address, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("query %s: %s", address, resp.Status)
	}
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}

// configuredListenAddress returns the listen address from the config file,
// falling back to the default.
func configuredListenAddress() string {
	// Creating an instance registers all options.
	if _, err := service.New(version, svcCfg); err != nil {
		return ""
	}

	config.SetConfigFile(svcCfg.ConfigFile)
	if err := config.LoadConfig(false); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %s\n", err)
	}
	return config.GetAsString(diag.CfgListenKey, "")()
}
