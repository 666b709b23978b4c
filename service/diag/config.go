package diag

import (
	"fmt"
	"net"

	"github.com/safing/attention/base/config"
)

// CfgListenKey is the configuration key for the listen address.
const CfgListenKey = "diag/listen"

const defaultListenAddress = "127.0.0.1:8117"

func registerConfig() error {
	return config.Register(&config.Option{
		Name:            "Diagnostics Listen Address",
		Key:             CfgListenKey,
		Description:     "Address the diagnostics HTTP server listens on. Leave empty to disable the server.",
		OptType:         config.OptTypeString,
		RequiresRestart: true,
		DefaultValue:    defaultListenAddress,
		ValidationFunc: func(value interface{}) error {
			address, ok := value.(string)
			if !ok || address == "" {
				return nil
			}
			if _, _, err := net.SplitHostPort(address); err != nil {
				return fmt.Errorf("invalid listen address: %w", err)
			}
			return nil
		},
	})
}
