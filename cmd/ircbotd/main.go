// Command ircbotd runs the multi-network IRC bot daemon: one Instance
// per configured network, each with its own connection, channel set,
// module bindings, and SQLite-compatible store, all driven by a single
// poll-based multiplexer.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oriys/ircbotd/internal/config"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "ircbotd",
		Short: "Multi-network IRC bot with isolated plugin execution",
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the JSON ambient config file (optional)")

	root.AddCommand(
		runCmd(),
		reloadCmd(),
		unloadCmd(),
		accessCmd(),
		configCheckCmd(),
		whitelistCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configPath != "" {
		c, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	} else {
		cfg = config.DefaultConfig()
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}
