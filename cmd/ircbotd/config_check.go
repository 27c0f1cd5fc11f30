package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oriys/ircbotd/internal/config/ini"
)

func configCheckCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "config",
		Short: "Inspect or validate the daemon's configuration",
	}
	root.AddCommand(configCheckSubCmd())
	return root
}

func configCheckSubCmd() *cobra.Command {
	var iniPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the ambient config and per-network INI file without connecting",
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkConfig(iniPath)
		},
	}
	cmd.Flags().StringVar(&iniPath, "ini", "", "path to the per-network INI configuration (defaults to the ambient config's daemon.config_path)")
	return cmd
}

func checkConfig(iniPath string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if iniPath == "" {
		iniPath = cfg.Daemon.ConfigPath
	}

	doc, err := ini.Load(iniPath)
	if err != nil {
		return fmt.Errorf("ini: %w", err)
	}

	for name, inst := range doc.Instances {
		if inst.Host == "" {
			return fmt.Errorf("instance %q: missing host", name)
		}
		if inst.Port == 0 {
			return fmt.Errorf("instance %q: missing port", name)
		}
		if inst.Nick == "" {
			return fmt.Errorf("instance %q: missing nick", name)
		}
		for chName, ch := range inst.Channels {
			if len(ch.Modules) == 0 {
				fmt.Printf("warning: %s:%s has no modules bound\n", name, chName)
			}
		}
		fmt.Printf("instance %q: %d channel(s) ok\n", name, len(inst.Channels))
	}

	fmt.Printf("config ok: %d instance(s), metrics=%v tracing=%v\n",
		len(doc.Instances), cfg.Observability.Metrics.Enabled, cfg.Observability.Tracing.Enabled)
	return nil
}
