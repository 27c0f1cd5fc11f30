package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oriys/ircbotd/internal/control"
)

func reloadCmd() *cobra.Command {
	var socket string

	cmd := &cobra.Command{
		Use:   "reload <instance> <module>",
		Short: "Ask a running daemon to reload a plugin module",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendControl(socket, control.Request{
				Op:       "reload",
				Instance: args[0],
				Module:   args[1],
			})
		},
	}
	cmd.Flags().StringVar(&socket, "socket", "", "daemon control socket (defaults to the config's daemon.control_socket)")
	return cmd
}

func sendControl(socket string, req control.Request) error {
	if socket == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		socket = cfg.Daemon.ControlSocket
	}

	resp, err := control.Dial(socket, req)
	if err != nil {
		return fmt.Errorf("control: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("%s", resp.Error)
	}
	fmt.Println(resp.Result)
	return nil
}
