package main

import (
	"github.com/spf13/cobra"

	"github.com/oriys/ircbotd/internal/control"
)

func unloadCmd() *cobra.Command {
	var socket string

	cmd := &cobra.Command{
		Use:   "unload <instance> <module>",
		Short: "Ask a running daemon to unload a plugin module from every channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendControl(socket, control.Request{
				Op:       "unload",
				Instance: args[0],
				Module:   args[1],
			})
		},
	}
	cmd.Flags().StringVar(&socket, "socket", "", "daemon control socket (defaults to the config's daemon.control_socket)")
	return cmd
}
