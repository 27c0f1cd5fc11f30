package main

import (
	"github.com/spf13/cobra"

	"github.com/oriys/ircbotd/internal/control"
)

func accessCmd() *cobra.Command {
	var socket string

	root := &cobra.Command{
		Use:   "access",
		Short: "Grant, change, or revoke a channel access level through a running daemon",
	}
	root.PersistentFlags().StringVar(&socket, "socket", "", "daemon control socket (defaults to the config's daemon.control_socket)")

	root.AddCommand(
		accessGrantCmd(&socket),
		accessChangeCmd(&socket),
		accessRevokeCmd(&socket),
	)
	return root
}

func accessGrantCmd(socket *string) *cobra.Command {
	var level int
	cmd := &cobra.Command{
		Use:   "grant <instance> <channel> <invoker> <target>",
		Short: "Insert a new ACCESS entry for target",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendControl(*socket, control.Request{
				Op: "access_grant", Instance: args[0], Channel: args[1],
				Invoker: args[2], Target: args[3], Level: level,
			})
		},
	}
	cmd.Flags().IntVar(&level, "level", 0, "access level to grant, -2..6")
	return cmd
}

func accessChangeCmd(socket *string) *cobra.Command {
	var level int
	cmd := &cobra.Command{
		Use:   "change <instance> <channel> <invoker> <target>",
		Short: "Change target's existing ACCESS level",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendControl(*socket, control.Request{
				Op: "access_change", Instance: args[0], Channel: args[1],
				Invoker: args[2], Target: args[3], Level: level,
			})
		},
	}
	cmd.Flags().IntVar(&level, "level", 0, "new access level, -2..6")
	return cmd
}

func accessRevokeCmd(socket *string) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <instance> <channel> <invoker> <target>",
		Short: "Remove target's ACCESS entry",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendControl(*socket, control.Request{
				Op: "access_revoke", Instance: args[0], Channel: args[1],
				Invoker: args[2], Target: args[3],
			})
		},
	}
}
