package main

import (
	"fmt"

	"github.com/spf13/cobra"

	ac "github.com/panyam/authcore"
)

func promoteCmd(flags *globalFlags) *cobra.Command {
	var demote bool
	cmd := &cobra.Command{
		Use:   "promote <handle>",
		Short: "Grant an account the administrative role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.store == "memory" {
				return fmt.Errorf("%w: promote needs a persistent --store", ac.ErrConfig)
			}
			ctx := cmd.Context()
			core, closer, err := newCore(ctx, flags, nil, nil)
			if err != nil {
				return err
			}
			defer closer()

			account, err := core.GetAccountByHandle(ctx, args[0])
			if err != nil {
				return err
			}
			role := ac.RoleAdministrative
			if demote {
				role = ac.RoleOrdinary
			}
			if _, err := core.SetRole(ctx, account.ID, role); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", account.Handle, role)
			return nil
		},
	}
	cmd.Flags().BoolVar(&demote, "demote", false, "revoke the administrative role instead")
	return cmd
}

func sweepCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired sessions and handshakes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			core, closer, err := newCore(ctx, flags, nil, nil)
			if err != nil {
				return err
			}
			defer closer()
			if err := core.Sweep(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sweep complete")
			return nil
		},
	}
}
