package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func stateCmd(a *app) *cobra.Command {
	var notice bool
	cmd := &cobra.Command{
		Use:   "state <aid>",
		Short: "Show the current key state of an identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.dial()
			if err != nil {
				return err
			}
			if notice {
				b, err := c.KeyStateNotice(context.Background(), args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return err
			}
			view, err := c.CurrentState(context.Background(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, view)
		},
	}
	cmd.Flags().BoolVar(&notice, "notice", false, "print the publishable key state notice instead")
	return cmd
}
