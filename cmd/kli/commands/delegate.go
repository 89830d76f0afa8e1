package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"xdao.co/kel/event"
)

func delegateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delegate",
		Short: "Approve delegated identifiers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "confirm <delegator-alias> <delegate-aid>",
		Short: "Anchor the delegate's pending event in the delegator's log",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.dial()
			if err != nil {
				return err
			}
			ctx := context.Background()
			view, err := c.CurrentState(ctx, args[1])
			if err != nil {
				return err
			}
			if view.Pending == nil {
				return fmt.Errorf("%s has no event awaiting approval", args[1])
			}
			seal := *view.Pending
			res, err := a.interact(args[0], []event.Seal{seal})
			if err != nil {
				return err
			}
			for _, s := range res.Approved {
				if s == seal {
					return printJSON(cmd, res)
				}
			}
			// Not matched on append: offer the anchoring event explicitly.
			anchor := event.Seal{Prefix: res.Prefix, Sn: event.FormatSn(res.Sn), Digest: res.Digest}
			out, err := c.ResolveDelegationSeal(ctx, args[1], anchor)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	})
	return cmd
}
