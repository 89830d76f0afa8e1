package commands

import (
	"context"

	"github.com/spf13/cobra"

	"xdao.co/kel/event"
)

func witnessCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "witness",
		Short: "Act as a witness",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "receipt <witness-alias> <event-digest>",
		Short: "Sign and submit a receipt for an admitted event",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, err := a.account(args[0])
			if err != nil {
				return err
			}
			w, err := acct.Current()
			if err != nil {
				return err
			}
			c, err := a.dial()
			if err != nil {
				return err
			}
			ctx := context.Background()
			rec, err := c.Event(ctx, args[1])
			if err != nil {
				return err
			}
			sig, err := w.Sign(rec.Event)
			if err != nil {
				return err
			}
			res, err := c.SubmitWitnessReceipt(ctx, event.Receipt{Digest: rec.Digest, Witness: w.PublicKey(), Signature: sig})
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	})
	return cmd
}
