package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"xdao.co/kel/engine"
	"xdao.co/kel/event"
	"xdao.co/kel/model"
	"xdao.co/kel/prerotation"
	"xdao.co/kel/threshold"
)

func inceptCmd(a *app) *cobra.Command {
	var (
		witnesses   []string
		toad        int
		delegator   string
		traits      []string
		nonRotating bool
	)
	cmd := &cobra.Command{
		Use:   "incept <alias>",
		Short: "Incept an identifier controlled by an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, err := a.account(args[0])
			if err != nil {
				return err
			}
			if acct.Prefix != "" {
				return fmt.Errorf("account %s already controls %s", acct.Alias, acct.Prefix)
			}
			opts, err := a.eventOptions()
			if err != nil {
				return err
			}
			cur, err := acct.Current()
			if err != nil {
				return err
			}
			p := event.InceptionParams{
				Keys:          []string{cur.PublicKey()},
				Threshold:     threshold.Simple(1),
				NextThreshold: threshold.Simple(1),
				Witnesses:     witnesses,
				Toad:          toad,
				Config:        traits,
				Delegator:     delegator,
			}
			if !nonRotating {
				next, err := acct.Next()
				if err != nil {
					return err
				}
				if p.Next, err = prerotation.Commit([]string{next.PublicKey()}, p.NextThreshold, opts.Alg); err != nil {
					return err
				}
			}
			icp, err := event.Incept(p, opts)
			if err != nil {
				return err
			}
			sigs, err := signOne(cur, icp)
			if err != nil {
				return err
			}
			c, err := a.dial()
			if err != nil {
				return err
			}
			res, err := c.Propose(context.Background(), model.ProposeRequest{
				AID:        icp.Event.Prefix,
				Kind:       string(opts.Kind),
				Event:      icp.Raw,
				Signatures: sigs,
			})
			if err != nil {
				return err
			}
			acct.Prefix = icp.Event.Prefix
			if err := a.keeper.Save(acct, a.passcode); err != nil {
				return err
			}
			if res.Status == string(engine.PendingDelegatorApproval) {
				fmt.Fprintf(cmd.ErrOrStderr(), "waiting for %s to anchor %s\n", delegator, formatSeal(icp.Seal()))
			}
			return printJSON(cmd, res)
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&witnesses, "witness", nil, "witness key (repeatable)")
	f.IntVar(&toad, "toad", -1, "witness threshold (default: ample for the witness count)")
	f.StringVar(&delegator, "delegator", "", "delegating identifier")
	f.StringSliceVar(&traits, "trait", nil, "configuration trait: EO or DND (repeatable)")
	f.BoolVar(&nonRotating, "non-rotating", false, "commit to no next keys")
	return cmd
}
