package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"xdao.co/kel/model"
	"xdao.co/kel/multisig"
	"xdao.co/kel/threshold"
)

func multisigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "multisig",
		Short: "Group identifiers controlled by several accounts",
	}
	cmd.AddCommand(multisigInceptCmd(a), multisigSignCmd(a))
	return cmd
}

func multisigInceptCmd(a *app) *cobra.Command {
	var (
		members   []string
		sith      string
		witnesses []string
		toad      int
	)
	cmd := &cobra.Command{
		Use:   "incept",
		Short: "Propose a group inception and open signature collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(members) < 2 {
				return fmt.Errorf("a group needs at least two --member accounts")
			}
			kt := threshold.Simple(len(members))
			if sith != "" {
				var err error
				if kt, err = threshold.Parse(sith); err != nil {
					return err
				}
			}
			group := make([]multisig.Member, 0, len(members))
			for _, alias := range members {
				acct, err := a.account(alias)
				if err != nil {
					return err
				}
				if acct.Prefix == "" {
					return fmt.Errorf("member %s has no identifier yet", alias)
				}
				cur, err := acct.Current()
				if err != nil {
					return err
				}
				next, err := acct.Next()
				if err != nil {
					return err
				}
				group = append(group, multisig.Member{AID: acct.Prefix, Key: cur.PublicKey(), NextKey: next.PublicKey()})
			}
			opts, err := a.eventOptions()
			if err != nil {
				return err
			}
			icp, g, err := multisig.Incept(multisig.InceptionParams{
				Members:       group,
				Threshold:     kt,
				NextThreshold: kt,
				Witnesses:     witnesses,
				Toad:          toad,
			}, opts)
			if err != nil {
				return err
			}
			c, err := a.dial()
			if err != nil {
				return err
			}
			res, err := c.OpenGroupEvent(context.Background(), model.GroupOpenRequest{Participants: g.Participants, Event: icp.Raw})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "group %s awaits signatures from %d members\n", g.Prefix, len(res.Missing))
			return printJSON(cmd, res)
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&members, "member", nil, "member account alias, in signing order (repeatable)")
	f.StringVar(&sith, "threshold", "", "signing threshold (default: all members)")
	f.StringSliceVar(&witnesses, "witness", nil, "witness key (repeatable)")
	f.IntVar(&toad, "toad", -1, "witness threshold (default: ample for the witness count)")
	return cmd
}

func multisigSignCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sign <member-alias> <group-aid>",
		Short: "Sign the group's pending event as one member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, err := a.account(args[0])
			if err != nil {
				return err
			}
			c, err := a.dial()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pending, err := c.PendingGroupEvent(ctx, args[1])
			if err != nil {
				return err
			}
			cur, err := acct.Current()
			if err != nil {
				return err
			}
			sig, err := cur.Sign(pending.Event)
			if err != nil {
				return err
			}
			res, err := c.MergeGroupPartial(ctx, args[1], acct.Prefix, sig)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}
