package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"xdao.co/kel/event"
	"xdao.co/kel/keys"
	"xdao.co/kel/model"
	"xdao.co/kel/prerotation"
	"xdao.co/kel/threshold"
)

func rotateCmd(a *app) *cobra.Command {
	var (
		cuts, adds []string
		toad       int
		seals      []string
	)
	cmd := &cobra.Command{
		Use:   "rotate <alias>",
		Short: "Reveal the pre-rotated key and commit to the next one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, err := a.account(args[0])
			if err != nil {
				return err
			}
			if acct.Prefix == "" {
				return fmt.Errorf("account %s has no identifier yet", acct.Alias)
			}
			anchors, err := parseSeals(seals)
			if err != nil {
				return err
			}
			opts, err := a.eventOptions()
			if err != nil {
				return err
			}
			c, err := a.dial()
			if err != nil {
				return err
			}
			ctx := context.Background()
			view, err := c.CurrentState(ctx, acct.Prefix)
			if err != nil {
				return err
			}
			st := view.State

			revealed, err := keys.SignerAt(acct.Scheme, acct.RootSeed, acct.Index+1)
			if err != nil {
				return err
			}
			upcoming, err := keys.SignerAt(acct.Scheme, acct.RootSeed, acct.Index+2)
			if err != nil {
				return err
			}
			next, err := prerotation.Commit([]string{upcoming.PublicKey()}, threshold.Simple(1), opts.Alg)
			if err != nil {
				return err
			}
			if toad < 0 {
				toad = event.Ample(len(st.Witnesses) - len(cuts) + len(adds))
			}
			rot, err := event.Rotate(event.RotationParams{
				Prefix:        acct.Prefix,
				Sn:            st.Sn + 1,
				Prior:         st.Digest,
				Keys:          []string{revealed.PublicKey()},
				Threshold:     threshold.Simple(1),
				Next:          next,
				NextThreshold: threshold.Simple(1),
				Cuts:          cuts,
				Adds:          adds,
				Toad:          toad,
				Anchors:       anchors,
			}, opts)
			if err != nil {
				return err
			}
			sigs, err := signOne(revealed, rot)
			if err != nil {
				return err
			}
			res, err := c.Propose(ctx, model.ProposeRequest{AID: acct.Prefix, Kind: string(opts.Kind), Event: rot.Raw, Signatures: sigs})
			if err != nil {
				return err
			}
			acct.Index++
			if err := a.keeper.Save(acct, a.passcode); err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&cuts, "cut", nil, "witness to remove (repeatable)")
	f.StringSliceVar(&adds, "add", nil, "witness to add (repeatable)")
	f.IntVar(&toad, "toad", -1, "witness threshold (default: ample for the new witness count)")
	f.StringSliceVar(&seals, "seal", nil, "anchor prefix:sn:digest (repeatable)")
	return cmd
}

func interactCmd(a *app) *cobra.Command {
	var seals []string
	cmd := &cobra.Command{
		Use:   "interact <alias>",
		Short: "Anchor seals in a non-establishment event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			anchors, err := parseSeals(seals)
			if err != nil {
				return err
			}
			res, err := a.interact(args[0], anchors)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringSliceVar(&seals, "seal", nil, "anchor prefix:sn:digest (repeatable)")
	return cmd
}

// interact appends an interaction anchoring seals to alias's log.
func (a *app) interact(alias string, anchors []event.Seal) (model.AdmissionResponse, error) {
	acct, err := a.account(alias)
	if err != nil {
		return model.AdmissionResponse{}, err
	}
	if acct.Prefix == "" {
		return model.AdmissionResponse{}, fmt.Errorf("account %s has no identifier yet", acct.Alias)
	}
	opts, err := a.eventOptions()
	if err != nil {
		return model.AdmissionResponse{}, err
	}
	c, err := a.dial()
	if err != nil {
		return model.AdmissionResponse{}, err
	}
	ctx := context.Background()
	view, err := c.CurrentState(ctx, acct.Prefix)
	if err != nil {
		return model.AdmissionResponse{}, err
	}
	ixn, err := event.Interact(event.InteractionParams{
		Prefix:  acct.Prefix,
		Sn:      view.State.Sn + 1,
		Prior:   view.State.Digest,
		Anchors: anchors,
	}, opts)
	if err != nil {
		return model.AdmissionResponse{}, err
	}
	cur, err := acct.Current()
	if err != nil {
		return model.AdmissionResponse{}, err
	}
	sigs, err := signOne(cur, ixn)
	if err != nil {
		return model.AdmissionResponse{}, err
	}
	return c.Propose(ctx, model.ProposeRequest{AID: acct.Prefix, Kind: string(opts.Kind), Event: ixn.Raw, Signatures: sigs})
}

func parseSeals(in []string) ([]event.Seal, error) {
	out := make([]event.Seal, 0, len(in))
	for _, s := range in {
		seal, err := parseSeal(s)
		if err != nil {
			return nil, err
		}
		out = append(out, seal)
	}
	return out, nil
}
