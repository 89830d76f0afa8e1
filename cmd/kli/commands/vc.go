package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"xdao.co/kel/event"
	"xdao.co/kel/model"
	"xdao.co/kel/registry"
)

func vcCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vc",
		Short: "Credential registries anchored in an issuer's log",
	}
	reg := &cobra.Command{
		Use:   "registry",
		Short: "Manage credential registries",
	}
	reg.AddCommand(&cobra.Command{
		Use:   "incept <issuer-alias>",
		Short: "Create a backerless registry and anchor it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, err := a.account(args[0])
			if err != nil {
				return err
			}
			if acct.Prefix == "" {
				return fmt.Errorf("account %s has no identifier yet", acct.Alias)
			}
			vcp, err := registry.Incept(acct.Prefix, a.alg())
			if err != nil {
				return err
			}
			out, err := a.anchorRegistryEvent(args[0], vcp)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	})
	cmd.AddCommand(reg, vcIssueCmd(a), vcRevokeCmd(a), vcStatusCmd(a))
	return cmd
}

func vcIssueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "issue <issuer-alias> <registry> <credential-said>",
		Short: "Record the issuance of a credential",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			iss, err := registry.Issue(args[2], args[1], a.alg())
			if err != nil {
				return err
			}
			if _, err := a.anchorRegistryEvent(args[0], iss); err != nil {
				return err
			}
			return a.printStatus(cmd, args[1], args[2])
		},
	}
}

func vcRevokeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <issuer-alias> <registry> <credential-said>",
		Short: "Record the revocation of an issued credential",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.dial()
			if err != nil {
				return err
			}
			cur, err := c.CredentialStatus(context.Background(), args[1], args[2])
			if err != nil {
				return err
			}
			if cur.Status.State != registry.Issued {
				return fmt.Errorf("credential %s is %s", args[2], cur.Status.State)
			}
			rev, err := registry.Revoke(args[2], args[1], cur.Status.Digest, a.alg())
			if err != nil {
				return err
			}
			if _, err := a.anchorRegistryEvent(args[0], rev); err != nil {
				return err
			}
			return a.printStatus(cmd, args[1], args[2])
		},
	}
}

func vcStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <registry> <credential-said>",
		Short: "Show the registry state of a credential",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.printStatus(cmd, args[0], args[1])
		},
	}
}

func (a *app) printStatus(cmd *cobra.Command, regk, vcid string) error {
	c, err := a.dial()
	if err != nil {
		return err
	}
	st, err := c.CredentialStatus(context.Background(), regk, vcid)
	if err != nil {
		return err
	}
	return printJSON(cmd, st.Status)
}

type anchored struct {
	Registry model.RegistryEventResponse `json:"registry"`
	Anchor   model.AdmissionResponse     `json:"anchor"`
}

// anchorRegistryEvent submits m to the daemon, then anchors its seal in the
// issuer's log so the daemon can apply it.
func (a *app) anchorRegistryEvent(issuer string, m *registry.Message) (anchored, error) {
	c, err := a.dial()
	if err != nil {
		return anchored{}, err
	}
	out, err := c.AnchorRegistryEvent(context.Background(), m.Raw)
	if err != nil {
		return anchored{}, err
	}
	if out.Outcome == string(registry.Duplicate) {
		return anchored{Registry: out}, nil
	}
	adm, err := a.interact(issuer, []event.Seal{m.Seal()})
	if err != nil {
		return anchored{}, err
	}
	return anchored{Registry: out, Anchor: adm}, nil
}
