package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"xdao.co/kel/cidutil"
	"xdao.co/kel/event"
	"xdao.co/kel/keys"
	"xdao.co/kel/transport/grpcapi"
)

// app is the state shared by every subcommand of one invocation.
type app struct {
	keystore string
	passcode string
	target   string
	timeout  time.Duration
	digest   string
	kind     string

	keeper *keys.Keeper
	client *grpcapi.Client
}

func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the kli command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "kli",
		Short:         "Key event log client",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dir := a.keystore
			if dir == "" {
				d, err := keys.DefaultKeeperDirectory()
				if err != nil {
					return err
				}
				dir = d
			}
			k, err := keys.OpenKeeper(dir)
			if err != nil {
				return err
			}
			a.keeper = k
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.client.Close()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.keystore, "keystore", "", "keystore dir (default ~/.xdao/kel/keys)")
	pf.StringVarP(&a.passcode, "passcode", "p", "", "passcode protecting the keystore account")
	pf.StringVar(&a.target, "target", "127.0.0.1:5621", "keld gRPC address")
	pf.DurationVar(&a.timeout, "timeout", 10*time.Second, "per-call timeout")
	pf.StringVar(&a.digest, "digest", "blake3-256", "digest algorithm for new events")
	pf.StringVar(&a.kind, "kind", string(event.JSON), "serialization for new events (JSON or CBOR)")

	root.AddCommand(
		initCmd(a),
		inceptCmd(a),
		rotateCmd(a),
		interactCmd(a),
		stateCmd(a),
		witnessCmd(a),
		delegateCmd(a),
		multisigCmd(a),
		vcCmd(a),
		bundleCmd(),
	)
	return root
}

// dial connects to keld on first use.
func (a *app) dial() (*grpcapi.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	c, err := grpcapi.Dial(a.target, grpcapi.DialOptions{Timeout: a.timeout})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", a.target, err)
	}
	c.Timeout = a.timeout
	a.client = c
	return c, nil
}

func (a *app) account(alias string) (*keys.Account, error) {
	if a.passcode == "" {
		return nil, fmt.Errorf("passcode required (-p)")
	}
	return a.keeper.Load(alias, a.passcode)
}

func (a *app) eventOptions() (event.Options, error) {
	alg, err := cidutil.ParseAlg(a.digest)
	if err != nil {
		return event.Options{}, err
	}
	kind, err := event.ParseSerialization(a.kind)
	if err != nil {
		return event.Options{}, err
	}
	return event.Options{Kind: kind, Alg: alg}, nil
}

func (a *app) alg() cidutil.Alg {
	alg, err := cidutil.ParseAlg(a.digest)
	if err != nil {
		return cidutil.Default
	}
	return alg
}
