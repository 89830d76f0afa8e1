package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"xdao.co/kel/keys"
)

func initCmd(a *app) *cobra.Command {
	var scheme, seedHex string
	cmd := &cobra.Command{
		Use:   "init <alias>",
		Short: "Create a keystore account with a fresh key sequence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.passcode == "" {
				return fmt.Errorf("passcode required (-p)")
			}
			var seed []byte
			if seedHex != "" {
				var err error
				if seed, err = hex.DecodeString(seedHex); err != nil {
					return fmt.Errorf("--seed: %w", err)
				}
			}
			acct, err := a.keeper.Create(args[0], keys.Scheme(scheme), seed, a.passcode)
			if err != nil {
				return err
			}
			cur, err := acct.Current()
			if err != nil {
				return err
			}
			next, err := acct.Next()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account %s created.\nCurrent key: %s\nNext key:    %s\n", acct.Alias, cur.PublicKey(), next.PublicKey())
			return nil
		},
	}
	cmd.Flags().StringVar(&scheme, "scheme", string(keys.Ed25519), "signature scheme (ed25519 or dilithium3)")
	cmd.Flags().StringVar(&seedHex, "seed", "", "hex root seed (default random)")
	return cmd
}
