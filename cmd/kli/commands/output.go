package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"xdao.co/kel/event"
	"xdao.co/kel/keys"
)

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}

// parseSeal reads a seal written as prefix:sn:digest.
func parseSeal(s string) (event.Seal, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return event.Seal{}, fmt.Errorf("seal %q: want prefix:sn:digest", s)
	}
	if _, err := event.ParseSn(parts[1]); err != nil {
		return event.Seal{}, fmt.Errorf("seal %q: %w", s, err)
	}
	return event.Seal{Prefix: parts[0], Sn: parts[1], Digest: parts[2]}, nil
}

func formatSeal(s event.Seal) string {
	return s.Prefix + ":" + s.Sn + ":" + s.Digest
}

func signOne(s keys.Signer, m *event.Message) ([]event.Signature, error) {
	sig, err := s.Sign(m.Raw)
	if err != nil {
		return nil, err
	}
	return []event.Signature{{Index: 0, Sig: sig}}, nil
}
