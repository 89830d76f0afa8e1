package main

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"xdao.co/kel/cidutil"
	"xdao.co/kel/event"
	"xdao.co/kel/keys"
	"xdao.co/kel/prerotation"
	"xdao.co/kel/threshold"
)

func mustSigner(seedByte byte) keys.Signer {
	s, err := keys.NewEd25519Signer(bytes.Repeat([]byte{seedByte}, 32))
	if err != nil {
		panic(err)
	}
	return s
}

func main() {
	cur := mustSigner(0xA1)
	next := mustSigner(0xA2)

	one := threshold.Simple(1)
	commit, err := prerotation.Commit([]string{next.PublicKey()}, one, cidutil.Default)
	if err != nil {
		panic(err)
	}
	m, err := event.Incept(event.InceptionParams{
		Keys:          []string{cur.PublicKey()},
		Threshold:     one,
		Next:          commit,
		NextThreshold: one,
		Toad:          -1,
	}, event.Options{Kind: event.JSON})
	if err != nil {
		panic(err)
	}
	sig, err := cur.Sign(m.Raw)
	if err != nil {
		panic(err)
	}

	fmt.Printf("AID=%s\n", m.Event.Prefix)
	fmt.Printf("SIG0=%s\n", base64.StdEncoding.EncodeToString(sig))
	fmt.Printf("---BEGIN---\n%s\n---END---\n", string(m.Raw))
}
