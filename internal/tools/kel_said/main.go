package main

import (
	"fmt"
	"os"

	"xdao.co/kel/event"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: kel_said <event.json|event.cbor>")
		os.Exit(2)
	}
	b, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "read: %v\n", err)
		os.Exit(1)
	}
	m, err := event.Decode(b)
	if err != nil {
		fmt.Fprintf(os.Stderr, "decode: %v\n", err)
		os.Exit(1)
	}
	if err := event.VerifySAID(m); err != nil {
		fmt.Fprintf(os.Stderr, "said: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(m.Event.Digest)
}
