package storeregistry

import (
	"fmt"
	"strings"

	"xdao.co/kel/storage"
)

func init() {
	MustRegister(Backend{
		Name:        "replicating",
		Description: "Writes to every listed backend, reads from the first that answers",
		Usage:       UsageDaemon,
		Options: map[string]string{
			"replicate": "Comma-separated backend names to replicate across",
		},
		Open: func(opts Options) (storage.Store, error) {
			names := strings.Split(opts["replicate"], ",")
			r := &storage.ReplicatingStore{}
			for _, n := range names {
				n = strings.TrimSpace(n)
				if n == "" {
					continue
				}
				if n == "replicating" {
					_ = r.Close()
					return nil, fmt.Errorf("replicating backend cannot nest itself")
				}
				s, err := Open(n, UsageDaemon, opts)
				if err != nil {
					_ = r.Close()
					return nil, err
				}
				r.Backends = append(r.Backends, storage.NamedStore{Name: n, Store: s})
			}
			if len(r.Backends) == 0 {
				return nil, fmt.Errorf("missing --replicate")
			}
			return r, nil
		},
	})
}
