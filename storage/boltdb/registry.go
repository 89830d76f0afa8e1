package boltdb

import (
	"fmt"

	"xdao.co/kel/storage"
	"xdao.co/kel/storage/storeregistry"
)

func init() {
	storeregistry.MustRegister(storeregistry.Backend{
		Name:        "boltdb",
		Description: "bbolt key/value file",
		Usage:       storeregistry.UsageDaemon,
		Options: map[string]string{
			"bolt-path": "bbolt database path",
		},
		Open: func(opts storeregistry.Options) (storage.Store, error) {
			path := opts["bolt-path"]
			if path == "" {
				return nil, fmt.Errorf("missing --bolt-path")
			}
			return Open(path)
		},
	})
}
