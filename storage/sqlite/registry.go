package sqlite

import (
	"fmt"

	"xdao.co/kel/storage"
	"xdao.co/kel/storage/storeregistry"
)

func init() {
	storeregistry.MustRegister(storeregistry.Backend{
		Name:        "sqlite",
		Description: "SQLite database file",
		Usage:       storeregistry.UsageCLI | storeregistry.UsageDaemon,
		Options: map[string]string{
			"sqlite-path": "SQLite database path",
		},
		Open: func(opts storeregistry.Options) (storage.Store, error) {
			path := opts["sqlite-path"]
			if path == "" {
				return nil, fmt.Errorf("missing --sqlite-path")
			}
			return Open(path)
		},
	})
}
