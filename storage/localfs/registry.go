package localfs

import (
	"fmt"

	"xdao.co/kel/storage"
	"xdao.co/kel/storage/storeregistry"
)

func init() {
	storeregistry.MustRegister(storeregistry.Backend{
		Name:        "localfs",
		Description: "Local filesystem store (directory of write-once files)",
		Usage:       storeregistry.UsageCLI | storeregistry.UsageDaemon,
		Options: map[string]string{
			"localfs-dir": "LocalFS store directory",
		},
		Open: func(opts storeregistry.Options) (storage.Store, error) {
			dir := opts["localfs-dir"]
			if dir == "" {
				return nil, fmt.Errorf("missing --localfs-dir")
			}
			return New(dir)
		},
	})
}
