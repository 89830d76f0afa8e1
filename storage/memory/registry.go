package memory

import (
	"xdao.co/kel/storage"
	"xdao.co/kel/storage/storeregistry"
)

func init() {
	storeregistry.MustRegister(storeregistry.Backend{
		Name:        "memory",
		Description: "In-process store (not durable)",
		Usage:       storeregistry.UsageCLI | storeregistry.UsageDaemon,
		Open: func(storeregistry.Options) (storage.Store, error) {
			return New(), nil
		},
	})
}
