package localfs

import (
	"github.com/e-e-e/dweb-transport/storage"
	"github.com/e-e-e/dweb-transport/storage/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "localfs",
		Description: "Local filesystem backend (directory)",
		Usage:       registry.UsageCLI | registry.UsageDaemon,
		ConfigKeys:  []registry.Key{{Name: "dir", Required: true}},
		Open: func(cfg registry.Config) (storage.Backend, func() error, error) {
			b, err := New(cfg.String("dir"))
			return b, nil, err
		},
	})
}
