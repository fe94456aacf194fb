package memory

import (
	"github.com/e-e-e/dweb-transport/storage"
	"github.com/e-e-e/dweb-transport/storage/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "memory",
		Description: "In-process backend; contents are lost on exit",
		Usage:       registry.UsageCLI | registry.UsageDaemon,
		Open: func(registry.Config) (storage.Backend, func() error, error) {
			return New(), nil, nil
		},
	})
}
