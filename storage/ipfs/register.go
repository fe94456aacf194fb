package ipfs

import (
	"github.com/e-e-e/dweb-transport/storage"
	"github.com/e-e-e/dweb-transport/storage/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "ipfs",
		Description: "Local Kubo repository via the ipfs CLI (lists and tables in dir)",
		Usage:       registry.UsageCLI | registry.UsageDaemon,
		ConfigKeys: []registry.Key{
			{Name: "dir", Required: true, Help: "directory for lists and tables"},
			{Name: "bin", Default: "ipfs"},
			{Name: "repo", Help: "IPFS_PATH for the ipfs command"},
		},
		Open: func(cfg registry.Config) (storage.Backend, func() error, error) {
			b, err := New(Options{Bin: cfg.String("bin"), Repo: cfg.String("repo"), Dir: cfg.String("dir")})
			return b, nil, err
		},
	})
}
