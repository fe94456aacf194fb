package s3

import (
	"context"
	"time"

	"github.com/e-e-e/dweb-transport/storage"
	"github.com/e-e-e/dweb-transport/storage/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "s3",
		Description: "S3-compatible object store (minio, AWS)",
		Usage:       registry.UsageCLI | registry.UsageDaemon,
		ConfigKeys: []registry.Key{
			{Name: "endpoint", Required: true},
			{Name: "bucket", Required: true},
			{Name: "location"},
			{Name: "access_key"},
			{Name: "secret"},
			{Name: "use_ssl", Default: "false"},
			{Name: "poll_interval", Help: "list subscription polling"},
		},
		Open: func(cfg registry.Config) (storage.Backend, func() error, error) {
			c := Config{
				Endpoint:  cfg.String("endpoint"),
				Bucket:    cfg.String("bucket"),
				Location:  cfg.String("location"),
				AccessKey: cfg.String("access_key"),
				Secret:    cfg.String("secret"),
			}
			var err error
			if c.UseSSL, err = cfg.Bool("use_ssl"); err != nil {
				return nil, nil, err
			}
			if c.PollInterval, err = cfg.Duration("poll_interval"); err != nil {
				return nil, nil, err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			b, err := New(ctx, c)
			return b, nil, err
		},
	})
}
