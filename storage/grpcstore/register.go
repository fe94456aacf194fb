package grpcstore

import (
	"github.com/e-e-e/dweb-transport/storage"
	"github.com/e-e-e/dweb-transport/storage/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "grpc",
		Description: "gRPC store client (talks to a store daemon, e.g. dwebd)",
		Usage:       registry.UsageCLI,
		ConfigKeys: []registry.Key{
			{Name: "target", Required: true, Help: "daemon address, host:port"},
			{Name: "dial_timeout", Default: "5s"},
			{Name: "timeout", Help: "per-call deadline"},
			{Name: "max_msg_bytes"},
			{Name: "poll_interval", Help: "list subscription polling"},
		},
		Open: func(cfg registry.Config) (storage.Backend, func() error, error) {
			dialTimeout, err := cfg.Duration("dial_timeout")
			if err != nil {
				return nil, nil, err
			}
			timeout, err := cfg.Duration("timeout")
			if err != nil {
				return nil, nil, err
			}
			poll, err := cfg.Duration("poll_interval")
			if err != nil {
				return nil, nil, err
			}
			maxMsg, err := cfg.Int("max_msg_bytes")
			if err != nil {
				return nil, nil, err
			}
			client, err := Dial(cfg.String("target"), DialOptions{Timeout: dialTimeout, MaxMsgBytes: maxMsg})
			if err != nil {
				return nil, nil, err
			}
			client.Timeout = timeout
			client.PollInterval = poll
			return client, client.Close, nil
		},
	})
}
