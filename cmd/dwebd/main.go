package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/e-e-e/dweb-transport/config"
	"github.com/e-e-e/dweb-transport/storage/grpcstore"
	"github.com/e-e-e/dweb-transport/storage/registry"

	_ "github.com/e-e-e/dweb-transport/storage/ipfs"
	_ "github.com/e-e-e/dweb-transport/storage/localfs"
	_ "github.com/e-e-e/dweb-transport/storage/memory"
	_ "github.com/e-e-e/dweb-transport/storage/s3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var (
		configPath   string
		listen       string
		backend      string
		listBackends bool
	)
	cmd := &cobra.Command{
		Use:   "dwebd",
		Short: "Serve one storage backend over gRPC",
		Long: `dwebd exposes a single configured storage backend to remote dweb clients
through the grpc backend.

The backend is taken from --config (or $` + config.EnvConfig + `): the one named by
--backend, else the first. Without a config a local filesystem backend under
~/.dweb/store is served.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listBackends {
				for _, b := range registry.List(registry.UsageDaemon) {
					fmt.Fprintln(out, b.Describe())
				}
				return nil
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			bc, err := pickBackend(cfg, backend)
			if err != nil {
				return err
			}
			log, err := cfg.Logger()
			if err != nil {
				return err
			}
			defer log.Sync()

			b, closeFn, err := registry.Open(bc.Name, registry.UsageDaemon, bc.Config)
			if err != nil {
				return err
			}
			if closeFn != nil {
				defer closeFn()
			}

			lis, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}
			defer lis.Close()

			s := grpc.NewServer()
			grpcstore.RegisterStoreServer(s, &grpcstore.Server{Backend: b})

			go func() {
				<-cmd.Context().Done()
				log.Info("shutting down")
				s.GracefulStop()
			}()

			log.Info("dwebd listening",
				zap.String("addr", lis.Addr().String()),
				zap.String("backend", bc.URLName()))
			return s.Serve(lis)
		},
	}
	cmd.SetOut(out)
	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv(config.EnvConfig), "config file path")
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:7450", "listen address")
	cmd.Flags().StringVar(&backend, "backend", "", "backend (name or id) to serve")
	cmd.Flags().BoolVar(&listBackends, "list-backends", false, "list supported backends and exit")
	return cmd
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return config.Config{}, err
	}
	return config.Default(filepath.Join(home, ".dweb", "store")), nil
}

func pickBackend(cfg config.Config, want string) (config.BackendConfig, error) {
	if len(cfg.Backends) == 0 {
		return config.BackendConfig{}, fmt.Errorf("no backends configured")
	}
	if want == "" {
		return cfg.Backends[0], nil
	}
	for _, b := range cfg.Backends {
		if b.Name == want || b.ID == want {
			return b, nil
		}
	}
	return config.BackendConfig{}, fmt.Errorf("backend %q not configured", want)
}
