package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/e-e-e/dweb-transport/config"
	"github.com/e-e-e/dweb-transport/keys"
	"github.com/e-e-e/dweb-transport/storage/registry"

	_ "github.com/e-e-e/dweb-transport/storage/grpcstore"
	_ "github.com/e-e-e/dweb-transport/storage/ipfs"
	_ "github.com/e-e-e/dweb-transport/storage/localfs"
	_ "github.com/e-e-e/dweb-transport/storage/memory"
	_ "github.com/e-e-e/dweb-transport/storage/s3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// usageError marks failures that exit with status 2.
type usageError struct{ error }

func usagef(format string, a ...any) error {
	return usageError{fmt.Errorf(format, a...)}
}

func run(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	root := newRootCmd(out, errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintf(errOut, "Error: %v\n", err)
	var ue usageError
	if errors.As(err, &ue) {
		return 2
	}
	return 1
}

type app struct {
	out    io.Writer
	errOut io.Writer

	configPath string
	backend    string
	keysDir    string
}

func newRootCmd(out io.Writer, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}
	root := &cobra.Command{
		Use:   "dweb",
		Short: "Signed records, lists and names over content-addressed storage",
		Long: `dweb stores records in content-addressed backends, keeps signed
append-only lists, and publishes hierarchical names in signed tables.

Backends are read from the YAML file given by --config or $` + config.EnvConfig + `.
Without one, a local filesystem backend under ~/.dweb/store is used.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv(config.EnvConfig), "config file path")
	root.PersistentFlags().StringVar(&a.backend, "backend", "", "preferred backend (name or id) for writes")
	root.PersistentFlags().StringVar(&a.keysDir, "keys-dir", "", "key store directory (default ~/.dweb/keys)")

	root.AddCommand(
		a.keysCmd(),
		a.putCmd(),
		a.getCmd(),
		a.listCmd(),
		a.domainCmd(),
		a.exportCmd(),
		a.importCmd(),
		a.backendsCmd(),
	)
	return root
}

func (a *app) loadConfig() (config.Config, error) {
	if a.configPath != "" {
		return config.LoadFile(a.configPath)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return config.Config{}, err
	}
	return config.Default(filepath.Join(home, ".dweb", "store")), nil
}

func (a *app) openNode() (*config.Node, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	return cfg.OpenNode(registry.UsageCLI, a.backend)
}

// withNode opens the configured node for the duration of fn.
func (a *app) withNode(fn func(n *config.Node) error) error {
	n, err := a.openNode()
	if err != nil {
		return err
	}
	err = fn(n)
	if cerr := n.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (a *app) keyStore() (*keys.KeyStore, error) {
	return keys.OpenKeyStore(a.keysDir)
}

// signerFlags selects a signing key the way every signing command does.
type signerFlags struct {
	seedHex string
	signer  string
	role    string
	keyFile string
}

func (s *signerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.seedHex, "seed-hex", "", "seed as [<alg>:]<64 hex chars>")
	cmd.Flags().StringVar(&s.signer, "signer", "", "key name in the key store")
	cmd.Flags().StringVar(&s.role, "signer-role", "", "role key derived from --signer")
	cmd.Flags().StringVar(&s.keyFile, "key-file", "", "seed file as written by keys init")
}

func (a *app) loadSigner(s signerFlags) (*keys.KeyPair, error) {
	ks, err := a.keyStore()
	if err != nil {
		return nil, err
	}
	kp, err := ks.Signer(keys.SignerSpec{SeedHex: s.seedHex, KeyFile: s.keyFile, Name: s.signer, Role: s.role})
	if errors.Is(err, keys.ErrNoSigner) {
		return nil, usagef("one of --seed-hex, --signer or --key-file is required")
	}
	return kp, err
}

// splitURLs parses a comma separated URL list argument.
func splitURLs(arg string) ([]string, error) {
	var urls []string
	for _, u := range strings.Split(arg, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil, usagef("no URLs in %q", arg)
	}
	return urls, nil
}

func (a *app) printURLs(urls []string) {
	fmt.Fprintln(a.out, strings.Join(urls, ","))
}

func exactArgs(n int, usage string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != n {
			return usagef("usage: %s", usage)
		}
		return nil
	}
}

func rangeArgs(lo, hi int, usage string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) < lo || len(args) > hi {
			return usagef("usage: %s", usage)
		}
		return nil
	}
}

func (a *app) backendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the storage backends this binary supports",
		Args:  exactArgs(0, "dweb backends"),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, b := range registry.List(registry.UsageCLI) {
				fmt.Fprintln(a.out, b.Describe())
			}
			return nil
		},
	}
}
