package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/e-e-e/dweb-transport/keys"
)

func (a *app) keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Local key management",
		Long: `Keys live under ~/.dweb/keys/<name> as 0600 seed files. Role keys are
derived from a root key and use the same algorithm.`,
	}
	cmd.AddCommand(a.keysInitCmd(), a.keysDeriveCmd(), a.keysListCmd(), a.keysExportCmd())
	return cmd
}

func (a *app) keysInitCmd() *cobra.Command {
	var (
		name    string
		alg     string
		seedHex string
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a root key",
		Args:  exactArgs(0, "dweb keys init --name <name> [--alg ed25519|dilithium3] [--seed-hex <64hex>] [--force]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return usagef("missing --name")
			}
			if err := keys.CheckName(name); err != nil {
				return usagef("invalid --name: %v", err)
			}

			var (
				seed keys.Seed
				err  error
			)
			if seedHex != "" {
				seed, err = keys.ParseSeed(alg + ":" + seedHex)
			} else {
				seed, err = keys.GenerateSeed(keys.Algorithm(alg), nil)
			}
			if err != nil {
				return usagef("%v", err)
			}

			ks, err := a.keyStore()
			if err != nil {
				return err
			}
			pub, path, err := ks.Init(name, seed, force)
			if err != nil {
				return fmt.Errorf("write key: %w", err)
			}
			fmt.Fprintf(a.out, "Created root key: %s\n", pub)
			fmt.Fprintf(a.out, "Stored at: %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name (directory under the key store)")
	cmd.Flags().StringVar(&alg, "alg", string(keys.Ed25519), "signature algorithm: ed25519 or dilithium3")
	cmd.Flags().StringVar(&seedHex, "seed-hex", "", "optional seed as 64 hex chars (for reproducible setups)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing key files")
	return cmd
}

func (a *app) keysDeriveCmd() *cobra.Command {
	var (
		from  string
		role  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive a role key from a root key",
		Args:  exactArgs(0, "dweb keys derive --from <name> --role <role> [--force]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case from == "":
				return usagef("missing --from")
			case role == "":
				return usagef("missing --role")
			}
			if err := keys.CheckName(from); err != nil {
				return usagef("invalid --from: %v", err)
			}
			if err := keys.CheckRole(role); err != nil {
				return usagef("invalid --role: %v", err)
			}
			ks, err := a.keyStore()
			if err != nil {
				return err
			}
			pub, path, err := ks.Derive(from, role, force)
			if err != nil {
				return fmt.Errorf("derive role key: %w", err)
			}
			fmt.Fprintf(a.out, "Created role key: %s\n", pub)
			fmt.Fprintf(a.out, "Stored at: %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "root key name")
	cmd.Flags().StringVar(&role, "role", "", "role identifier (e.g. lists, docs)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing key files")
	return cmd
}

func (a *app) keysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored keys and their roles",
		Args:  exactArgs(0, "dweb keys list"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := a.keyStore()
			if err != nil {
				return err
			}
			entries, err := ks.List()
			if err != nil {
				return fmt.Errorf("list keys: %w", err)
			}
			for _, e := range entries {
				fmt.Fprintf(a.out, "%s (%s)\n", e.Name, e.Algorithm)
				for _, r := range e.Roles {
					fmt.Fprintf(a.out, "  - %s\n", r)
				}
			}
			return nil
		},
	}
}

func (a *app) keysExportCmd() *cobra.Command {
	var (
		name string
		role string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print a stored key's public key",
		Args:  exactArgs(0, "dweb keys export --name <name> [--role <role>]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return usagef("missing --name")
			}
			if err := keys.CheckName(name); err != nil {
				return usagef("invalid --name: %v", err)
			}
			if role != "" {
				if err := keys.CheckRole(role); err != nil {
					return usagef("invalid --role: %v", err)
				}
			}
			ks, err := a.keyStore()
			if err != nil {
				return err
			}
			pub, err := ks.PublicKey(name, role)
			if err != nil {
				return fmt.Errorf("export key: %w", err)
			}
			fmt.Fprintln(a.out, pub)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	cmd.Flags().StringVar(&role, "role", "", "optional role (exports the derived role key)")
	return cmd
}
