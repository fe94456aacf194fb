package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/e-e-e/dweb-transport/config"
	"github.com/e-e-e/dweb-transport/dweb"
)

func (a *app) domainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "domain",
		Short: "Hierarchical signed names",
		Long: `A domain is a table of signed entries owned by a key. Entries point at
stored content (through a name) or at child domains. The table location is
derived from the key, so the owning key can register entries at any time.`,
	}
	cmd.AddCommand(a.domainNewCmd(), a.domainRegisterCmd(), a.domainResolveCmd(), a.domainPrintCmd())
	return cmd
}

func (a *app) masterDomain(n *config.Node, s signerFlags, name string, expires time.Duration) (*dweb.Domain, error) {
	kp, err := a.loadSigner(s)
	if err != nil {
		return nil, err
	}
	var opts dweb.DomainOptions
	if expires > 0 {
		opts.Expires = time.Now().Add(expires)
	}
	return n.Client.NewDomain(kp, name, opts)
}

func (a *app) domainNewCmd() *cobra.Command {
	var (
		s       signerFlags
		name    string
		expires time.Duration
	)
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Store a domain record and print its URLs",
		Args:  exactArgs(0, "dweb domain new --name <fullname> (--signer <name> [--signer-role <role>] | --seed-hex <64hex> | --key-file <path>) [--expires <duration>]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return usagef("missing --name")
			}
			return a.withNode(func(n *config.Node) error {
				d, err := a.masterDomain(n, s, name, expires)
				if err != nil {
					return err
				}
				urls, err := d.Store(cmd.Context())
				if err != nil {
					return err
				}
				a.printURLs(urls)
				return nil
			})
		},
	}
	s.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "full name of the domain")
	cmd.Flags().DurationVar(&expires, "expires", 0, "lifetime of the domain record (0 never expires)")
	return cmd
}

func (a *app) domainRegisterCmd() *cobra.Command {
	var (
		s    signerFlags
		name string
	)
	cmd := &cobra.Command{
		Use:   "register <segment> <urls>",
		Short: "Sign stored content, or a child domain, into a domain",
		Args:  exactArgs(2, "dweb domain register --name <fullname> (--signer <name> [--signer-role <role>] | --seed-hex <64hex> | --key-file <path>) <segment> <urls>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return usagef("missing --name")
			}
			segment := args[0]
			urls, err := splitURLs(args[1])
			if err != nil {
				return err
			}
			return a.withNode(func(n *config.Node) error {
				ctx := cmd.Context()
				d, err := a.masterDomain(n, s, name, 0)
				if err != nil {
					return err
				}
				var target dweb.Record = n.Client.NewName(urls)
				if r, err := n.Client.Fetch(ctx, urls); err == nil {
					if child, ok := r.(*dweb.Domain); ok {
						target = child
					}
				}
				entry, err := d.Register(ctx, segment, target)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Registered: %s\n", entry.FullName())
				return nil
			})
		},
	}
	s.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "full name of the domain, as stored")
	return cmd
}

func (a *app) domainResolveCmd() *cobra.Command {
	var printURLs bool
	cmd := &cobra.Command{
		Use:   "resolve <urls> <path>",
		Short: "Resolve a path through a domain and write what it names",
		Args:  exactArgs(2, "dweb domain resolve [--urls] <urls> <path>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			urls, err := splitURLs(args[0])
			if err != nil {
				return err
			}
			return a.withNode(func(n *config.Node) error {
				ctx := cmd.Context()
				d, err := n.Client.OpenDomain(ctx, urls)
				if err != nil {
					return err
				}
				r, err := d.Resolve(ctx, args[1])
				if err != nil {
					return err
				}
				if r == nil {
					return fmt.Errorf("%q not found in %s", args[1], d.FullName())
				}
				if nm, ok := r.(*dweb.Name); ok {
					if printURLs {
						a.printURLs(nm.Target())
						return nil
					}
					if r, err = nm.FetchTarget(ctx); err != nil {
						return err
					}
				}
				if printURLs {
					a.printURLs(r.Dict().URLs())
					return nil
				}
				return a.writeRecord(ctx, r)
			})
		},
	}
	cmd.Flags().BoolVar(&printURLs, "urls", false, "print the URLs of the result instead of its content")
	return cmd
}

func (a *app) domainPrintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "print <urls>",
		Short: "Print the tree of names below a domain",
		Args:  exactArgs(1, "dweb domain print <urls>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			urls, err := splitURLs(args[0])
			if err != nil {
				return err
			}
			return a.withNode(func(n *config.Node) error {
				d, err := n.Client.OpenDomain(cmd.Context(), urls)
				if err != nil {
					return err
				}
				out, err := d.Printable(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprint(a.out, out)
				return nil
			})
		},
	}
}
