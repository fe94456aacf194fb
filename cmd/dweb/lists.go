package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/e-e-e/dweb-transport/config"
	"github.com/e-e-e/dweb-transport/dweb"
)

func (a *app) listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Signed append-only lists",
		Long: `A list is owned by a signing key. Its public URLs are derived from that
key, so the same key always reopens the same list.`,
	}
	cmd.AddCommand(a.listCreateCmd(), a.listAppendCmd(), a.listFetchCmd(), a.listSubscribeCmd())
	return cmd
}

// masterList rebuilds the master list for the signer without storing the
// master record itself.
func (a *app) masterList(n *config.Node, s signerFlags) (*dweb.CommonList, error) {
	kp, err := a.loadSigner(s)
	if err != nil {
		return nil, err
	}
	return n.Client.NewCommonList(kp, dweb.ListOptions{DontStoreMaster: true})
}

func (a *app) listCreateCmd() *cobra.Command {
	var s signerFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Publish a list and print its public URLs",
		Args:  exactArgs(0, "dweb list create (--signer <name> [--signer-role <role>] | --seed-hex <64hex> | --key-file <path>)"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withNode(func(n *config.Node) error {
				l, err := a.masterList(n, s)
				if err != nil {
					return err
				}
				if _, err := l.Store(cmd.Context()); err != nil {
					return err
				}
				a.printURLs(l.PublicURLs())
				return nil
			})
		},
	}
	s.register(cmd)
	return cmd
}

func (a *app) listAppendCmd() *cobra.Command {
	var s signerFlags
	cmd := &cobra.Command{
		Use:   "append <urls>",
		Short: "Sign and append a reference to stored content",
		Args:  exactArgs(1, "dweb list append (--signer <name> [--signer-role <role>] | --seed-hex <64hex> | --key-file <path>) <urls>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			urls, err := splitURLs(args[0])
			if err != nil {
				return err
			}
			return a.withNode(func(n *config.Node) error {
				l, err := a.masterList(n, s)
				if err != nil {
					return err
				}
				sig, err := l.AppendURLs(cmd.Context(), urls)
				if err != nil {
					return err
				}
				a.printEntry(sig)
				return nil
			})
		},
	}
	s.register(cmd)
	return cmd
}

func (a *app) printEntry(sig *dweb.Signature) {
	fmt.Fprintf(a.out, "%s\t%s\t%s\n", sig.Date().UTC().Format(time.RFC3339), strings.Join(sig.Target(), ","), sig.SignedBy())
}

func (a *app) listFetchCmd() *cobra.Command {
	var unique bool
	cmd := &cobra.Command{
		Use:   "fetch <urls>",
		Short: "Print the verified entries of a list",
		Args:  exactArgs(1, "dweb list fetch [--unique] <urls>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			urls, err := splitURLs(args[0])
			if err != nil {
				return err
			}
			return a.withNode(func(n *config.Node) error {
				l, err := n.Client.OpenCommonList(cmd.Context(), urls)
				if err != nil {
					return err
				}
				sigs, err := l.FetchList(cmd.Context())
				if err != nil {
					return err
				}
				if unique {
					sigs = dweb.FilterDuplicates(sigs)
				}
				for _, sig := range sigs {
					a.printEntry(sig)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unique, "unique", false, "print each target once")
	return cmd
}

func (a *app) listSubscribeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribe <urls>",
		Short: "Print entries as they are appended, until interrupted",
		Args:  exactArgs(1, "dweb list subscribe <urls>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			urls, err := splitURLs(args[0])
			if err != nil {
				return err
			}
			return a.withNode(func(n *config.Node) error {
				ctx := cmd.Context()
				l, err := n.Client.OpenCommonList(ctx, urls)
				if err != nil {
					return err
				}
				entries := make(chan *dweb.Signature, 16)
				if err := l.Subscribe(ctx, func(sig *dweb.Signature) {
					select {
					case entries <- sig:
					case <-ctx.Done():
					}
				}); err != nil {
					return err
				}
				for {
					select {
					case <-ctx.Done():
						return nil
					case sig := <-entries:
						a.printEntry(sig)
					}
				}
			})
		},
	}
	return cmd
}
