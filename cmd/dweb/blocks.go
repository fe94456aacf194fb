package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/ipfs/go-cid"
	"github.com/spf13/cobra"

	"github.com/e-e-e/dweb-transport/cidutil"
	"github.com/e-e-e/dweb-transport/codec"
	"github.com/e-e-e/dweb-transport/config"
	"github.com/e-e-e/dweb-transport/dweb"
	"github.com/e-e-e/dweb-transport/storage/bundle"
)

func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func (a *app) putCmd() *cobra.Command {
	var (
		raw      bool
		minChunk uint
		maxChunk uint
	)
	cmd := &cobra.Command{
		Use:   "put [file]",
		Short: "Store a file as a structured block and print its URLs",
		Long: `put splits the input into content-defined chunks, stores each as a leaf
block and prints the URLs of the block linking them. With --raw the input is
stored as a single block. The input defaults to stdin.`,
		Args: rangeArgs(0, 1, "dweb put [--raw] [file]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			in, err := openInput(path)
			if err != nil {
				return err
			}
			defer in.Close()

			return a.withNode(func(n *config.Node) error {
				ctx := cmd.Context()
				var b *dweb.StructuredBlock
				if raw {
					data, err := io.ReadAll(in)
					if err != nil {
						return err
					}
					b = n.Client.NewBlock(data)
				} else {
					b, err = n.Client.NewBlockFromReader(ctx, bufio.NewReader(in), dweb.ChunkOptions{MinSize: minChunk, MaxSize: maxChunk})
					if err != nil {
						return err
					}
				}
				urls, err := b.Store(ctx)
				if err != nil {
					return err
				}
				a.printURLs(urls)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "store the input as one block")
	cmd.Flags().UintVar(&minChunk, "min-chunk", 0, "minimum chunk size in bytes")
	cmd.Flags().UintVar(&maxChunk, "max-chunk", 0, "maximum chunk size in bytes")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <urls> [path]",
		Short: "Fetch a record; blocks are written as content",
		Long: `get fetches the record at the comma separated URLs. A structured block is
resolved along path and its content written to stdout. Any other record is
printed as JSON.`,
		Args: rangeArgs(1, 2, "dweb get <urls> [path]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			urls, err := splitURLs(args[0])
			if err != nil {
				return err
			}
			var path string
			if len(args) == 2 {
				path = args[1]
			}
			return a.withNode(func(n *config.Node) error {
				r, err := n.Client.Fetch(cmd.Context(), urls)
				if err != nil {
					return err
				}
				if path != "" {
					res, ok := r.(dweb.Resolver)
					if !ok {
						return fmt.Errorf("%s record has no path %q", r.Dict().Table(), path)
					}
					if r, err = res.Resolve(cmd.Context(), path); err != nil {
						return err
					}
				}
				return a.writeRecord(cmd.Context(), r)
			})
		},
	}
	return cmd
}

// writeRecord writes block content, or the record's fields as JSON.
func (a *app) writeRecord(ctx context.Context, r dweb.Record) error {
	if r == nil {
		return fmt.Errorf("nothing found")
	}
	if b, ok := r.(*dweb.StructuredBlock); ok {
		data, err := b.Content(ctx)
		if err != nil {
			return err
		}
		_, err = a.out.Write(data)
		return err
	}
	f := r.Fields()
	f["table"] = r.Dict().Table()
	if urls := r.Dict().URLs(); len(urls) > 0 {
		f["_urls"] = urls
	}
	out, err := codec.JSON.Marshal(f)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, string(out))
	return nil
}

func (a *app) exportCmd() *cobra.Command {
	var (
		output   string
		compress bool
	)
	cmd := &cobra.Command{
		Use:   "export <urls> [<urls>...]",
		Short: "Write records, with everything they reach, to a bundle",
		Long: `export writes each record into a deterministic TAR bundle. Structured
blocks bring every block below them, lists bring their entries and domains
bring their name tables. Each argument is recorded as a label.`,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usagef("usage: dweb export [-o file] [--zstd] <urls> [<urls>...]")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withNode(func(n *config.Node) error {
				ctx := cmd.Context()
				sel := &selection{blocks: map[cid.Cid]bool{}, lists: map[string]bool{}, tables: map[string]bool{}}
				labels := map[string]string{}
				for _, arg := range args {
					urls, err := splitURLs(arg)
					if err != nil {
						return err
					}
					if err := sel.collect(ctx, n, urls); err != nil {
						return err
					}
					labels[arg] = urls[0]
				}

				w := a.out
				if output != "" && output != "-" {
					f, err := os.Create(output)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				return bundle.Export(ctx, w, n.Transport.Merged(), sel.bundle(labels), bundle.ExportOptions{Compress: compress})
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "bundle file (default stdout)")
	cmd.Flags().BoolVar(&compress, "zstd", false, "compress the bundle with zstd")
	return cmd
}

// selection accumulates what export copies.
type selection struct {
	blocks map[cid.Cid]bool
	lists  map[string]bool
	tables map[string]bool
}

// collect adds the record at urls and whatever it reaches. Records already
// selected are not walked again.
func (s *selection) collect(ctx context.Context, n *config.Node, urls []string) error {
	fresh := false
	for _, u := range urls {
		_, id, err := cidutil.ParseURL(u)
		if err != nil {
			return usagef("invalid URL %q: %v", u, err)
		}
		fresh = fresh || !s.blocks[id]
		s.blocks[id] = true
	}
	if !fresh {
		return nil
	}
	r, err := n.Client.Fetch(ctx, urls)
	if err != nil {
		return err
	}
	switch r := r.(type) {
	case *dweb.StructuredBlock:
		for _, l := range r.Links() {
			if err := s.collect(ctx, n, l.URLs); err != nil {
				return fmt.Errorf("link %q: %w", l.Name, err)
			}
		}
	case *dweb.CommonList:
		for _, loc := range r.PublicURLs() {
			if err := s.addName(s.lists, loc); err != nil {
				return err
			}
			if _, id, err := cidutil.ParseURL(loc); err == nil {
				s.blocks[id] = true
			}
		}
		sigs, err := r.FetchList(ctx)
		if err != nil {
			return err
		}
		for _, sig := range sigs {
			if err := s.collect(ctx, n, sig.Target()); err != nil {
				return fmt.Errorf("list entry: %w", err)
			}
		}
	case *dweb.Domain:
		return s.collectDomain(ctx, n, r)
	}
	return nil
}

// collectDomain adds the tables of d and of every domain below it, and the
// targets of the names they hold.
func (s *selection) collectDomain(ctx context.Context, n *config.Node, d *dweb.Domain) error {
	locs := d.TableURLs()
	if len(locs) == 0 {
		return nil
	}
	if _, name, err := cidutil.ParseLocation(locs[0]); err == nil && s.tables[name] {
		return nil
	}
	for _, loc := range locs {
		if err := s.addName(s.tables, loc); err != nil {
			return err
		}
	}
	segs, err := d.Segments(ctx)
	if err != nil {
		return err
	}
	for _, seg := range segs {
		e, err := d.Get(ctx, seg)
		if err != nil {
			return err
		}
		switch e := e.(type) {
		case *dweb.Domain:
			err = s.collectDomain(ctx, n, e)
		case *dweb.Name:
			if urls := e.Target(); len(urls) > 0 {
				err = s.collect(ctx, n, urls)
			}
		}
		if err != nil {
			return fmt.Errorf("%s: %w", seg, err)
		}
	}
	return nil
}

func (s *selection) addName(set map[string]bool, loc string) error {
	_, name, err := cidutil.ParseLocation(loc)
	if err != nil {
		return err
	}
	set[name] = true
	return nil
}

func (s *selection) bundle(labels map[string]string) bundle.Selection {
	out := bundle.Selection{Labels: labels}
	for id := range s.blocks {
		out.Blocks = append(out.Blocks, id)
	}
	for name := range s.lists {
		out.Lists = append(out.Lists, name)
	}
	for name := range s.tables {
		out.Tables = append(out.Tables, name)
	}
	return out
}

func (a *app) importCmd() *cobra.Command {
	var ignoreUnknown bool
	cmd := &cobra.Command{
		Use:   "import [bundle]",
		Short: "Store the contents of a bundle",
		Args:  rangeArgs(0, 1, "dweb import [--ignore-unknown] [bundle]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			in, err := openInput(path)
			if err != nil {
				return err
			}
			defer in.Close()
			return a.withNode(func(n *config.Node) error {
				sum, err := bundle.ImportWithOptions(cmd.Context(), in, n.Transport.Merged(), bundle.ImportOptions{IgnoreUnknown: ignoreUnknown})
				if err != nil {
					return err
				}
				fmt.Fprintf(a.errOut, "Imported %d blocks, %d list entries, %d table rows\n", sum.Blocks, sum.Entries, sum.Rows)
				labels := make([]string, 0, len(sum.Labels))
				for k := range sum.Labels {
					labels = append(labels, k)
				}
				sort.Strings(labels)
				for _, k := range labels {
					fmt.Fprintf(a.out, "%s\t%s\n", k, sum.Labels[k])
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&ignoreUnknown, "ignore-unknown", false, "skip unknown bundle entries")
	return cmd
}
