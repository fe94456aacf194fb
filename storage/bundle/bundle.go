// Package bundle moves content between backends as a single deterministic TAR
// stream, optionally zstd-compressed.
//
// Layout:
//
//	blocks/<cid>         raw block bytes
//	lists/<name>.json    list entries in append order
//	tables/<name>.json   table rows sorted by key
//	manifest.json        counts and labels, informational only
//
// Blocks are checked against their CIDs on both sides. List entries and
// table values are copied as they are; they carry their own signatures and
// are verified by whoever reads them.
package bundle

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/klauspost/compress/zstd"

	"github.com/e-e-e/dweb-transport/storage"
)

// Version is written to manifest.json.
const Version = 2

// Selection names what Export copies.
type Selection struct {
	Blocks []cid.Cid
	Lists  []string
	Tables []string

	// Labels map human names to URLs. They are informational.
	Labels map[string]string
}

type ExportOptions struct {
	// Compress wraps the TAR stream in zstd. Import detects this itself.
	Compress bool
}

type ImportOptions struct {
	// IgnoreUnknown skips entries outside the layout instead of failing.
	IgnoreUnknown bool
}

// Summary counts what Import wrote.
type Summary struct {
	Blocks  int
	Entries int
	Rows    int
	Labels  map[string]string
}

var (
	epoch0    = time.Unix(0, 0).UTC()
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

type row struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

type manifest struct {
	Version int               `json:"version"`
	Blocks  int               `json:"blocks"`
	Lists   map[string]int    `json:"lists,omitempty"`
	Tables  map[string]int    `json:"tables,omitempty"`
	Labels  map[string]string `json:"labels,omitempty"`
}

// Export writes the selection from src to w. The output depends only on the
// selected content: entries are sorted and headers normalized.
func Export(ctx context.Context, w io.Writer, src storage.Backend, sel Selection, opts ExportOptions) error {
	if src == nil {
		return fmt.Errorf("bundle: nil source")
	}
	if !opts.Compress {
		return export(ctx, w, src, sel)
	}
	zw, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return err
	}
	if err := export(ctx, zw, src, sel); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

func export(ctx context.Context, w io.Writer, src storage.Backend, sel Selection) (err error) {
	tw := tar.NewWriter(w)
	defer func() {
		if cerr := tw.Close(); err == nil {
			err = cerr
		}
	}()

	ids := map[string]cid.Cid{}
	for _, id := range sel.Blocks {
		if !id.Defined() {
			return storage.ErrInvalidCID
		}
		ids[id.String()] = id
	}
	m := manifest{Version: Version, Blocks: len(ids), Labels: sel.Labels}

	for _, key := range sortedKeys(ids) {
		b, err := src.Get(ctx, ids[key])
		if err != nil {
			return fmt.Errorf("bundle: block %s: %w", key, err)
		}
		if err := storage.Verify(ids[key], b); err != nil {
			return err
		}
		if err := writeFile(tw, "blocks/"+key, b); err != nil {
			return err
		}
	}

	for _, name := range uniqueSorted(sel.Lists) {
		if !storage.ValidName(name) {
			return storage.ErrInvalidName
		}
		entries, err := src.ListFetch(ctx, name)
		if err != nil {
			return fmt.Errorf("bundle: list %s: %w", name, err)
		}
		if err := writeJSON(tw, "lists/"+name+".json", entries); err != nil {
			return err
		}
		if m.Lists == nil {
			m.Lists = map[string]int{}
		}
		m.Lists[name] = len(entries)
	}

	for _, name := range uniqueSorted(sel.Tables) {
		if !storage.ValidName(name) {
			return storage.ErrInvalidName
		}
		rows, err := readTable(ctx, src, name)
		if err != nil {
			return fmt.Errorf("bundle: table %s: %w", name, err)
		}
		if err := writeJSON(tw, "tables/"+name+".json", rows); err != nil {
			return err
		}
		if m.Tables == nil {
			m.Tables = map[string]int{}
		}
		m.Tables[name] = len(rows)
	}

	for k := range sel.Labels {
		if k == "" {
			return fmt.Errorf("bundle: empty label")
		}
	}
	return writeJSON(tw, "manifest.json", m)
}

func readTable(ctx context.Context, src storage.Tables, name string) ([]row, error) {
	keys, err := src.TableKeys(ctx, name)
	if err != nil {
		return nil, err
	}
	rows := make([]row, 0, len(keys))
	for _, k := range keys {
		v, err := src.TableGet(ctx, name, k)
		if storage.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row{Key: k, Value: v})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
	return rows, nil
}

// Import reads a bundle from r into dst, failing on unknown entries.
func Import(ctx context.Context, r io.Reader, dst storage.Backend) (Summary, error) {
	return ImportWithOptions(ctx, r, dst, ImportOptions{})
}

// ImportWithOptions reads a bundle from r into dst. List entries dst already
// holds are not appended twice. Table rows overwrite.
func ImportWithOptions(ctx context.Context, r io.Reader, dst storage.Backend, opts ImportOptions) (Summary, error) {
	if dst == nil {
		return Summary{}, fmt.Errorf("bundle: nil destination")
	}
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(zstdMagic)); err == nil && bytes.Equal(head, zstdMagic) {
		zr, err := zstd.NewReader(br)
		if err != nil {
			return Summary{}, err
		}
		defer zr.Close()
		return importTar(ctx, zr, dst, opts)
	}
	return importTar(ctx, br, dst, opts)
}

func importTar(ctx context.Context, r io.Reader, dst storage.Backend, opts ImportOptions) (Summary, error) {
	var sum Summary
	tr := tar.NewReader(r)
	seen := map[string]bool{}
	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		h, err := tr.Next()
		if err == io.EOF {
			return sum, nil
		}
		if err != nil {
			return sum, err
		}
		name := cleanPath(h.Name)
		if name == "" {
			return sum, fmt.Errorf("bundle: invalid entry path %q", h.Name)
		}
		if seen[name] {
			return sum, fmt.Errorf("bundle: duplicate entry %s", name)
		}
		seen[name] = true
		if h.Typeflag != tar.TypeReg {
			if opts.IgnoreUnknown {
				continue
			}
			return sum, fmt.Errorf("bundle: unexpected entry type %v (%s)", h.Typeflag, name)
		}
		payload, err := io.ReadAll(tr)
		if err != nil {
			return sum, err
		}

		dir, file, _ := strings.Cut(name, "/")
		switch {
		case name == "manifest.json":
			var m manifest
			if err := json.Unmarshal(payload, &m); err != nil {
				return sum, fmt.Errorf("bundle: manifest: %w", err)
			}
			sum.Labels = m.Labels
		case dir == "blocks" && file != "":
			if err := importBlock(ctx, dst, file, payload); err != nil {
				return sum, err
			}
			sum.Blocks++
		case dir == "lists" && strings.HasSuffix(file, ".json"):
			n, err := importList(ctx, dst, strings.TrimSuffix(file, ".json"), payload)
			if err != nil {
				return sum, err
			}
			sum.Entries += n
		case dir == "tables" && strings.HasSuffix(file, ".json"):
			n, err := importTable(ctx, dst, strings.TrimSuffix(file, ".json"), payload)
			if err != nil {
				return sum, err
			}
			sum.Rows += n
		default:
			if !opts.IgnoreUnknown {
				return sum, fmt.Errorf("bundle: unknown entry %s", name)
			}
		}
	}
}

func importBlock(ctx context.Context, dst storage.CAS, file string, payload []byte) error {
	id, err := cid.Decode(file)
	if err != nil || !id.Defined() {
		return storage.ErrInvalidCID
	}
	if err := storage.Verify(id, payload); err != nil {
		return err
	}
	got, err := dst.Put(ctx, payload)
	if err != nil {
		return err
	}
	if !got.Equals(id) {
		return storage.ErrCIDMismatch
	}
	return nil
}

func importList(ctx context.Context, dst storage.Lists, name string, payload []byte) (int, error) {
	if !storage.ValidName(name) {
		return 0, storage.ErrInvalidName
	}
	var entries []storage.ListEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		return 0, fmt.Errorf("bundle: list %s: %w", name, err)
	}
	have, err := dst.ListFetch(ctx, name)
	if err != nil {
		return 0, err
	}
	known := make(map[string]bool, len(have))
	for _, e := range have {
		known[entryID(e)] = true
	}
	n := 0
	for _, e := range entries {
		if known[entryID(e)] {
			continue
		}
		if err := dst.ListAppend(ctx, name, e); err != nil {
			return n, err
		}
		known[entryID(e)] = true
		n++
	}
	return n, nil
}

func importTable(ctx context.Context, dst storage.Tables, name string, payload []byte) (int, error) {
	if !storage.ValidName(name) {
		return 0, storage.ErrInvalidName
	}
	var rows []row
	if err := json.Unmarshal(payload, &rows); err != nil {
		return 0, fmt.Errorf("bundle: table %s: %w", name, err)
	}
	for _, r := range rows {
		if r.Key == "" {
			return 0, fmt.Errorf("bundle: table %s: empty key", name)
		}
		if err := dst.TableSet(ctx, name, r.Key, r.Value); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

func entryID(e storage.ListEntry) string { return e.SignedBy + "\x00" + e.Date + "\x00" + e.Signature }

func writeJSON(tw *tar.Writer, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeFile(tw, name, append(b, '\n'))
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	err := tw.WriteHeader(&tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch0,
		Typeflag: tar.TypeReg,
	})
	if err != nil {
		return err
	}
	_, err = tw.Write(content)
	return err
}

// cleanPath normalizes an entry name, returning "" for anything that could
// escape the bundle root.
func cleanPath(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	name = strings.TrimPrefix(strings.TrimPrefix(name, "./"), "/")
	if name == "" {
		return ""
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return name
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func uniqueSorted(in []string) []string {
	set := make(map[string]bool, len(in))
	for _, s := range in {
		set[s] = true
	}
	return sortedKeys(set)
}
