package localfs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio"
	"github.com/ipfs/go-cid"

	"github.com/e-e-e/dweb-transport/cidutil"
	"github.com/e-e-e/dweb-transport/storage"
)

// Backend is a local filesystem-backed storage.Backend.
//
// Layout under root:
//
//	blocks/<cid[:2]>/<cid>     immutable, keyed strictly by CID
//	lists/<list>.jsonl         one JSON ListEntry per line, append only
//	tables/<table>/<hex(key)>  replaced atomically on every set
//
// Block storage is offline and deterministic: it never uses the network
// and never depends on wall-clock time.
type Backend struct {
	root string

	// appends to one list file must not interleave
	listMu sync.Mutex
}

var _ storage.Backend = (*Backend)(nil)

// New constructs a filesystem backend rooted at root. The directory will be created if needed.
func New(root string) (*Backend, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	for _, dir := range []string{"blocks", "lists", "tables"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, err
		}
	}
	return &Backend{root: root}, nil
}

func (c *Backend) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	if err := ctx.Err(); err != nil {
		return cid.Undef, err
	}
	id, err := cidutil.CIDv1RawSHA256CID(data)
	if err != nil {
		return cid.Undef, err
	}
	if !id.Defined() {
		return cid.Undef, storage.ErrInvalidCID
	}

	path := c.pathFor(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return cid.Undef, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		if os.IsExist(err) {
			existing, rerr := c.Get(ctx, id)
			if rerr != nil {
				// If the file exists but is unreadable or corrupted, treat as an immutability violation.
				return cid.Undef, storage.ErrImmutable
			}
			if !bytes.Equal(existing, data) {
				return cid.Undef, storage.ErrImmutable
			}
			return id, nil
		}
		return cid.Undef, err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return cid.Undef, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return cid.Undef, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return cid.Undef, err
	}

	return id, nil
}

func (c *Backend) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(c.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if err := storage.Verify(id, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (c *Backend) Has(ctx context.Context, id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	_, err := os.Stat(c.pathFor(id))
	return err == nil
}

func (c *Backend) pathFor(id cid.Cid) string {
	s := id.String()
	if len(s) < 2 {
		return filepath.Join(c.root, "blocks", s)
	}
	return filepath.Join(c.root, "blocks", s[:2], s)
}

func (c *Backend) listPath(list string) string {
	return filepath.Join(c.root, "lists", list+".jsonl")
}

func (c *Backend) ListAppend(ctx context.Context, list string, entry storage.ListEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !storage.ValidName(list) {
		return storage.ErrInvalidName
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	c.listMu.Lock()
	defer c.listMu.Unlock()
	f, err := os.OpenFile(c.listPath(list), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (c *Backend) ListFetch(ctx context.Context, list string) ([]storage.ListEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !storage.ValidName(list) {
		return nil, storage.ErrInvalidName
	}
	f, err := os.Open(c.listPath(list))
	if err != nil {
		if os.IsNotExist(err) {
			return []storage.ListEntry{}, nil
		}
		return nil, err
	}
	defer f.Close()

	out := []storage.ListEntry{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e storage.ListEntry
		if err := json.Unmarshal(line, &e); err != nil {
			// A torn final line from a concurrent append is picked up on the next read.
			break
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

// ListSubscribe watches the list file with fsnotify and delivers new entries.
func (c *Backend) ListSubscribe(ctx context.Context, list string, fn func(storage.ListEntry)) error {
	if !storage.ValidName(list) {
		return storage.ErrInvalidName
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Join(c.root, "lists")); err != nil {
		_ = w.Close()
		return err
	}
	entries, err := c.ListFetch(ctx, list)
	if err != nil {
		_ = w.Close()
		return err
	}
	seen := len(entries)
	target := c.listPath(list)

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				entries, err := c.ListFetch(ctx, list)
				if err != nil {
					continue
				}
				for _, e := range entries[min(seen, len(entries)):] {
					fn(e)
				}
				if len(entries) > seen {
					seen = len(entries)
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

func (c *Backend) tablePath(table, key string) string {
	return filepath.Join(c.root, "tables", table, hex.EncodeToString([]byte(key)))
}

func (c *Backend) TableGet(ctx context.Context, table, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !storage.ValidName(table) || key == "" {
		return nil, storage.ErrInvalidName
	}
	b, err := os.ReadFile(c.tablePath(table, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

func (c *Backend) TableSet(ctx context.Context, table, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !storage.ValidName(table) || key == "" {
		return storage.ErrInvalidName
	}
	path := c.tablePath(table, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(path, value, 0o644)
}

func (c *Backend) TableKeys(ctx context.Context, table string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !storage.ValidName(table) {
		return nil, storage.ErrInvalidName
	}
	entries, err := os.ReadDir(filepath.Join(c.root, "tables", table))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		k, err := hex.DecodeString(e.Name())
		if err != nil || e.IsDir() {
			// renameio temp files and anything foreign
			continue
		}
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	return keys, nil
}
