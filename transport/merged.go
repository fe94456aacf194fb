package transport

import (
	"context"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/ipfs/go-cid"
	"go.uber.org/zap"

	"github.com/e-e-e/dweb-transport/cidutil"
	"github.com/e-e-e/dweb-transport/storage"
)

// Merged presents every backend of a Transports as one storage.Backend.
// Blocks are written by the write policy and read from any replica. A bare
// list or table name stands for that name on every backend.
type Merged struct{ t *Transports }

var _ storage.Backend = Merged{}

func (t *Transports) Merged() Merged { return Merged{t: t} }

func (m Merged) urls(id cid.Cid) []string {
	out := make([]string, 0, len(m.t.backends))
	for _, b := range m.t.backends {
		out = append(out, cidutil.FormatURL(b.Name, id))
	}
	return out
}

func (m Merged) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	urls, err := m.t.Store(ctx, data)
	if err != nil {
		return cid.Undef, err
	}
	_, id, err := cidutil.ParseURL(urls[0])
	return id, err
}

func (m Merged) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	return m.t.Fetch(ctx, m.urls(id))
}

func (m Merged) Has(ctx context.Context, id cid.Cid) bool {
	return id.Defined() && m.t.Has(ctx, m.urls(id))
}

func (m Merged) ListAppend(ctx context.Context, list string, entry storage.ListEntry) error {
	return m.t.ListAppend(ctx, m.t.TableLocations(list), entry)
}

func (m Merged) ListFetch(ctx context.Context, list string) ([]storage.ListEntry, error) {
	return m.t.ListFetch(ctx, m.t.TableLocations(list))
}

func (m Merged) ListSubscribe(ctx context.Context, list string, fn func(storage.ListEntry)) error {
	return m.t.ListSubscribe(ctx, m.t.TableLocations(list), fn)
}

// TableGet returns the value from the first replica holding key.
func (m Merged) TableGet(ctx context.Context, table, key string) ([]byte, error) {
	var merr *multierror.Error
	for _, loc := range m.t.TableLocations(table) {
		v, err := m.t.TableGet(ctx, loc, key)
		if err == nil {
			return v, nil
		}
		if !storage.IsNotFound(err) {
			merr = multierror.Append(merr, err)
		}
	}
	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}
	return nil, storage.ErrNotFound
}

func (m Merged) TableSet(ctx context.Context, table, key string, value []byte) error {
	return m.t.TableSet(ctx, m.t.TableLocations(table), key, value)
}

// TableKeys returns the union of keys over the replicas that answered.
func (m Merged) TableKeys(ctx context.Context, table string) ([]string, error) {
	var merr *multierror.Error
	answered := 0
	set := map[string]bool{}
	for _, loc := range m.t.TableLocations(table) {
		keys, err := m.t.TableKeys(ctx, loc)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		answered++
		for _, k := range keys {
			set[k] = true
		}
	}
	if answered == 0 {
		return nil, merr.ErrorOrNil()
	}
	if merr != nil {
		m.t.log.Warn("table keys incomplete", zap.String("table", table), zap.Error(merr))
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
