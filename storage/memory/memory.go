// Package memory provides an in-process storage.Backend.
//
// It is used by tests and by ephemeral nodes that never persist anything.
// Subscriptions are push based: appends are delivered synchronously to every
// live subscriber of the list.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/ipfs/go-cid"

	"github.com/e-e-e/dweb-transport/cidutil"
	"github.com/e-e-e/dweb-transport/storage"
)

type Backend struct {
	mu     sync.RWMutex
	blocks map[cid.Cid][]byte
	lists  map[string][]storage.ListEntry
	tables map[string]map[string][]byte
	subs   map[string]map[int]func(storage.ListEntry)
	nextID int

	puts int
}

var _ storage.Backend = (*Backend)(nil)

func New() *Backend {
	return &Backend{
		blocks: map[cid.Cid][]byte{},
		lists:  map[string][]storage.ListEntry{},
		tables: map[string]map[string][]byte{},
		subs:   map[string]map[int]func(storage.ListEntry){},
	}
}

func (b *Backend) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	if err := ctx.Err(); err != nil {
		return cid.Undef, err
	}
	id, err := cidutil.CIDv1RawSHA256CID(data)
	if err != nil {
		return cid.Undef, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.puts++
	if existing, ok := b.blocks[id]; ok {
		if !bytes.Equal(existing, data) {
			return cid.Undef, storage.ErrImmutable
		}
		return id, nil
	}
	b.blocks[id] = append([]byte(nil), data...)
	return id, nil
}

func (b *Backend) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.blocks[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (b *Backend) Has(ctx context.Context, id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.blocks[id]
	return ok
}

// Puts reports how many Put calls reached this backend.
func (b *Backend) Puts() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.puts
}

func (b *Backend) ListAppend(ctx context.Context, list string, entry storage.ListEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !storage.ValidName(list) {
		return storage.ErrInvalidName
	}
	b.mu.Lock()
	b.lists[list] = append(b.lists[list], entry)
	subs := make([]func(storage.ListEntry), 0, len(b.subs[list]))
	for _, fn := range b.subs[list] {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(entry)
	}
	return nil
}

func (b *Backend) ListFetch(ctx context.Context, list string) ([]storage.ListEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]storage.ListEntry{}, b.lists[list]...), nil
}

func (b *Backend) ListSubscribe(ctx context.Context, list string, fn func(storage.ListEntry)) error {
	if !storage.ValidName(list) {
		return storage.ErrInvalidName
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[list] == nil {
		b.subs[list] = map[int]func(storage.ListEntry){}
	}
	b.subs[list][id] = fn
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[list], id)
		b.mu.Unlock()
	}()
	return nil
}

func (b *Backend) TableGet(ctx context.Context, table, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.tables[table][key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (b *Backend) TableSet(ctx context.Context, table, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !storage.ValidName(table) || key == "" {
		return storage.ErrInvalidName
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tables[table] == nil {
		b.tables[table] = map[string][]byte{}
	}
	b.tables[table][key] = append([]byte(nil), value...)
	return nil
}

func (b *Backend) TableKeys(ctx context.Context, table string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.tables[table]))
	for k := range b.tables[table] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
