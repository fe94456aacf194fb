// Package transport routes content URLs, lists and tables to named storage
// backends.
//
// A content URL is "<backend>:<cid>"; list and table locations are
// "<backend>:<name>". Several URLs for the same object are alternative
// locations for the same bytes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/ipfs/go-cid"
	"go.uber.org/zap"

	"github.com/e-e-e/dweb-transport/cidutil"
	"github.com/e-e-e/dweb-transport/storage"
)

// WritePolicy selects which backends receive new blocks.
type WritePolicy string

const (
	// WriteFirst writes only to the first backend; reads fall back in order.
	WriteFirst WritePolicy = "first"
	// WriteAll writes to every backend and requires all of them to succeed.
	WriteAll WritePolicy = "all"
)

// ErrNoBackends is returned by New when no backend is supplied.
var ErrNoBackends = errors.New("transport: no backends")

// Named associates a backend with the stable name used in URLs.
type Named struct {
	Name    string
	Backend storage.Backend
}

type Options struct {
	// WritePolicy defaults to WriteFirst.
	WritePolicy WritePolicy
	// Timeout applies to each backend call when non-zero. A call that times
	// out counts as that replica being unavailable.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Transports fans storage operations out over an ordered set of backends.
type Transports struct {
	backends []Named
	byName   map[string]storage.Backend
	policy   WritePolicy
	timeout  time.Duration
	log      *zap.Logger
}

func New(backends []Named, opts Options) (*Transports, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackends
	}
	t := &Transports{
		backends: append([]Named(nil), backends...),
		byName:   make(map[string]storage.Backend, len(backends)),
		policy:   opts.WritePolicy,
		timeout:  opts.Timeout,
		log:      opts.Logger,
	}
	if t.policy == "" {
		t.policy = WriteFirst
	}
	if t.policy != WriteFirst && t.policy != WriteAll {
		return nil, fmt.Errorf("transport: invalid write policy %q", t.policy)
	}
	if t.log == nil {
		t.log = zap.NewNop()
	}
	for _, b := range backends {
		if b.Name == "" || b.Backend == nil {
			return nil, fmt.Errorf("transport: backend %q is incomplete", b.Name)
		}
		if _, dup := t.byName[b.Name]; dup {
			return nil, fmt.Errorf("transport: duplicate backend %q", b.Name)
		}
		t.byName[b.Name] = b.Backend
	}
	return t, nil
}

// Names returns backend names in configured order.
func (t *Transports) Names() []string {
	out := make([]string, 0, len(t.backends))
	for _, b := range t.backends {
		out = append(out, b.Name)
	}
	return out
}

// Backend returns the backend registered under name.
func (t *Transports) Backend(name string) (storage.Backend, bool) {
	b, ok := t.byName[name]
	return b, ok
}

func (t *Transports) writers() []Named {
	if t.policy == WriteAll {
		return t.backends
	}
	return t.backends[:1]
}

func (t *Transports) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, t.timeout)
}

// Address returns the URLs Store would assign to data, without writing.
func (t *Transports) Address(data []byte) ([]string, error) {
	id, err := cidutil.CIDv1RawSHA256CID(data)
	if err != nil {
		return nil, err
	}
	ws := t.writers()
	urls := make([]string, 0, len(ws))
	for _, w := range ws {
		urls = append(urls, cidutil.FormatURL(w.Name, id))
	}
	return urls, nil
}

// Store writes data according to the write policy and returns its URLs.
//
// Under WriteAll every backend must accept the block and return the CID
// derived from the bytes; otherwise the accumulated errors are returned.
func (t *Transports) Store(ctx context.Context, data []byte) ([]string, error) {
	want, err := cidutil.CIDv1RawSHA256CID(data)
	if err != nil {
		return nil, err
	}
	ws := t.writers()
	urls := make([]string, len(ws))
	errs := make([]error, len(ws))
	var wg sync.WaitGroup
	for i, w := range ws {
		wg.Add(1)
		go func(i int, w Named) {
			defer wg.Done()
			cctx, cancel := t.withTimeout(ctx)
			defer cancel()
			got, err := w.Backend.Put(cctx, data)
			if err == nil && got != want {
				err = storage.ErrCIDMismatch
			}
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", w.Name, err)
				return
			}
			urls[i] = cidutil.FormatURL(w.Name, got)
		}(i, w)
	}
	wg.Wait()

	var merr *multierror.Error
	for _, err := range errs {
		if err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}
	return urls, nil
}

// Fetch returns the bytes behind urls, trying each URL in order and then, since
// content is addressed by CID, every remaining backend.
//
// It returns storage.ErrNotFound when no location has the content.
func (t *Transports) Fetch(ctx context.Context, urls []string) ([]byte, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("transport: fetch: no urls")
	}
	var (
		merr    *multierror.Error
		ids     []cid.Cid
		tried   = map[string]bool{}
		allMiss = true
	)
	try := func(name string, b storage.Backend, id cid.Cid) ([]byte, bool) {
		key := cidutil.FormatURL(name, id)
		if tried[key] {
			return nil, false
		}
		tried[key] = true
		cctx, cancel := t.withTimeout(ctx)
		defer cancel()
		data, err := b.Get(cctx, id)
		if err != nil {
			if !storage.IsNotFound(err) {
				allMiss = false
				merr = multierror.Append(merr, fmt.Errorf("%s: %w", key, err))
			}
			return nil, false
		}
		return data, true
	}

	for _, u := range urls {
		name, id, err := cidutil.ParseURL(u)
		if err != nil {
			allMiss = false
			merr = multierror.Append(merr, err)
			continue
		}
		ids = append(ids, id)
		b, ok := t.byName[name]
		if !ok {
			t.log.Debug("no backend for url", zap.String("url", u))
			continue
		}
		if data, ok := try(name, b, id); ok {
			return data, nil
		}
	}
	for _, id := range ids {
		for _, nb := range t.backends {
			if data, ok := try(nb.Name, nb.Backend, id); ok {
				return data, nil
			}
		}
	}
	if allMiss {
		return nil, storage.ErrNotFound
	}
	return nil, merr.ErrorOrNil()
}

// Has reports whether any location of urls holds the content.
func (t *Transports) Has(ctx context.Context, urls []string) bool {
	for _, u := range urls {
		name, id, err := cidutil.ParseURL(u)
		if err != nil {
			continue
		}
		if b, ok := t.byName[name]; ok {
			cctx, cancel := t.withTimeout(ctx)
			has := b.Has(cctx, id)
			cancel()
			if has {
				return true
			}
		}
	}
	return false
}

func (t *Transports) locate(loc string) (storage.Backend, string, error) {
	name, rest, err := cidutil.ParseLocation(loc)
	if err != nil {
		return nil, "", err
	}
	b, ok := t.byName[name]
	if !ok {
		return nil, "", fmt.Errorf("transport: unknown backend %q in %q", name, loc)
	}
	return b, rest, nil
}
