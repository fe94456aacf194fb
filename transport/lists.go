package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/e-e-e/dweb-transport/storage"
)

func entryKey(e storage.ListEntry) string { return e.SignedBy + "\x00" + e.Date + "\x00" + e.Signature }

// ListAppend records entry on every list location. Locations on unknown
// backends are skipped; the append fails only when no location accepted it.
func (t *Transports) ListAppend(ctx context.Context, lists []string, entry storage.ListEntry) error {
	var merr *multierror.Error
	ok := 0
	for _, loc := range lists {
		b, name, err := t.locate(loc)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		cctx, cancel := t.withTimeout(ctx)
		err = b.ListAppend(cctx, name, entry)
		cancel()
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", loc, err))
			continue
		}
		ok++
	}
	if ok == 0 {
		if err := merr.ErrorOrNil(); err != nil {
			return err
		}
		return fmt.Errorf("transport: list append: no locations")
	}
	if merr != nil {
		t.log.Warn("list append incomplete", zap.Strings("lists", lists), zap.Error(merr))
	}
	return nil
}

// ListFetch merges the entries of every list location. Entries keep the order
// of the first location that returned them; replicas that fail are logged and
// skipped.
func (t *Transports) ListFetch(ctx context.Context, lists []string) ([]storage.ListEntry, error) {
	var merr *multierror.Error
	answered := 0
	seen := map[string]bool{}
	out := []storage.ListEntry{}
	for _, loc := range lists {
		b, name, err := t.locate(loc)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		cctx, cancel := t.withTimeout(ctx)
		entries, err := b.ListFetch(cctx, name)
		cancel()
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", loc, err))
			continue
		}
		answered++
		for _, e := range entries {
			k := entryKey(e)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, e)
		}
	}
	if answered == 0 && merr != nil {
		return nil, merr.ErrorOrNil()
	}
	if merr != nil {
		t.log.Debug("list replicas unavailable", zap.Strings("lists", lists), zap.Error(merr))
	}
	return out, nil
}

// ListSubscribe delivers each new entry once, whichever location reports it first.
func (t *Transports) ListSubscribe(ctx context.Context, lists []string, fn func(storage.ListEntry)) error {
	var (
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	deliver := func(e storage.ListEntry) {
		mu.Lock()
		k := entryKey(e)
		dup := seen[k]
		seen[k] = true
		mu.Unlock()
		if !dup {
			fn(e)
		}
	}
	subscribed := 0
	var merr *multierror.Error
	for _, loc := range lists {
		b, name, err := t.locate(loc)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		if err := b.ListSubscribe(ctx, name, deliver); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", loc, err))
			continue
		}
		subscribed++
	}
	if subscribed == 0 {
		if err := merr.ErrorOrNil(); err != nil {
			return err
		}
		return fmt.Errorf("transport: subscribe: no locations")
	}
	return nil
}
