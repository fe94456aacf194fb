package transport

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/e-e-e/dweb-transport/cidutil"
)

// TableLocations returns one location per backend for the named table, in
// configured order. Each location is an independent replica.
func (t *Transports) TableLocations(table string) []string {
	out := make([]string, 0, len(t.backends))
	for _, b := range t.backends {
		out = append(out, cidutil.FormatLocation(b.Name, table))
	}
	return out
}

// TableGet reads key from a single replica location.
func (t *Transports) TableGet(ctx context.Context, loc, key string) ([]byte, error) {
	b, table, err := t.locate(loc)
	if err != nil {
		return nil, err
	}
	cctx, cancel := t.withTimeout(ctx)
	defer cancel()
	return b.TableGet(cctx, table, key)
}

// TableSet writes key on every location. All locations are attempted; the
// errors of those that failed are returned together.
func (t *Transports) TableSet(ctx context.Context, locs []string, key string, value []byte) error {
	if len(locs) == 0 {
		return fmt.Errorf("transport: table set: no locations")
	}
	var merr *multierror.Error
	for _, loc := range locs {
		b, table, err := t.locate(loc)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		cctx, cancel := t.withTimeout(ctx)
		err = b.TableSet(cctx, table, key, value)
		cancel()
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", loc, err))
		}
	}
	return merr.ErrorOrNil()
}

// TableKeys lists the keys held by a single replica location.
func (t *Transports) TableKeys(ctx context.Context, loc string) ([]string, error) {
	b, table, err := t.locate(loc)
	if err != nil {
		return nil, err
	}
	cctx, cancel := t.withTimeout(ctx)
	defer cancel()
	return b.TableKeys(cctx, table)
}
