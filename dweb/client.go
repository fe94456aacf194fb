// Package dweb implements content-addressed records, signed append-only
// lists, linked content blocks and hierarchical names on replicated tables.
//
// Every record is created through a Client, which carries the transport,
// the type registry, the codec and the keyring used to decrypt records.
package dweb

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/e-e-e/dweb-transport/acl"
	"github.com/e-e-e/dweb-transport/codec"
	"github.com/e-e-e/dweb-transport/storage"
)

// Transport is the storage surface records are persisted through.
// *transport.Transports implements it.
type Transport interface {
	// Address returns the URLs Store would assign to data.
	Address(data []byte) ([]string, error)
	Store(ctx context.Context, data []byte) ([]string, error)
	Fetch(ctx context.Context, urls []string) ([]byte, error)

	ListAppend(ctx context.Context, lists []string, entry storage.ListEntry) error
	ListFetch(ctx context.Context, lists []string) ([]storage.ListEntry, error)
	ListSubscribe(ctx context.Context, lists []string, fn func(storage.ListEntry)) error

	TableLocations(table string) []string
	TableGet(ctx context.Context, loc, key string) ([]byte, error)
	TableSet(ctx context.Context, locs []string, key string, value []byte) error
	TableKeys(ctx context.Context, loc string) ([]string, error)
}

// DefaultCacheTTL bounds how long a Domain trusts a resolved entry.
const DefaultCacheTTL = 10 * time.Minute

type Options struct {
	// Registry defaults to DefaultRegistry().
	Registry *Registry
	// Codec defaults to codec.Default.
	Codec  codec.Codec
	Logger *zap.Logger
	// Keyring holds the access-control handles used to decrypt records.
	Keyring *acl.Keyring
	// CacheTTL caps Domain cache entries; zero uses DefaultCacheTTL.
	CacheTTL time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type Client struct {
	transport Transport
	registry  *Registry
	codec     codec.Codec
	log       *zap.Logger
	keyring   *acl.Keyring
	cacheTTL  time.Duration
	now       func() time.Time

	// pending tracks background stores by URL so Fetch never races them.
	pendingMu sync.Mutex
	pending   map[string]chan struct{}
	bg        sync.WaitGroup
}

func NewClient(t Transport, opts Options) *Client {
	c := &Client{
		transport: t,
		registry:  opts.Registry,
		codec:     opts.Codec,
		log:       opts.Logger,
		keyring:   opts.Keyring,
		cacheTTL:  opts.CacheTTL,
		now:       opts.Now,
		pending:   map[string]chan struct{}{},
	}
	if c.registry == nil {
		c.registry = DefaultRegistry()
	}
	if c.codec == nil {
		c.codec = codec.Default
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.keyring == nil {
		c.keyring = acl.NewKeyring()
	}
	if c.cacheTTL <= 0 {
		c.cacheTTL = DefaultCacheTTL
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

func (c *Client) Transport() Transport { return c.transport }
func (c *Client) Registry() *Registry { return c.registry }
func (c *Client) Keyring() *acl.Keyring { return c.keyring }
func (c *Client) Logger() *zap.Logger { return c.log }

// Wait blocks until every background store has finished.
func (c *Client) Wait() { c.bg.Wait() }

// background runs fn detached from the caller. Fetches of urls wait for it.
func (c *Client) background(op string, urls []string, fn func(ctx context.Context) error) {
	done := make(chan struct{})
	c.pendingMu.Lock()
	for _, u := range urls {
		c.pending[u] = done
	}
	c.pendingMu.Unlock()

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		defer func() {
			c.pendingMu.Lock()
			for _, u := range urls {
				if c.pending[u] == done {
					delete(c.pending, u)
				}
			}
			c.pendingMu.Unlock()
			close(done)
		}()
		if err := fn(context.Background()); err != nil {
			c.log.Error("background store failed", zap.String("op", op), zap.Strings("urls", urls), zap.Error(err))
		}
	}()
}

func (c *Client) awaitPending(ctx context.Context, urls []string) error {
	for _, u := range urls {
		c.pendingMu.Lock()
		done := c.pending[u]
		c.pendingMu.Unlock()
		if done == nil {
			continue
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
