package dweb

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/e-e-e/dweb-transport/storage/memory"
	"github.com/e-e-e/dweb-transport/transport"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	client *Client
	clock  *clock
	tr     *transport.Transports
	mems   map[string]*memory.Backend
}

// newEnv builds a client over in-memory backends that every write reaches.
func newEnv(t *testing.T, names ...string) *testEnv {
	t.Helper()
	if len(names) == 0 {
		names = []string{"mem"}
	}
	env := &testEnv{clock: newClock(), mems: map[string]*memory.Backend{}}
	var named []transport.Named
	for _, n := range names {
		m := memory.New()
		env.mems[n] = m
		named = append(named, transport.Named{Name: n, Backend: m})
	}
	log := zaptest.NewLogger(t)
	tr, err := transport.New(named, transport.Options{WritePolicy: transport.WriteAll, Timeout: 5 * time.Second, Logger: log})
	require.NoError(t, err)
	env.tr = tr
	env.client = NewClient(tr, Options{Logger: log, Now: env.clock.Now})
	t.Cleanup(env.client.Wait)
	return env
}
