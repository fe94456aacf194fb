package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e-e-e/dweb-transport/cidutil"
	"github.com/e-e-e/dweb-transport/storage"
	"github.com/e-e-e/dweb-transport/storage/memory"
)

// stalled blocks every call until ctx is done.
type stalled struct{ storage.Backend }

func (s stalled) Put(ctx context.Context, _ []byte) (cid.Cid, error) {
	<-ctx.Done()
	return cid.Undef, ctx.Err()
}

func (s stalled) Get(ctx context.Context, _ cid.Cid) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s stalled) TableGet(ctx context.Context, _, _ string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTransports(t *testing.T, policy WritePolicy, names ...string) (*Transports, map[string]*memory.Backend) {
	t.Helper()
	mems := map[string]*memory.Backend{}
	var named []Named
	for _, n := range names {
		m := memory.New()
		mems[n] = m
		named = append(named, Named{Name: n, Backend: m})
	}
	tr, err := New(named, Options{WritePolicy: policy, Timeout: time.Second})
	require.NoError(t, err)
	return tr, mems
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, Options{})
	assert.ErrorIs(t, err, ErrNoBackends)

	m := memory.New()
	_, err = New([]Named{{Name: "a", Backend: m}, {Name: "a", Backend: m}}, Options{})
	assert.Error(t, err)

	_, err = New([]Named{{Name: "a", Backend: m}}, Options{WritePolicy: "some"})
	assert.Error(t, err)
}

func TestStoreFirstPolicy(t *testing.T) {
	tr, mems := newTransports(t, WriteFirst, "a", "b")
	ctx := context.Background()

	urls, err := tr.Store(ctx, []byte("x"))
	require.NoError(t, err)
	want, err := tr.Address([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, want, urls)
	require.Len(t, urls, 1)
	assert.Equal(t, "a:"+cidutil.CIDv1RawSHA256([]byte("x")), urls[0])
	assert.Equal(t, 1, mems["a"].Puts())
	assert.Equal(t, 0, mems["b"].Puts())
}

func TestStoreAllPolicy(t *testing.T) {
	tr, mems := newTransports(t, WriteAll, "a", "b")
	ctx := context.Background()

	urls, err := tr.Store(ctx, []byte("x"))
	require.NoError(t, err)
	assert.Len(t, urls, 2)
	assert.Equal(t, 1, mems["a"].Puts())
	assert.Equal(t, 1, mems["b"].Puts())

	got, err := tr.Fetch(ctx, urls[1:])
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)
}

func TestStoreAllFailsWhenOneReplicaTimesOut(t *testing.T) {
	tr, err := New([]Named{
		{Name: "a", Backend: memory.New()},
		{Name: "slow", Backend: stalled{memory.New()}},
	}, Options{WritePolicy: WriteAll, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	_, err = tr.Store(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestFetchFallsBackAcrossBackends(t *testing.T) {
	tr, mems := newTransports(t, WriteFirst, "a", "b")
	ctx := context.Background()

	id, err := mems["b"].Put(ctx, []byte("only on b"))
	require.NoError(t, err)

	got, err := tr.Fetch(ctx, []string{cidutil.FormatURL("a", id)})
	require.NoError(t, err)
	assert.Equal(t, []byte("only on b"), got)

	got, err = tr.Fetch(ctx, []string{cidutil.FormatURL("gone", id)})
	require.NoError(t, err)
	assert.Equal(t, []byte("only on b"), got)
}

func TestFetchNotFound(t *testing.T) {
	tr, _ := newTransports(t, WriteFirst, "a")
	id, err := cidutil.CIDv1RawSHA256CID([]byte("nowhere"))
	require.NoError(t, err)

	_, err = tr.Fetch(context.Background(), []string{cidutil.FormatURL("a", id)})
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.False(t, tr.Has(context.Background(), []string{cidutil.FormatURL("a", id)}))
}

func TestFetchTimeoutIsReplicaUnavailable(t *testing.T) {
	mem := memory.New()
	ctx := context.Background()
	id, err := mem.Put(ctx, []byte("here"))
	require.NoError(t, err)

	tr, err := New([]Named{
		{Name: "slow", Backend: stalled{memory.New()}},
		{Name: "fast", Backend: mem},
	}, Options{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	got, err := tr.Fetch(ctx, []string{cidutil.FormatURL("slow", id), cidutil.FormatURL("fast", id)})
	require.NoError(t, err)
	assert.Equal(t, []byte("here"), got)
}

func TestListsMergeAcrossReplicas(t *testing.T) {
	tr, mems := newTransports(t, WriteAll, "a", "b")
	ctx := context.Background()
	locs := []string{"a:l", "b:l"}

	e1 := storage.ListEntry{Date: "2020-01-01T00:00:00Z", URLs: []string{"a:1"}, Signature: "s1", SignedBy: "k"}
	e2 := storage.ListEntry{Date: "2020-01-02T00:00:00Z", URLs: []string{"a:2"}, Signature: "s2", SignedBy: "k"}
	require.NoError(t, tr.ListAppend(ctx, locs, e1))
	// e2 only reached replica b.
	require.NoError(t, mems["b"].ListAppend(ctx, "l", e2))

	got, err := tr.ListFetch(ctx, locs)
	require.NoError(t, err)
	assert.Equal(t, []storage.ListEntry{e1, e2}, got)

	err = tr.ListAppend(ctx, []string{"nope:l"}, e1)
	assert.Error(t, err)
}

func TestListSubscribeDeduplicates(t *testing.T) {
	tr, _ := newTransports(t, WriteAll, "a", "b")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	locs := []string{"a:l", "b:l"}

	var got []storage.ListEntry
	require.NoError(t, tr.ListSubscribe(ctx, locs, func(e storage.ListEntry) { got = append(got, e) }))

	e := storage.ListEntry{Date: "2020-01-01T00:00:00Z", URLs: []string{"a:1"}, Signature: "s", SignedBy: "k"}
	require.NoError(t, tr.ListAppend(ctx, locs, e))
	// memory delivers synchronously
	assert.Equal(t, []storage.ListEntry{e}, got)
}

func TestTables(t *testing.T) {
	tr, _ := newTransports(t, WriteFirst, "a", "b")
	ctx := context.Background()

	locs := tr.TableLocations("t1")
	assert.Equal(t, []string{"a:t1", "b:t1"}, locs)

	require.NoError(t, tr.TableSet(ctx, locs, "k/x", []byte("v")))
	for _, loc := range locs {
		v, err := tr.TableGet(ctx, loc, "k/x")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), v)

		keys, err := tr.TableKeys(ctx, loc)
		require.NoError(t, err)
		assert.Equal(t, []string{"k/x"}, keys)
	}

	_, err := tr.TableGet(ctx, "a:t1", "absent")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = tr.TableSet(ctx, []string{"a:t1", "missing:t1"}, "k", []byte("v"))
	assert.Error(t, err)
}
