package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e-e-e/dweb-transport/storage"
	"github.com/e-e-e/dweb-transport/storage/testkit"
)

func TestMergedConformance(t *testing.T) {
	testkit.RunBackendConformance(t, func(t *testing.T) storage.Backend {
		tr, _ := newTransports(t, WriteFirst, "a", "b")
		return tr.Merged()
	})
}

func TestMergedReadsEveryReplica(t *testing.T) {
	tr, mems := newTransports(t, WriteFirst, "a", "b")
	m := tr.Merged()
	ctx := context.Background()

	id, err := mems["b"].Put(ctx, []byte("only on b"))
	require.NoError(t, err)
	got, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("only on b"), got)
	assert.True(t, m.Has(ctx, id))

	require.NoError(t, mems["a"].TableSet(ctx, "t", "x", []byte("1")))
	require.NoError(t, mems["b"].TableSet(ctx, "t", "y", []byte("2")))
	keys, err := m.TableKeys(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, keys)

	v, err := m.TableGet(ctx, "t", "y")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)
	_, err = m.TableGet(ctx, "t", "z")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMergedPutFollowsPolicy(t *testing.T) {
	tr, mems := newTransports(t, WriteFirst, "a", "b")
	ctx := context.Background()

	id, err := tr.Merged().Put(ctx, []byte("first only"))
	require.NoError(t, err)
	assert.True(t, mems["a"].Has(ctx, id))
	assert.False(t, mems["b"].Has(ctx, id))
}
