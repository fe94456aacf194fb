package bundle_test

import (
	"archive/tar"
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e-e-e/dweb-transport/cidutil"
	"github.com/e-e-e/dweb-transport/storage"
	"github.com/e-e-e/dweb-transport/storage/bundle"
	"github.com/e-e-e/dweb-transport/storage/localfs"
	"github.com/e-e-e/dweb-transport/storage/memory"
)

func entry(date string) storage.ListEntry {
	return storage.ListEntry{Date: date, URLs: []string{"memory:x"}, Signature: "c2ln", SignedBy: "ed25519:k"}
}

// seeded returns a backend holding two blocks, a list and a table.
func seeded(t *testing.T) (storage.Backend, []cid.Cid) {
	t.Helper()
	ctx := context.Background()
	src := memory.New()
	id1, err := src.Put(ctx, []byte("hello"))
	require.NoError(t, err)
	id2, err := src.Put(ctx, []byte("world"))
	require.NoError(t, err)
	require.NoError(t, src.ListAppend(ctx, "feed", entry("2024-03-01T12:00:00Z")))
	require.NoError(t, src.ListAppend(ctx, "feed", entry("2024-03-02T12:00:00Z")))
	require.NoError(t, src.TableSet(ctx, "names", "docs/readme", []byte("v1")))
	require.NoError(t, src.TableSet(ctx, "names", "docs", []byte("v0")))
	return src, []cid.Cid{id1, id2}
}

func TestExportIsDeterministic(t *testing.T) {
	ctx := context.Background()
	src, ids := seeded(t)

	for _, compress := range []bool{false, true} {
		opts := bundle.ExportOptions{Compress: compress}
		var outA, outB bytes.Buffer
		require.NoError(t, bundle.Export(ctx, &outA, src, bundle.Selection{
			Blocks: []cid.Cid{ids[1], ids[0]},
			Lists:  []string{"feed"},
			Tables: []string{"names"},
			Labels: map[string]string{"b": "x", "a": "y"},
		}, opts))
		require.NoError(t, bundle.Export(ctx, &outB, src, bundle.Selection{
			Blocks: []cid.Cid{ids[0], ids[1], ids[0]},
			Lists:  []string{"feed", "feed"},
			Tables: []string{"names"},
			Labels: map[string]string{"a": "y", "b": "x"},
		}, opts))
		assert.Equal(t, outA.Bytes(), outB.Bytes(), "compress=%v", compress)
	}
}

func TestImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, compress := range []bool{false, true} {
		src, ids := seeded(t)
		sel := bundle.Selection{
			Blocks: ids,
			Lists:  []string{"feed"},
			Tables: []string{"names"},
			Labels: map[string]string{"root": cidutil.FormatURL("memory", ids[0])},
		}
		var buf bytes.Buffer
		require.NoError(t, bundle.Export(ctx, &buf, src, sel, bundle.ExportOptions{Compress: compress}))

		dst, err := localfs.New(t.TempDir())
		require.NoError(t, err)
		sum, err := bundle.Import(ctx, bytes.NewReader(buf.Bytes()), dst)
		require.NoError(t, err)
		assert.Equal(t, 2, sum.Blocks)
		assert.Equal(t, 2, sum.Entries)
		assert.Equal(t, 2, sum.Rows)
		assert.Equal(t, sel.Labels, sum.Labels)

		got, err := dst.Get(ctx, ids[0])
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), got)

		entries, err := dst.ListFetch(ctx, "feed")
		require.NoError(t, err)
		assert.Equal(t, []storage.ListEntry{entry("2024-03-01T12:00:00Z"), entry("2024-03-02T12:00:00Z")}, entries)

		v, err := dst.TableGet(ctx, "names", "docs/readme")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), v)

		// a second import adds no duplicate list entries
		sum, err = bundle.Import(ctx, bytes.NewReader(buf.Bytes()), dst)
		require.NoError(t, err)
		assert.Zero(t, sum.Entries)
		entries, err = dst.ListFetch(ctx, "feed")
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	}
}

func TestExportMissingBlock(t *testing.T) {
	id, err := cidutil.CIDv1RawSHA256CID([]byte("absent"))
	require.NoError(t, err)
	var buf bytes.Buffer
	err = bundle.Export(context.Background(), &buf, memory.New(), bundle.Selection{Blocks: []cid.Cid{id}}, bundle.ExportOptions{})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = bundle.Export(context.Background(), &buf, memory.New(), bundle.Selection{Lists: []string{"../x"}}, bundle.ExportOptions{})
	assert.ErrorIs(t, err, storage.ErrInvalidName)
}

func TestImportRejectsCIDMismatch(t *testing.T) {
	good := []byte("good")
	otherCID, err := cidutil.CIDv1RawSHA256CID([]byte("other"))
	require.NoError(t, err)

	// the name says "other" but the bytes are "good"
	b := makeTar(t, map[string][]byte{"blocks/" + otherCID.String(): good})

	_, err = bundle.Import(context.Background(), bytes.NewReader(b), memory.New())
	assert.ErrorIs(t, err, storage.ErrCIDMismatch)
}

func TestImportRejectsUnknownEntries(t *testing.T) {
	ctx := context.Background()
	b := makeTar(t, map[string][]byte{"notes.txt": []byte("hi")})

	_, err := bundle.Import(ctx, bytes.NewReader(b), memory.New())
	assert.Error(t, err)
	_, err = bundle.ImportWithOptions(ctx, bytes.NewReader(b), memory.New(), bundle.ImportOptions{IgnoreUnknown: true})
	assert.NoError(t, err)
}

func TestImportRejectsEscapingPaths(t *testing.T) {
	for _, name := range []string{"../blocks/x", "blocks/../../x", "lists/./a.json"} {
		b := makeTar(t, map[string][]byte{name: []byte("x")})
		_, err := bundle.ImportWithOptions(context.Background(), bytes.NewReader(b), memory.New(), bundle.ImportOptions{IgnoreUnknown: true})
		assert.Error(t, err, name)
	}
}

func makeTar(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			ModTime:  time.Unix(0, 0).UTC(),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}
