package testkit

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ipfs/go-cid"

	"github.com/e-e-e/dweb-transport/cidutil"
	"github.com/e-e-e/dweb-transport/storage"
)

// NewBackend constructs a fresh, empty backend for a test.
// The returned backend MUST be isolated from other tests.
type NewBackend func(t *testing.T) storage.Backend

// RunBackendConformance checks the storage.Backend contract: CAS, lists and tables.
func RunBackendConformance(t *testing.T, newBackend NewBackend) {
	t.Helper()
	RunCASConformance(t, func(t *testing.T) storage.CAS { return newBackend(t) })

	t.Run("ListAppendFetchOrder", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		got, err := b.ListFetch(ctx, "unknown")
		if err != nil {
			t.Fatalf("ListFetch unknown: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("ListFetch unknown: got %d entries", len(got))
		}

		for i, d := range []string{"2020-01-01T00:00:00Z", "2021-01-01T00:00:00Z", "2019-01-01T00:00:00Z"} {
			e := storage.ListEntry{Date: d, URLs: []string{"x:" + d}, Signature: "c2ln", SignedBy: "ed25519:k"}
			if err := b.ListAppend(ctx, "l1", e); err != nil {
				t.Fatalf("ListAppend(%d): %v", i, err)
			}
		}
		got, err = b.ListFetch(ctx, "l1")
		if err != nil {
			t.Fatalf("ListFetch: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("ListFetch: got %d entries want 3", len(got))
		}
		if got[0].Date != "2020-01-01T00:00:00Z" || got[2].Date != "2019-01-01T00:00:00Z" {
			t.Fatalf("ListFetch order not preserved: %+v", got)
		}
		if got[1].URLs[0] != "x:2021-01-01T00:00:00Z" || got[1].SignedBy != "ed25519:k" {
			t.Fatalf("ListFetch entry mismatch: %+v", got[1])
		}
	})

	t.Run("ListSubscribe", func(t *testing.T) {
		b := newBackend(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var mu sync.Mutex
		var seen []storage.ListEntry
		if err := b.ListSubscribe(ctx, "watched", func(e storage.ListEntry) {
			mu.Lock()
			seen = append(seen, e)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("ListSubscribe: %v", err)
		}
		e := storage.ListEntry{Date: "2022-02-02T00:00:00Z", URLs: []string{"x:y"}, Signature: "c2ln", SignedBy: "k"}
		if err := b.ListAppend(ctx, "watched", e); err != nil {
			t.Fatalf("ListAppend: %v", err)
		}

		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) {
			mu.Lock()
			n := len(seen)
			mu.Unlock()
			if n > 0 {
				break
			}
			time.Sleep(20 * time.Millisecond)
		}
		mu.Lock()
		defer mu.Unlock()
		if len(seen) != 1 || seen[0].Date != e.Date {
			t.Fatalf("subscriber saw %+v", seen)
		}
	})

	t.Run("TableSetGetKeys", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		if _, err := b.TableGet(ctx, "t1", "a"); !storage.IsNotFound(err) {
			t.Fatalf("TableGet missing: got %v want ErrNotFound", err)
		}
		if err := b.TableSet(ctx, "t1", "a/b", []byte("first")); err != nil {
			t.Fatalf("TableSet: %v", err)
		}
		if err := b.TableSet(ctx, "t1", "a", []byte("root")); err != nil {
			t.Fatalf("TableSet: %v", err)
		}
		if err := b.TableSet(ctx, "t1", "a/b", []byte("second")); err != nil {
			t.Fatalf("TableSet overwrite: %v", err)
		}
		got, err := b.TableGet(ctx, "t1", "a/b")
		if err != nil {
			t.Fatalf("TableGet: %v", err)
		}
		if string(got) != "second" {
			t.Fatalf("TableGet: got %q want %q", got, "second")
		}
		keys, err := b.TableKeys(ctx, "t1")
		if err != nil {
			t.Fatalf("TableKeys: %v", err)
		}
		if len(keys) != 2 || keys[0] != "a" || keys[1] != "a/b" {
			t.Fatalf("TableKeys: got %v", keys)
		}
	})
}

// NewCAS constructs a fresh, empty CAS instance for a test.
// The returned CAS MUST be isolated from other tests.
type NewCAS func(t *testing.T) storage.CAS

func RunCASConformance(t *testing.T, newCAS NewCAS) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		cas := newCAS(t)
		want := []byte("hello, dweb storage")

		id, err := cas.Put(ctx, want)
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		wantID, err := cidutil.CIDv1RawSHA256CID(want)
		if err != nil {
			t.Fatalf("CIDv1RawSHA256CID failed: %v", err)
		}
		if id != wantID {
			t.Fatalf("Put CID mismatch: got %s want %s", id, wantID)
		}

		got, err := cas.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Get bytes mismatch")
		}
	})

	t.Run("PutIdempotent", func(t *testing.T) {
		cas := newCAS(t)
		b := []byte("same bytes")

		id1, err := cas.Put(ctx, b)
		if err != nil {
			t.Fatalf("Put(1) failed: %v", err)
		}
		id2, err := cas.Put(ctx, b)
		if err != nil {
			t.Fatalf("Put(2) failed: %v", err)
		}
		if id1 != id2 {
			t.Fatalf("Put not idempotent: %s vs %s", id1, id2)
		}
	})

	t.Run("HasAndNotFound", func(t *testing.T) {
		cas := newCAS(t)
		b := []byte("missing")
		id, err := cidutil.CIDv1RawSHA256CID(b)
		if err != nil {
			t.Fatalf("CIDv1RawSHA256CID failed: %v", err)
		}

		if cas.Has(ctx, id) {
			t.Fatalf("Has returned true for missing CID")
		}
		_, err = cas.Get(ctx, id)
		if !storage.IsNotFound(err) {
			t.Fatalf("Get missing: got err=%v want ErrNotFound", err)
		}

		_, err = cas.Put(ctx, b)
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if !cas.Has(ctx, id) {
			t.Fatalf("Has returned false after Put")
		}
	})

	t.Run("RejectUndefCID", func(t *testing.T) {
		cas := newCAS(t)
		var undef cid.Cid
		if cas.Has(ctx, undef) {
			t.Fatalf("Has should be false for undefined CID")
		}
		if _, err := cas.Get(ctx, undef); err == nil {
			t.Fatalf("Get should fail for undefined CID")
		}
	})
}
