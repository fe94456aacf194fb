package storage

import (
	"context"

	"github.com/ipfs/go-cid"
)

// CAS is a minimal content-addressable storage interface.
//
// Contract:
// - Put MUST be idempotent.
// - Stored objects MUST be immutable.
// - CIDs MUST be derived from the bytes written (callers are responsible for supplying canonical bytes).
// - Get MUST return ErrNotFound when the CID is absent.
type CAS interface {
	Put(ctx context.Context, bytes []byte) (cid.Cid, error)
	Get(ctx context.Context, id cid.Cid) ([]byte, error)
	Has(ctx context.Context, id cid.Cid) bool
}

// ListEntry is one signed element of an append-only list.
//
// Date is an RFC 3339 timestamp with nanoseconds, Signature is base64 and
// SignedBy is the signer's exported public key. URLs is the content address
// of the signed object.
type ListEntry struct {
	Date      string   `json:"date"`
	URLs      []string `json:"urls"`
	Signature string   `json:"signature"`
	SignedBy  string   `json:"signedby"`
}

// Lists stores append-only sequences of entries keyed by list name.
//
// Contract:
// - ListFetch returns entries in append order, and an empty slice for unknown lists.
// - ListSubscribe delivers entries appended after it returns, until ctx is done.
type Lists interface {
	ListAppend(ctx context.Context, list string, entry ListEntry) error
	ListFetch(ctx context.Context, list string) ([]ListEntry, error)
	ListSubscribe(ctx context.Context, list string, fn func(ListEntry)) error
}

// Tables stores mutable key/value tables.
//
// Contract:
// - TableGet MUST return ErrNotFound when the key is absent.
// - TableSet replaces any previous value.
// - TableKeys returns keys in lexicographic order.
type Tables interface {
	TableGet(ctx context.Context, table, key string) ([]byte, error)
	TableSet(ctx context.Context, table, key string, value []byte) error
	TableKeys(ctx context.Context, table string) ([]string, error)
}

// Backend is a storage provider offering all three primitives.
type Backend interface {
	CAS
	Lists
	Tables
}
