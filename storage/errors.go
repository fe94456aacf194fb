package storage

import (
	"errors"

	"github.com/ipfs/go-cid"

	"github.com/e-e-e/dweb-transport/cidutil"
)

var (
	// ErrNotFound is returned for absent blocks and table keys.
	ErrNotFound = errors.New("storage: not found")
	// ErrInvalidCID is returned for an undefined or unsupported CID.
	ErrInvalidCID = errors.New("storage: invalid cid")
	// ErrCIDMismatch is returned when bytes do not hash to the CID they were
	// stored or fetched under.
	ErrCIDMismatch = errors.New("storage: cid mismatch")
	// ErrImmutable is returned when a different object already occupies a CID.
	ErrImmutable = errors.New("storage: immutable object mismatch")
	// ErrInvalidName is returned for list and table names ValidName rejects.
	ErrInvalidName = errors.New("storage: invalid list or table name")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Verify checks that data is the block addressed by id. Every Get re-hashes
// what it read, so a corrupted or lying backend is never trusted.
func Verify(id cid.Cid, data []byte) error {
	got, err := cidutil.CIDv1RawSHA256CID(data)
	if err != nil {
		return err
	}
	if !got.Equals(id) {
		return ErrCIDMismatch
	}
	return nil
}
