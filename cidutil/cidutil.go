package cidutil

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/zeebo/blake3"
)

// ErrInvalidURL is returned when a content or table URL is malformed.
var ErrInvalidURL = errors.New("cidutil: invalid url")

// CIDv1RawSHA256 returns a CIDv1 string using the "raw" multicodec
// and a sha2-256 multihash.
func CIDv1RawSHA256(data []byte) string {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		// multihash.Sum only errors for invalid inputs; with SHA2_256 and -1 length,
		// this should be unreachable.
		return ""
	}
	return cid.NewCidV1(cid.Raw, sum).String()
}

// CIDv1RawSHA256CID returns a CIDv1 (raw + sha2-256) derived from data.
func CIDv1RawSHA256CID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// FormatURL renders the content URL of id on the named backend: "<backend>:<cid>".
func FormatURL(backend string, id cid.Cid) string {
	return backend + ":" + id.String()
}

// ParseURL splits a content URL into its backend name and CID.
func ParseURL(u string) (string, cid.Cid, error) {
	backend, rest, ok := strings.Cut(u, ":")
	if !ok || backend == "" || rest == "" {
		return "", cid.Undef, fmt.Errorf("%w: %q", ErrInvalidURL, u)
	}
	id, err := cid.Decode(rest)
	if err != nil || !id.Defined() {
		return "", cid.Undef, fmt.Errorf("%w: %q", ErrInvalidURL, u)
	}
	return backend, id, nil
}

// FormatLocation renders a table or list location: "<backend>:<name>".
func FormatLocation(backend, name string) string {
	return backend + ":" + name
}

// ParseLocation splits a table or list location into backend and name.
// Content URLs are valid locations too; the name is then the CID string.
func ParseLocation(loc string) (string, string, error) {
	backend, name, ok := strings.Cut(loc, ":")
	if !ok || backend == "" || name == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURL, loc)
	}
	return backend, name, nil
}

// tableDomainKey separates table-name hashes from any other blake3 use.
var tableDomainKey = [32]byte{
	'd', 'w', 'e', 'b', '.', 't', 'a', 'b', 'l', 'e',
}

// TableName derives a stable table name from an exported public key, so every
// replica of one Domain uses the same name without coordination.
func TableName(publicKey string) string {
	h, err := blake3.NewKeyed(tableDomainKey[:])
	if err != nil {
		// NewKeyed only fails for keys that are not 32 bytes.
		panic(err)
	}
	_, _ = h.Write([]byte(publicKey))
	return "t" + hex.EncodeToString(h.Sum(nil)[:20])
}
