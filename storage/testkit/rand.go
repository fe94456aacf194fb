package testkit

import (
	"crypto/rand"
	"encoding/hex"
	"testing"
)

// RandomSuffix returns a short lowercase hex string for isolating shared
// resources such as buckets between tests.
func RandomSuffix(t *testing.T) string {
	t.Helper()
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return hex.EncodeToString(b[:])
}
