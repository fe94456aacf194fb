// Package keys provides the key pairs records are signed with.
//
// A KeyPair always carries a public key and may carry the matching private
// key. Holders of only the public half can verify but never sign.
//
// Key strings:
//
//	ed25519:<base64 public key>
//	dilithium3:<base64 public key>
//	ed25519-seed:<base64 32-byte seed>       (private)
//	dilithium3-private:<base64 private key>  (private)
//
// Seeds are stored as "<algorithm>:<hex>". Seed.Derive turns one root seed
// into any number of role seeds. The filesystem KeyStore that holds them is a
// local-first convenience for CLIs and is not part of the record format.
package keys
