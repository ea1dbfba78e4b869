// Package cryptox derives session keys from passwords and encrypts
// byte streams and JSON documents with them.
package cryptox

import (
	"crypto/sha256"

	"golang.org/x/crypto/argon2"
)

// KeySize is the length of every derived key (AES-256).
const KeySize = 32

// Params are the argon2id cost parameters. Memory is in KiB.
type Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

// DefaultParams are used by the server unless the config overrides them.
var DefaultParams = Params{Time: 1, Memory: 64 * 1024, Threads: 4}

// DeriveKey derives a KeySize key from password and salt. The same inputs
// always yield the same key.
func DeriveKey(password, salt []byte, p Params) []byte {
	return argon2.IDKey(password, salt, p.Time, p.Memory, p.Threads, KeySize)
}

// MakeVerifier returns a digest of the key that can be compared without
// keeping the password around.
func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}
