package password

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// scrypt parameters. Changing them invalidates every stored hash, so
// they are fixed rather than configurable.
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 16
)

// Hash derives a scrypt hash of the password under a fresh random salt.
func Hash(password string) (hash, salt []byte, err error) {
	const op = "password.Hash"

	salt = make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	hash, err = scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	return hash, salt, nil
}

// Compare rehashes the candidate password under the stored salt and
// compares in constant time. Any failure reports a plain mismatch.
func Compare(password string, salt, hash []byte) bool {
	candidate, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(candidate, hash) == 1
}
