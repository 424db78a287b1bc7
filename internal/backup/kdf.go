package backup

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

// Archive key derivation parameters. Matches the vault's stretch factor so
// an exported archive is no easier to attack offline than the vault record.
const (
	DefaultIterations = 310_000
	saltSize          = 16
	derivedKeySize    = 32
)

func deriveArchiveKey(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, derivedKeySize, sha256.New)
}
