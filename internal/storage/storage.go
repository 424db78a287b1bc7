// Package storage provides the scoped persistent key-value store the key
// custody subsystem keeps its records in. Values are opaque bytes; the
// callers (vault, provisioning) own any encryption of what they store.
package storage

import "errors"

// Fixed key identifiers used by the vault layer.
const (
	KeyVaultRecord = "vault/record"
	KeyVaultLegacy = "vault/legacy"
)

// ErrKeyNotFound is returned when a key is not present in the store.
var ErrKeyNotFound = errors.New("key not found")

// Store is a durable string-keyed byte store scoped to one device's vault.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
}
