//go:build !linux

package vault

import "github.com/rs/zerolog/log"

// LockMemory is a no-op on platforms without mlockall support.
func LockMemory() {
	log.Debug().Msg("Memory locking not supported on this platform")
}
