//go:build linux

package vault

import (
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// LockMemory pins the process address space so cached key material cannot
// be swapped to disk. Best effort: failure (missing CAP_IPC_LOCK, low
// RLIMIT_MEMLOCK) is logged, never fatal.
func LockMemory() {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		log.Warn().Err(err).Msg("Failed to lock memory (mlockall)")
		return
	}
	log.Info().Msg("Memory locked (mlockall)")
}
