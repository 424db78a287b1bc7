// Package main implements the keyvault CLI for managing the local
// encrypted vault, backup archives, and device linking.
package main

import (
	"fmt"
	"os"

	"github.com/emberchat/keyvault/cmd/keyvault/commands"
	"github.com/emberchat/keyvault/internal/vault"
)

func main() {
	// Keep key material out of swap where the platform allows it.
	vault.LockMemory()

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
