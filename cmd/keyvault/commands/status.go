package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/emberchat/keyvault/internal/bytesutil"
	"github.com/emberchat/keyvault/internal/vault"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show vault state and public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("Vault:  %s\n", cfg.VaultPath)
			fmt.Printf("State:  %s\n", vaultMgr.State())

			pub, err := vaultMgr.PublicKey()
			if errors.Is(err, vault.ErrNoKeyBundle) {
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("Public key: %s\n", bytesutil.EncodeB64(pub))
			return nil
		},
	}
}

func rotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Generate a new identity key pair and re-encrypt the vault",
		RunE: func(cmd *cobra.Command, args []string) error {
			passcode, err := readPasscode("Passcode: ")
			if err != nil {
				return err
			}
			defer bytesutil.Zero(passcode)

			bundle, err := vaultMgr.Rotate(string(passcode))
			if err != nil {
				return err
			}
			fmt.Printf("Key rotated.\nNew public key: %s\n", bytesutil.EncodeB64(bundle.PublicKey))
			return nil
		},
	}
}
