package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/emberchat/keyvault/internal/bytesutil"
	"github.com/emberchat/keyvault/internal/vault"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new vault with a fresh identity key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			if vaultMgr.State() != vault.StateNoVault {
				return fmt.Errorf("vault already exists at %s", cfg.VaultPath)
			}

			passcode, err := readPasscodeConfirmed("Passcode: ")
			if err != nil {
				return err
			}
			defer bytesutil.Zero(passcode)

			bundle, err := vault.GenerateKeyBundle()
			if err != nil {
				return err
			}
			if _, err := vaultMgr.Create(string(passcode), bundle); err != nil {
				return err
			}

			fmt.Printf("Vault created.\nPublic key: %s\n", bytesutil.EncodeB64(bundle.PublicKey))
			return nil
		},
	}
}
