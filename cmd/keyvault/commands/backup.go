package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/emberchat/keyvault/internal/backup"
	"github.com/emberchat/keyvault/internal/bytesutil"
)

func backupCmd() *cobra.Command {
	var outPath string
	var useS3 bool

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export the key bundle as a password-protected archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			passcode, err := readPasscode("Vault passcode: ")
			if err != nil {
				return err
			}
			defer bytesutil.Zero(passcode)

			bundle, err := vaultMgr.Unlock(string(passcode))
			if err != nil {
				return err
			}

			password, err := readPasscodeConfirmed("Backup password: ")
			if err != nil {
				return err
			}
			defer bytesutil.Zero(password)

			archive, err := backup.Create(bundle, string(password))
			if err != nil {
				return err
			}
			data, err := archive.Marshal()
			if err != nil {
				return err
			}

			if useS3 {
				store, err := backup.NewS3ArchiveStore(cmd.Context(), cfg.S3)
				if err != nil {
					return err
				}
				id, err := store.Upload(cmd.Context(), archive)
				if err != nil {
					return err
				}
				fmt.Printf("Backup uploaded: %s\n", id)
				return nil
			}

			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				return err
			}
			fmt.Printf("Backup written to %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "keyvault-backup.json", "output file")
	cmd.Flags().BoolVar(&useS3, "s3", false, "upload to the configured S3 bucket instead of a file")
	return cmd
}

func restoreCmd() *cobra.Command {
	var inPath string
	var s3ID string

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Install a key bundle from a backup archive into a new vault",
		RunE: func(cmd *cobra.Command, args []string) error {
			var archive *backup.Archive
			if s3ID != "" {
				store, err := backup.NewS3ArchiveStore(cmd.Context(), cfg.S3)
				if err != nil {
					return err
				}
				archive, err = store.Download(cmd.Context(), s3ID)
				if err != nil {
					return err
				}
			} else {
				data, err := os.ReadFile(inPath)
				if err != nil {
					return err
				}
				archive, err = backup.Unmarshal(data)
				if err != nil {
					return err
				}
			}

			password, err := readPasscode("Backup password: ")
			if err != nil {
				return err
			}
			defer bytesutil.Zero(password)

			bundle, err := backup.Restore(archive, string(password))
			if err != nil {
				return err
			}

			passcode, err := readPasscodeConfirmed("New vault passcode: ")
			if err != nil {
				return err
			}
			defer bytesutil.Zero(passcode)

			if _, err := vaultMgr.Create(string(passcode), bundle); err != nil {
				return err
			}
			fmt.Printf("Vault restored.\nPublic key: %s\n", bytesutil.EncodeB64(bundle.PublicKey))
			return nil
		},
	}

	cmd.Flags().StringVarP(&inPath, "in", "i", "keyvault-backup.json", "input file")
	cmd.Flags().StringVar(&s3ID, "s3-id", "", "download the archive with this ID from S3 instead")
	return cmd
}
