// Package commands wires the keyvault CLI. Every command operates on the
// local encrypted vault; link and join additionally talk to the relay.
package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/emberchat/keyvault/internal/bytesutil"
	"github.com/emberchat/keyvault/internal/config"
	"github.com/emberchat/keyvault/internal/storage"
	"github.com/emberchat/keyvault/internal/vault"
)

var (
	configPath string
	vaultPath  string
	relayURL   string

	cfg      *config.ClientConfig
	store    *storage.SQLiteStore
	vaultMgr *vault.Manager
)

func Execute() error {
	root := &cobra.Command{
		Use:           "keyvault",
		Short:         "Manage the local key vault and device linking",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

			var err error
			cfg, err = config.LoadClientConfig(configPath)
			if err != nil {
				return err
			}
			if vaultPath != "" {
				cfg.VaultPath = vaultPath
			}
			if relayURL != "" {
				cfg.RelayURL = relayURL
			}
			if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
				zerolog.SetGlobalLevel(level)
			}

			if err := os.MkdirAll(filepath.Dir(cfg.VaultPath), 0o700); err != nil {
				return err
			}
			store, err = storage.NewSQLiteStore(cfg.VaultPath)
			if err != nil {
				return err
			}
			vaultMgr = vault.NewManager(store, vault.DefaultParams())
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if vaultMgr != nil {
				vaultMgr.Lock()
			}
			if store != nil {
				_ = store.Close()
			}
		},
	}

	defaultConfig := "/etc/keyvault/client.yaml"
	if home, err := os.UserHomeDir(); err == nil {
		defaultConfig = filepath.Join(home, ".keyvault", "config.yaml")
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "path to configuration file")
	root.PersistentFlags().StringVar(&vaultPath, "vault", "", "vault database path (overrides config)")
	root.PersistentFlags().StringVar(&relayURL, "relay", "", "relay base URL (overrides config)")

	root.AddCommand(initCmd(), statusCmd(), rotateCmd(), backupCmd(), restoreCmd(), linkCmd(), joinCmd())
	return root.Execute()
}

// readPasscode prompts without echo.
func readPasscode(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	passcode, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read passcode: %w", err)
	}
	return passcode, nil
}

// readPasscodeConfirmed prompts twice and requires both entries to match.
func readPasscodeConfirmed(prompt string) ([]byte, error) {
	first, err := readPasscode(prompt)
	if err != nil {
		return nil, err
	}
	second, err := readPasscode("Confirm: ")
	if err != nil {
		return nil, err
	}
	defer bytesutil.Zero(second)
	if string(first) != string(second) {
		bytesutil.Zero(first)
		return nil, fmt.Errorf("entries do not match")
	}
	return first, nil
}
