package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/emberchat/keyvault/internal/bytesutil"
	"github.com/emberchat/keyvault/internal/provision"
)

// linkCmd runs the primary side of device linking: print the QR payload,
// wait for the new device, confirm the short code, then release the sealed
// key bundle.
func linkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link",
		Short: "Link a new device to this vault (run on the existing device)",
		RunE: func(cmd *cobra.Command, args []string) error {
			passcode, err := readPasscode("Passcode: ")
			if err != nil {
				return err
			}
			if _, err := vaultMgr.Unlock(string(passcode)); err != nil {
				bytesutil.Zero(passcode)
				return err
			}
			bytesutil.Zero(passcode)

			transport := provision.NewHTTPTransport(cfg.RelayURL)
			primary := provision.NewPrimary(transport, vaultMgr, provision.DefaultPollConfig())

			payload, err := primary.Start(cmd.Context())
			if err != nil {
				return err
			}
			qr, err := payload.Encode()
			if err != nil {
				return err
			}
			fmt.Printf("Scan this on the new device:\n\n%s\n\n", qr)
			fmt.Println("Waiting for the new device...")

			if err := primary.WaitForClient(cmd.Context()); err != nil {
				primary.Cancel(cmd.Context())
				return err
			}

			fmt.Printf("New device connected. Verify it shows code %s\n", primary.SAS())
			if !confirm("Approve this device? [y/N]: ") {
				primary.Cancel(cmd.Context())
				return fmt.Errorf("linking canceled")
			}

			if err := primary.Approve(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Key bundle sent. The new device can finish setup.")
			return nil
		},
	}
}

// joinCmd runs the device side: paste the QR payload, confirm the short
// code, wait for approval, then install the bundle into a fresh vault.
func joinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join [qr-payload]",
		Short: "Join this device to an existing vault (run on the new device)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var qr string
			if len(args) == 1 {
				qr = args[0]
			} else {
				fmt.Print("Paste the QR payload: ")
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil {
					return err
				}
				qr = strings.TrimSpace(line)
			}

			transport := provision.NewHTTPTransport(cfg.RelayURL)
			device := provision.NewDevice(transport, vaultMgr, provision.DefaultPollConfig())

			if err := device.Initiate(cmd.Context(), []byte(qr)); err != nil {
				return err
			}
			fmt.Printf("Confirm code %s matches the existing device.\n", device.SAS())

			passcode, err := readPasscodeConfirmed("Passcode for this device: ")
			if err != nil {
				device.Cancel()
				return err
			}
			defer bytesutil.Zero(passcode)

			fmt.Println("Waiting for approval...")
			bundle, err := device.WaitAndInstall(cmd.Context(), string(passcode))
			if err != nil {
				return err
			}
			fmt.Printf("Device linked.\nPublic key: %s\n", bytesutil.EncodeB64(bundle.PublicKey))
			return nil
		},
	}
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
