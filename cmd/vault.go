package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/attune-dev/attune/pkg"
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Encrypt and decrypt vaulted values",
}

var vaultEncryptCmd = &cobra.Command{
	Use:   "encrypt [plaintext]",
	Short: "Encrypt a value into a vault envelope",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, err := readVaultPassphrase(vaultPasswordFile)
		if err != nil {
			return err
		}
		if passphrase == "" {
			return fmt.Errorf("a vault passphrase is required to encrypt")
		}

		plaintext, err := readValueArg(args)
		if err != nil {
			return err
		}

		vs, err := pkg.EncryptVault(plaintext, passphrase)
		if err != nil {
			return err
		}
		fmt.Println(vs.Serialize())
		return nil
	},
}

var vaultDecryptCmd = &cobra.Command{
	Use:   "decrypt [envelope]",
	Short: "Decrypt a vault envelope back to plaintext",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, err := readVaultPassphrase(vaultPasswordFile)
		if err != nil {
			return err
		}

		blob, err := readValueArg(args)
		if err != nil {
			return err
		}

		vs, err := pkg.ParseVaultString(blob)
		if err != nil {
			return err
		}
		plaintext, err := vs.Decrypt(passphrase)
		if err != nil {
			return err
		}
		fmt.Println(plaintext)
		return nil
	},
}

// readValueArg takes the value from the single positional argument, or from
// stdin when no argument is given.
func readValueArg(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read value from stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func init() {
	vaultCmd.PersistentFlags().StringVar(&vaultPasswordFile, "vault-password-file", "", "File holding the vault passphrase")
	vaultCmd.AddCommand(vaultEncryptCmd)
	vaultCmd.AddCommand(vaultDecryptCmd)
	rootCmd.AddCommand(vaultCmd)
}
