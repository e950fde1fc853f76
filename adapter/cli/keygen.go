package cli

import (
	"fmt"

	"github.com/pavelzhukov/raylink/internal/provisioning/reality"
	"github.com/spf13/cobra"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a Reality keypair and short id",
	Long: `Generate a fresh X25519 keypair plus a short id for a Reality
inbound. Put the private key in the xray server config and the public
key and short id in the catalog entry for the server.

Examples:
  raylink keygen`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pair, err := reality.GenerateKeyPair()
		if err != nil {
			return fmt.Errorf("failed to generate keypair: %w", err)
		}

		shortID, err := reality.GenerateShortID()
		if err != nil {
			return fmt.Errorf("failed to generate short id: %w", err)
		}

		fmt.Printf("private key: %s\n", pair.PrivateKey)
		fmt.Printf("public key:  %s\n", pair.PublicKey)
		fmt.Printf("short id:    %s\n", shortID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
