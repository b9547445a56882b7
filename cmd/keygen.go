package cmd

import (
	"fmt"
	"os"

	"warden/provenance"

	"github.com/spf13/cobra"
)

// NewKeygenCmd builds the `keygen` command. It writes a fresh ed25519
// signing seed for provenance attestation.
func NewKeygenCmd() *cobra.Command {
	var outPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a provenance signing key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				if _, err := os.Stat(outPath); err == nil {
					errorColor.Fprintf(cmd.ErrOrStderr(), "✗ %s already exists (use --force to overwrite)\n", outPath)
					return fmt.Errorf("key file %s already exists", outPath)
				}
			}

			keys, err := provenance.NewKeyPair()
			if err != nil {
				return err
			}
			if err := keys.WriteKeyPair(outPath); err != nil {
				return err
			}

			successColor.Fprintf(cmd.OutOrStdout(), "✓ signing key written to %s\n", outPath)
			fmt.Fprintf(cmd.OutOrStdout(), "public key: %s\n", keys.PublicHex())
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "warden.key", "output path for the hex-encoded seed")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key file")
	return cmd
}
