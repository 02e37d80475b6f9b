package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/compute-node/crypto/nodekey"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new node identity key pair",
	Long: `Generate a fresh secp256k1 key pair for a node identity and print its
hex-encoded private key, compressed public key, and derived wire address.

The printed secret_key value is suitable for the SECRET_KEY environment
variable consumed by "compute-node run".`,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	kp, err := nodekey.Generate()
	if err != nil {
		return fmt.Errorf("generate key pair: %w", err)
	}

	privBytes := kp.PrivateKey().Serialize()
	compressed := kp.CompressedPublicKey()

	fmt.Printf("secret_key:  %s\n", hex.EncodeToString(privBytes))
	fmt.Printf("public_key:  %s\n", hex.EncodeToString(compressed[:]))
	fmt.Printf("address:     %s\n", kp.AddressHex())

	return nil
}
