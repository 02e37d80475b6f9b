package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/compute-node/crypto/nodekey"
)

var addressSecretKey string

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print the wire address derived from a secret key",
	Long: `Derive and print the 20-byte wire address for a hex-encoded secp256k1
secret key, the same address a node reports in its pong payloads.`,
	RunE: runAddress,
}

func init() {
	rootCmd.AddCommand(addressCmd)
	addressCmd.Flags().StringVarP(&addressSecretKey, "secret-key", "k", "", "hex-encoded secp256k1 secret key (required)")
}

func runAddress(cmd *cobra.Command, args []string) error {
	if addressSecretKey == "" {
		return fmt.Errorf("--secret-key is required")
	}
	kp, err := nodekey.FromHex(addressSecretKey)
	if err != nil {
		return fmt.Errorf("load secret key: %w", err)
	}

	compressed := kp.CompressedPublicKey()
	fmt.Printf("public_key: %s\n", hex.EncodeToString(compressed[:]))
	fmt.Printf("address:    %s\n", kp.AddressHex())
	return nil
}
