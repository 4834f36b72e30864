package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/agentlink/agentlink/internal/ledger"
	"github.com/spf13/cobra"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an ed25519 signing keypair and its wallet address",
	RunE:  runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}

	addr, err := ledger.SignerAddress(pub)
	if err != nil {
		return err
	}

	fmt.Printf("Signing seed: %s\n", hex.EncodeToString(priv.Seed()))
	fmt.Printf("Public key:   %s\n", hex.EncodeToString(pub))
	fmt.Printf("Address:      %s\n", addr)
	fmt.Println("\nKeep the signing seed private. The address identifies your wallet on the ledger.")
	return nil
}
