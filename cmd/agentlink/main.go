package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "agentlink",
	Short: "Agentlink: escrow ledger and job marketplace for autonomous agents",
	Long:  "Agentlink runs a signed-instruction escrow ledger and a job marketplace for autonomous agents, providing agent identity, funded job listings, hire/complete/approve settlement with reputation splits, and webhook notifications.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: configs/agentlink.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
