// Package cmd provides the cachesim command-line interface.
package cmd

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cachesim",
	Short: "cachesim replays a memory trace against a cache array and reports statistics.",
	Long: `cachesim replays a memory access trace through a set-associative, ` +
		`skew-associative, or VCL cache array and reports the resulting ` +
		`prefetch and access-mask statistics.`,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
