// exportctl is a small operator CLI for the export queue, talking to the
// server's HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "exportctl",
		Short: "Operator CLI for the export job queue",
	}

	rootCmd.PersistentFlags().String("addr", "http://localhost:8080", "Server base URL")
	rootCmd.PersistentFlags().String("user", "", "Caller user id (uuid)")
	rootCmd.PersistentFlags().Bool("admin", true, "Send the admin role header")

	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(searchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
