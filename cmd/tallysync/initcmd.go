package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database and schema",
	Long: `Create the data directory, the SQLite database and its schema.
Idempotent: safe to run against an existing database.`,
	Run: func(cmd *cobra.Command, args []string) {
		e, err := openEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer e.close()

		fmt.Printf("Database ready at %s\n", e.cfg.DatabasePath)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
