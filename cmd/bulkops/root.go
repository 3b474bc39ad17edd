package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:   "bulkops",
	Short: "Spreadsheet-driven bulk ingest and update of digital objects",
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(runCmd)
}
