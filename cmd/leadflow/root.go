package main

import (
	"github.com/spf13/cobra"
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "leadflow",
		Short: "Lead-generation workflow backend",
	}
	root.AddCommand(serveCmd())
	return root
}
