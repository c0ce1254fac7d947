package main

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "compute-server",
	Short: "HTTP/1.0 compute server with basic, CPU-bound, and IO-bound command pools",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (optional)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
