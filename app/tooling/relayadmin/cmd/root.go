// Package cmd contains the relay admin tooling.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var url string

func init() {
	rootCmd.PersistentFlags().StringVarP(&url, "url", "u", "http://localhost:8080", "Url of the relay service.")
}

var rootCmd = &cobra.Command{
	Use:   "relayadmin",
	Short: "Inspect a running relay service",
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
