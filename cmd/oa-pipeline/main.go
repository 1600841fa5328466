package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "oa-pipeline",
		Short: "OA question pipeline - AI generated solutions for an OA platform",
		Long: `oa-pipeline takes coding questions exported from the OA platform backend,
generates a reference solution, test cases and starter code for each one,
and saves the results back through the backend's update endpoint.

It can also solve a single problem from screenshots.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
