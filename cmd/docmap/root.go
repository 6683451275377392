package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/docmap/bootstrap"
	"github.com/artpar/docmap/example"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "docmap",
	Short: "Schema-driven document mapping over a pluggable store",
	Long: `docmap maps registered Go types to stored document trees: schema
descriptors, field paths, polymorphic decoding and versioned persistence.

The CLI inspects a store populated through the docmap library and runs a
self-contained demo of the programming model.

Quick start:
  docmap demo         # Walk through the programming model in memory
  docmap collections  # List registered document types

Inspection:
  docmap dump task    # Print stored documents of a type
  docmap count task   # Count stored documents of a type`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "docmap.yaml", "config file path")
}

// openApp wires the application with the reference tracker domain
// registered. Commands that touch the store go through it.
func openApp() (*bootstrap.App, error) {
	return bootstrap.New(bootstrap.Options{
		ConfigPath: cfgFile,
		Register:   example.Register,
	})
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
