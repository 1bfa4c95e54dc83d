// Command margo is the CLI for Margo, a Cargo sparse-index registry tool.
// It does nothing but parse flags and call into internal/engine; any error
// a command returns is printed to stderr and the process exits with status 1.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "margo",
	Short: "Build and maintain a Cargo-compatible sparse-index registry",
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	cobra.OnInitialize(func() {
		level := zerolog.InfoLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
	})

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(yankCmd)
	rootCmd.AddCommand(unyankCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(generateHTMLCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
