package main

import (
	"github.com/spf13/cobra"

	"github.com/margoregistry/margo/internal/engine"
)

var generateHTMLRegistry string

var generateHTMLCmd = &cobra.Command{
	Use:   "generate-html",
	Short: "Regenerate the registry's static landing page",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := engine.Open(generateHTMLRegistry)
		if err != nil {
			return err
		}
		return e.GenerateHTML()
	},
}

func init() {
	generateHTMLCmd.Flags().StringVar(&generateHTMLRegistry, "registry", "", "path to the registry root (required)")
	generateHTMLCmd.MarkFlagRequired("registry")
}
