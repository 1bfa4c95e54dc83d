package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/margoregistry/margo/internal/engine"
)

var listRegistry string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every published crate and version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := engine.Open(listRegistry)
		if err != nil {
			return err
		}

		summaries, err := e.List()
		if err != nil {
			return err
		}

		for _, s := range summaries {
			status := ""
			if s.Yanked {
				status = " (yanked)"
			}
			fmt.Printf("%s\t%s%s\n", s.Name, s.Version, status)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listRegistry, "registry", "", "path to the registry root (required)")
	listCmd.MarkFlagRequired("registry")
}
