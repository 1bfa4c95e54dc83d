package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/margoregistry/margo/internal/engine"
	"github.com/margoregistry/margo/pkg/utils"
)

var addRegistry string

var addCmd = &cobra.Command{
	Use:   "add FILE...",
	Short: "Add one or more .crate files to the registry",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := engine.Open(addRegistry)
		if err != nil {
			return err
		}

		results := e.Add(args)

		failed := false
		for _, r := range results {
			if r.Err != nil {
				failed = true
				fmt.Fprintf(os.Stderr, "add %s: %v\n", r.Path, r.Err)
				continue
			}
			fmt.Printf("added %s@%s (%s)\n", r.Name, r.Version, utils.FormatBytes(r.Size))
		}

		if failed {
			return fmt.Errorf("one or more crate files failed to add")
		}
		return nil
	},
}

func init() {
	addCmd.Flags().StringVar(&addRegistry, "registry", "", "path to the registry root (required)")
	addCmd.MarkFlagRequired("registry")
}
