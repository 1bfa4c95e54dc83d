package main

import (
	"github.com/spf13/cobra"

	"github.com/margoregistry/margo/internal/engine"
	"github.com/margoregistry/margo/pkg/types"
)

var (
	initBaseURL     string
	initUseDefaults bool
)

var initCmd = &cobra.Command{
	Use:   "init DIR",
	Short: "Create a new Margo registry at DIR",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var defaults map[string]bool
		if !initUseDefaults {
			defaults = map[string]bool{
				types.DefaultAutoRegenerateHTML:      false,
				types.DefaultGenerateClipboardWidget: false,
			}
		}

		_, err := engine.Init(args[0], initBaseURL, defaults)
		return err
	},
}

func init() {
	initCmd.Flags().StringVar(&initBaseURL, "base-url", "", "base URL crates and the registry are served from (required)")
	initCmd.Flags().BoolVar(&initUseDefaults, "defaults", false, "enable Margo's default options (auto-regenerate-html, generate-clipboard-widget)")
	initCmd.MarkFlagRequired("base-url")
}
