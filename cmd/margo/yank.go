package main

import (
	"github.com/spf13/cobra"

	"github.com/margoregistry/margo/internal/engine"
)

var (
	yankRegistry  string
	yankVersion   string
	unyankRegistry string
	unyankVersion  string
)

var yankCmd = &cobra.Command{
	Use:   "yank NAME",
	Short: "Mark a crate version as yanked",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := engine.Open(yankRegistry)
		if err != nil {
			return err
		}
		return e.Yank(args[0], yankVersion)
	},
}

var unyankCmd = &cobra.Command{
	Use:   "unyank NAME",
	Short: "Clear the yanked flag on a crate version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := engine.Open(unyankRegistry)
		if err != nil {
			return err
		}
		return e.Unyank(args[0], unyankVersion)
	},
}

func init() {
	yankCmd.Flags().StringVar(&yankRegistry, "registry", "", "path to the registry root (required)")
	yankCmd.Flags().StringVar(&yankVersion, "version", "", "crate version to yank (required)")
	yankCmd.MarkFlagRequired("registry")
	yankCmd.MarkFlagRequired("version")

	unyankCmd.Flags().StringVar(&unyankRegistry, "registry", "", "path to the registry root (required)")
	unyankCmd.Flags().StringVar(&unyankVersion, "version", "", "crate version to unyank (required)")
	unyankCmd.MarkFlagRequired("registry")
	unyankCmd.MarkFlagRequired("version")
}
