package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config <page>",
	Short: "Print the resolved configuration of a page as JSON",
	Long: `Resolve the <py-config> of a page the way render does, merging its src
document and inline text over the defaults, and print the result.`,
	Args: cobra.ExactArgs(1),
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	text, err := newFetcher(cmd).Fetch(ctx, args[0])
	if err != nil {
		return err
	}

	cfg, err := newRenderer(cmd, nil, nil).Config(ctx, strings.NewReader(text), args[0])
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
