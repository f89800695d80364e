package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var renderCmd = &cobra.Command{
	Use:   "render <page>",
	Short: "Render a page and print the resulting HTML",
	Long: `Run every <py-script> of a page and print the page with their output.

The page may be a local path or any reference pyhost can fetch: http(s)://,
s3://bucket/key, gs://bucket/object or git+https://host/repo.git//path@branch.
Relative references inside the page resolve against it.`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	renderCmd.Flags().StringP("output", "o", "", "Write the rendered page to a file instead of stdout")
	rootCmd.AddCommand(renderCmd)
}

func runRender(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	ctx := cmd.Context()

	text, err := newFetcher(cmd).Fetch(ctx, args[0])
	if err != nil {
		return err
	}

	exec, err := newExecutor(cmd)
	if err != nil {
		return err
	}
	defer exec.Close()

	p, err := newRenderer(cmd, exec, nil).Render(ctx, strings.NewReader(text), args[0])
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := p.Document.Render(w); err != nil {
		return fmt.Errorf("write page: %w", err)
	}
	return p.Err
}
