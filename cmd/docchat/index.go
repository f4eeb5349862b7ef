package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var confirmReset bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Maintain the vector index",
}

var indexResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every indexed chunk",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !confirmReset {
			return errors.New("refusing to reset the index without --yes")
		}
		ctx := commandContext(cmd)
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.index.Reset(ctx); err != nil {
			return fmt.Errorf("failed to reset index: %w", err)
		}
		color.New(color.FgGreen).Fprintln(cmd.OutOrStdout(), "✓ Index reset")
		return nil
	},
}

var indexCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Compare recorded chunk counts with the index",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := commandContext(cmd)
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		mismatches, err := a.pipeline.Check(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(mismatches) == 0 {
			color.New(color.FgGreen).Fprintln(out, "✓ Index is consistent")
			return nil
		}
		for _, m := range mismatches {
			color.New(color.FgYellow).Fprintf(out, "%s  %s  recorded=%d indexed=%d\n",
				m.Document.ID, m.Document.Filename, m.Document.ChunkCount, m.Indexed)
		}
		return fmt.Errorf("%d documents out of sync", len(mismatches))
	},
}

func init() {
	indexResetCmd.Flags().BoolVar(&confirmReset, "yes", false, "confirm deleting every chunk")
	indexCmd.AddCommand(indexResetCmd, indexCheckCmd)
	rootCmd.AddCommand(indexCmd)
}
