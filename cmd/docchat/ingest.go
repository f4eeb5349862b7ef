package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/xhad/docchat/pkg/ingest"
)

// stages counts the callbacks Ingest makes for a successful upload.
var stages = []ingest.Stage{
	ingest.StageReceived,
	ingest.StageParsed,
	ingest.StageChunked,
	ingest.StageEmbedded,
	ingest.StageRecorded,
	ingest.StageIndexed,
}

var ingestUser string

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Index PDF files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		var failed int
		for _, path := range args {
			if err := ingestFile(cmd, a.pipeline, path); err != nil {
				color.New(color.FgRed).Fprintf(cmd.OutOrStdout(), "✗ %s: %v\n", filepath.Base(path), err)
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files failed", failed, len(args))
		}
		return nil
	},
}

func init() {
	userFlag(ingestCmd, &ingestUser)
	rootCmd.AddCommand(ingestCmd)
}

func ingestFile(cmd *cobra.Command, pipeline *ingest.Pipeline, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	name := filepath.Base(path)
	contentType := http.DetectContentType(data)

	if err := pipeline.Validate(contentType, int64(len(data))); err != nil {
		return err
	}

	bar := getProgressBar(cmd.ErrOrStderr(), len(stages), "📄 "+name)
	res, err := pipeline.Ingest(commandContext(cmd), ingest.Upload{
		UserID:      ingestUser,
		Filename:    name,
		ContentType: contentType,
		Data:        data,
		OnStage: func(s ingest.Stage) {
			bar.Add(1)
			bar.Describe(color.BlueString("📄 %s (%s)", name, s))
		},
	})
	bar.Finish()
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	color.New(color.FgGreen).Fprintf(out, "✓ %s: %d chunks (document %s)\n",
		name, res.ChunksProcessed, res.Document.ID)
	if res.Truncated {
		color.New(color.FgYellow).Fprintf(out, "  only the first %d of %d chunks were indexed\n",
			res.ChunksProcessed, res.ChunksDiscovered)
	}
	return nil
}
