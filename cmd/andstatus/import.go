package main

import (
	"fmt"

	"andstatus/internal/models"
	"andstatus/internal/sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <file.jsonl>",
	Short: "Upsert a timeline dump into the local database",
	Long: `Reads a JSON lines dump of messages and users (optionally .gz or .zst
compressed) and upserts it batch by batch as the configured account.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().String("timeline", string(models.TimelineHome), "timeline the dump belongs to")
	importCmd.Flags().Int("batch-size", sync.DefaultFileBatchSize, "lines per batch")
	rootCmd.AddCommand(importCmd)
}

// importResult is printed when an import finishes.
type importResult struct {
	File     string              `json:"file"`
	Timeline models.TimelineType `json:"timeline"`
	Skipped  int                 `json:"skipped_lines"`
	Messages int64               `json:"messages"`
	Mentions int64               `json:"mentions"`
	Errors   int64               `json:"errors"`
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name, _ := cmd.Flags().GetString("timeline")
	timeline, err := models.ParseTimelineType(name)
	if err != nil {
		return err
	}
	if timeline == models.TimelineUnknown {
		timeline = models.TimelineHome
	}
	batchSize, _ := cmd.Flags().GetInt("batch-size")

	a, err := openAppFor(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	src := sync.NewFileSource(args[0], batchSize)
	defer src.Close()

	opts := sync.DefaultOptions()
	opts.MaxAttempts = a.cfg.Sync.MaxAttempts
	result, err := sync.NewDownloader(src, a.store, a.resolver, opts).Run(ctx, a.account, timeline)
	if err != nil {
		return fmt.Errorf("import %s: %w", args[0], err)
	}

	summary := result.Summary()
	log.Info().
		Str("file", args[0]).
		Str("timeline", string(timeline)).
		Int64("messages", summary.Messages).
		Int("skipped", src.Skipped()).
		Msg("Import finished")

	return printJSON(cmd.OutOrStdout(), importResult{
		File:     args[0],
		Timeline: timeline,
		Skipped:  src.Skipped(),
		Messages: summary.Messages,
		Mentions: summary.Mentions,
		Errors:   summary.Errors,
	})
}
