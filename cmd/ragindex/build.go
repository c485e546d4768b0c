package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ragindex/internal/domain"
	"ragindex/internal/ingest"
	"ragindex/internal/source"
)

func (a *app) buildCmd() *cobra.Command {
	var (
		mode       string
		inputDir   string
		jsonl      []string
		maxChunks  int
		noProgress bool
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Chunk, embed and index documents",
		Long: `Reads .txt/.md files under the input directory and any JSON-lines exports,
splits them into overlapping windows, embeds them and persists the index.

In rebuild mode the index is replaced. In append mode new chunks are added
after the existing ones; if no complete index exists the run falls back to a
rebuild and says so in its report.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if inputDir == "" {
				inputDir = cfg.Source.InputDir
			}
			if cmd.Flags().Changed("max-chunks") {
				cfg.Build.MaxChunks = maxChunks
			}

			docs, err := source.LoadFiles(inputDir, source.FileOptions{Include: cfg.Source.Include, Exclude: cfg.Source.Exclude}, a.logger)
			if err != nil {
				return err
			}
			for _, p := range jsonl {
				more, err := source.LoadJSONL(p)
				if err != nil {
					return err
				}
				docs = append(docs, more...)
			}
			if len(docs) == 0 {
				a.logger.Warn("no documents found", "input_dir", inputDir)
			}

			report, err := a.runBuild(cmd, ingest.Mode(mode), docs, !noProgress && ingest.DefaultProgressEnabled())
			if err != nil {
				return err
			}
			printReport(cmd, report)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(ingest.ModeRebuild), "rebuild or append")
	cmd.Flags().StringVar(&inputDir, "input", "", "Input directory (default from config)")
	cmd.Flags().StringSliceVar(&jsonl, "jsonl", nil, "JSON-lines document export to include (repeatable)")
	cmd.Flags().IntVar(&maxChunks, "max-chunks", 0, "Cap on total chunks including existing ones (0 = unlimited)")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")
	return cmd
}

func (a *app) runBuild(cmd *cobra.Command, mode ingest.Mode, docs []domain.Document, progress bool) (*ingest.Report, error) {
	emb, err := a.newEmbedder()
	if err != nil {
		return nil, err
	}
	splitter, err := a.newSplitter()
	if err != nil {
		return nil, err
	}
	b := a.cfg.Build
	builder, err := ingest.NewBuilder(emb, splitter, ingest.Options{
		Dir:            a.cfg.IndexDir,
		Mode:           mode,
		Tenant:         a.cfg.Tenant,
		Streaming:      b.Streaming,
		FlushThreshold: b.FlushThreshold,
		EmbedBatchSize: b.EmbedBatch,
		SafeMode:       b.SafeMode,
		MaxChunks:      b.MaxChunks,
		Progress:       ingest.NewProgress(progress),
	}, a.logger)
	if err != nil {
		return nil, err
	}
	return builder.Build(cmd.Context(), docs)
}

func printReport(cmd *cobra.Command, r *ingest.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s\n", r.RunID)
	if r.FellBackToRebuild {
		fmt.Fprintf(out, "  mode:      %s (requested %s: %s)\n", r.EffectiveMode, r.RequestedMode, r.FallbackReason)
	} else {
		fmt.Fprintf(out, "  mode:      %s\n", r.EffectiveMode)
	}
	fmt.Fprintf(out, "  documents: %d\n", r.Documents)
	fmt.Fprintf(out, "  chunks:    %d added, %d total\n", r.ChunksAdded, r.TotalChunks)
	if r.ChunksDropped > 0 {
		fmt.Fprintf(out, "  dropped:   %d chunks in %d failed flushes\n", r.ChunksDropped, r.FlushFailures)
	}
	if r.Truncated > 0 {
		fmt.Fprintf(out, "  truncated: %d documents\n", r.Truncated)
	}
	if r.Capped {
		fmt.Fprintln(out, "  stopped at max chunks")
	}
	if r.Interrupted {
		fmt.Fprintln(out, "  interrupted, partial progress saved")
	}
}
