package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ragindex/internal/summarizer"
)

func (a *app) searchCmd() *cobra.Command {
	var (
		topK     int
		asJSON   bool
		condense int
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("top-k") {
				topK = a.cfg.Search.TopK
			}
			engine, err := a.newEngine()
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")
			hits, err := engine.Search(cmd.Context(), query, topK)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(hits)
			}
			if len(hits) == 0 {
				fmt.Fprintln(out, "No results found.")
				return nil
			}
			summ := summarizer.New()
			for i, h := range hits {
				fmt.Fprintf(out, "  [%d] %s (%.2f%%)\n", i+1, h.Title, h.Score)
				if h.URL != "" {
					fmt.Fprintf(out, "      %s\n", h.URL)
				}
				text := h.Text
				if condense > 0 {
					text = summ.Summarize(text, condense)
				}
				fmt.Fprintf(out, "      %s\n\n", strings.Join(strings.Fields(text), " "))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 5, "Maximum number of results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output results as JSON")
	cmd.Flags().IntVar(&condense, "condense", 0, "Show only the N most representative sentences of each hit")
	return cmd
}
