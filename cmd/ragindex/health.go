package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"ragindex/internal/search"
	"ragindex/internal/vectorstore"
)

func (a *app) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Print the index status as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _ := vectorstore.Load(a.cfg.IndexDir, a.logger)
			return json.NewEncoder(cmd.OutOrStdout()).Encode(search.NewEngine(nil, store).Health())
		},
	}
}
