package main

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"ragindex/internal/tui"
)

func (a *app) tuiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Interactive search",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.newEngine()
			if err != nil {
				return err
			}
			p := tea.NewProgram(tui.New(engine, a.cfg.Search.TopK),
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()))
			_, err = p.Run()
			return err
		},
	}
}
