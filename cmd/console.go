package cmd

import (
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"defectflow/internal/bootstrap"
	"defectflow/internal/bootstrap/logging"
	"defectflow/internal/errs"
	"defectflow/internal/usecase/board"
	"defectflow/internal/usecase/workflow"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Start the interactive defect board",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *workflow.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		status, _ := cmd.Flags().GetString("status")
		creator, _ := cmd.Flags().GetString("creator")
		pipeline, _ := cmd.Flags().GetString("pipeline")
		showInternal, _ := cmd.Flags().GetBool("internal")
		refreshInterval, _ := cmd.Flags().GetDuration("refresh-interval")
		if refreshInterval <= 0 {
			refreshInterval = 5 * time.Second
		}

		model := board.NewBoardModel(ctx, svc, board.Options{
			Status:          status,
			Creator:         creator,
			Pipeline:        pipeline,
			ShowInternal:    showInternal,
			RefreshInterval: refreshInterval,
		})

		program := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := program.Run(); err != nil {
			return errs.Wrap(err, "run defect board")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().String("status", "", "Optional status filter (OPEN|RESOLVED|CLOSED|...)")
	consoleCmd.Flags().String("creator", "", "Optional creator filter")
	consoleCmd.Flags().String("pipeline", "", "Optional pipeline filter")
	consoleCmd.Flags().Bool("internal", false, "Show internal history entries")
	consoleCmd.Flags().Duration("refresh-interval", 5*time.Second, "Auto refresh interval")
}
