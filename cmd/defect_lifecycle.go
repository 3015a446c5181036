package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"defectflow/internal/bootstrap"
	"defectflow/internal/bootstrap/logging"
	"defectflow/internal/errs"
	"defectflow/internal/usecase/workflow"
)

func lifecycleCommand(use string, short string, done string, call func(context.Context, *workflow.Service, workflow.LifecycleInput) error) *cobra.Command {
	c := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *workflow.Service) error {
			ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

			number, _ := cmd.Flags().GetString("number")
			actor, _ := cmd.Flags().GetString("actor")
			note, _ := cmd.Flags().GetString("note")

			if err := call(ctx, svc, workflow.LifecycleInput{
				DefectNumber: number,
				Actor:        actor,
				Note:         note,
			}); err != nil {
				logging.Error(ctx, use+" defect failed", slog.Any("err", errs.Loggable(err)))
				return errs.Wrapf(err, "%s defect", use)
			}

			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", done, number); err != nil {
				return errs.Wrap(err, "write lifecycle output")
			}
			return nil
		}),
	}

	c.Flags().String("number", "", "Defect number")
	c.Flags().String("actor", "", "Acting account")
	c.Flags().String("note", "", "Reason or note")
	_ = c.MarkFlagRequired("number")
	_ = c.MarkFlagRequired("actor")
	return c
}

func init() {
	defectCmd.AddCommand(lifecycleCommand(
		"suspend", "Park the defect and freeze its current stage", "suspended",
		func(ctx context.Context, svc *workflow.Service, input workflow.LifecycleInput) error {
			return svc.Suspend(ctx, input)
		}))
	defectCmd.AddCommand(lifecycleCommand(
		"reopen", "Resume a suspended defect", "reopened",
		func(ctx context.Context, svc *workflow.Service, input workflow.LifecycleInput) error {
			return svc.Reopen(ctx, input)
		}))
	defectCmd.AddCommand(lifecycleCommand(
		"terminate", "Abandon the defect for good", "terminated",
		func(ctx context.Context, svc *workflow.Service, input workflow.LifecycleInput) error {
			return svc.Terminate(ctx, input)
		}))
	defectCmd.AddCommand(lifecycleCommand(
		"throw-out", "Reject the defect report itself", "rejected",
		func(ctx context.Context, svc *workflow.Service, input workflow.LifecycleInput) error {
			return svc.RejectDefect(ctx, input)
		}))
}
