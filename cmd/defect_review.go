package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"defectflow/internal/bootstrap"
	"defectflow/internal/bootstrap/logging"
	"defectflow/internal/errs"
	"defectflow/internal/usecase/workflow"
)

var defectApproveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Approve the current review stage",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *workflow.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		number, _ := cmd.Flags().GetString("number")
		actor, _ := cmd.Flags().GetString("actor")
		note, _ := cmd.Flags().GetString("note")
		nextAssignee, _ := cmd.Flags().GetString("next-assignee")

		result, err := svc.ApproveReview(ctx, workflow.ApproveReviewInput{
			DefectNumber: number,
			Actor:        actor,
			Note:         note,
			NextAssignee: nextAssignee,
		})
		if err != nil {
			logging.Error(ctx, "approve review failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "approve review")
		}

		out := cmd.OutOrStdout()
		if result.Closed {
			fmt.Fprintf(out, "defect %s closed\n", number)
			return nil
		}
		fmt.Fprintf(out, "advanced to stage %s\n", result.NextStage)
		return nil
	}),
}

var defectRejectCmd = &cobra.Command{
	Use:   "reject",
	Short: "Reject the current stage and roll back one hop",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *workflow.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		number, _ := cmd.Flags().GetString("number")
		actor, _ := cmd.Flags().GetString("actor")
		reason, _ := cmd.Flags().GetString("reason")

		result, err := svc.RejectStage(ctx, workflow.RejectStageInput{
			DefectNumber: number,
			Actor:        actor,
			Reason:       reason,
		})
		if err != nil {
			logging.Error(ctx, "reject stage failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "reject stage")
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "rolled back to stage %s (rejection #%d)\n", result.ReactivatedStage, result.RejectionCount)
		if len(result.CascadedRecords) > 0 {
			fmt.Fprintf(out, "cascaded %d collaborator record(s)\n", len(result.CascadedRecords))
		}
		return nil
	}),
}

var defectReassignCmd = &cobra.Command{
	Use:   "reassign",
	Short: "Hand the current stage to another assignee",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *workflow.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		number, _ := cmd.Flags().GetString("number")
		assignee, _ := cmd.Flags().GetString("assignee")
		note, _ := cmd.Flags().GetString("note")
		actor, _ := cmd.Flags().GetString("actor")

		if err := svc.Reassign(ctx, workflow.ReassignInput{
			DefectNumber: number,
			NewAssignee:  assignee,
			Note:         note,
			Actor:        actor,
		}); err != nil {
			logging.Error(ctx, "reassign stage failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "reassign stage")
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "reassigned %s to %s\n", number, assignee); err != nil {
			return errs.Wrap(err, "write reassign output")
		}
		return nil
	}),
}

func init() {
	defectCmd.AddCommand(defectApproveCmd)
	defectApproveCmd.Flags().String("number", "", "Defect number")
	defectApproveCmd.Flags().String("actor", "", "Acting account")
	defectApproveCmd.Flags().String("note", "", "Optional review note")
	defectApproveCmd.Flags().String("next-assignee", "", "Assignee of the next stage")
	_ = defectApproveCmd.MarkFlagRequired("number")
	_ = defectApproveCmd.MarkFlagRequired("actor")

	defectCmd.AddCommand(defectRejectCmd)
	defectRejectCmd.Flags().String("number", "", "Defect number")
	defectRejectCmd.Flags().String("actor", "", "Acting account")
	defectRejectCmd.Flags().String("reason", "", "Rejection reason")
	_ = defectRejectCmd.MarkFlagRequired("number")
	_ = defectRejectCmd.MarkFlagRequired("actor")
	_ = defectRejectCmd.MarkFlagRequired("reason")

	defectCmd.AddCommand(defectReassignCmd)
	defectReassignCmd.Flags().String("number", "", "Defect number")
	defectReassignCmd.Flags().String("assignee", "", "New assignee")
	defectReassignCmd.Flags().String("note", "", "Optional transfer note")
	defectReassignCmd.Flags().String("actor", "", "Acting account")
	_ = defectReassignCmd.MarkFlagRequired("number")
	_ = defectReassignCmd.MarkFlagRequired("assignee")
	_ = defectReassignCmd.MarkFlagRequired("actor")
}
