package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"defectflow/internal/bootstrap"
	"defectflow/internal/bootstrap/logging"
	"defectflow/internal/domain/defect"
	"defectflow/internal/errs"
	"defectflow/internal/usecase/workflow"
)

var defectSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit stage content and run the scoring gate",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *workflow.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		number, _ := cmd.Flags().GetString("number")
		kind, _ := cmd.Flags().GetString("kind")
		submitter, _ := cmd.Flags().GetString("submitter")
		draft, _ := cmd.Flags().GetBool("draft")
		nextAssignee, _ := cmd.Flags().GetString("next-assignee")
		content, err := resolveContent(cmd, true)
		if err != nil {
			return err
		}

		input := workflow.SubmitStageDataInput{
			DefectNumber: number,
			Kind:         defect.DataKind(strings.ToUpper(strings.TrimSpace(kind))),
			Content:      content,
			Submitter:    submitter,
			Draft:        draft,
			NextAssignee: nextAssignee,
		}
		if cmd.Flags().Changed("collaborator") {
			collaboratorID, _ := cmd.Flags().GetUint64("collaborator")
			input.CollaboratorID = &collaboratorID
		}

		result, err := svc.SubmitStageData(ctx, input)
		if err != nil {
			logging.Error(ctx, "submit stage data failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "submit stage data")
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "submitted data #%d (changed=%v)\n", result.DataID, result.Changed)
		if result.Evaluated {
			fmt.Fprintf(out, "evaluated: score=%d run=%s\n", result.Score, result.RunID)
			if result.Suggestion != "" {
				fmt.Fprintf(out, "suggestion: %s\n", result.Suggestion)
			}
		}
		if result.Advanced {
			fmt.Fprintf(out, "advanced to stage %s\n", result.NextStage)
		}
		return nil
	}),
}

var defectSelfEvalCmd = &cobra.Command{
	Use:   "self-eval",
	Short: "Preview the scoring verdict without moving the workflow",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *workflow.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		number, _ := cmd.Flags().GetString("number")
		requester, _ := cmd.Flags().GetString("requester")

		result, err := svc.SelfEvaluate(ctx, workflow.SelfEvaluateInput{
			DefectNumber: number,
			Requester:    requester,
		})
		if err != nil {
			logging.Error(ctx, "self evaluate failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "self evaluate")
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "score=%d run=%s cached=%v\n", result.Score, result.RunID, result.FromCache)
		if result.Suggestion != "" {
			fmt.Fprintf(out, "suggestion: %s\n", result.Suggestion)
		}
		return nil
	}),
}

var defectForceEvalCmd = &cobra.Command{
	Use:   "force-eval",
	Short: "Re-run the gate for a stage stuck in evaluation",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *workflow.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		number, _ := cmd.Flags().GetString("number")
		actor, _ := cmd.Flags().GetString("actor")
		nextAssignee, _ := cmd.Flags().GetString("next-assignee")

		result, err := svc.ForceEvaluate(ctx, workflow.ForceEvaluateInput{
			DefectNumber: number,
			Actor:        actor,
			NextAssignee: nextAssignee,
		})
		if err != nil {
			logging.Error(ctx, "force evaluate failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "force evaluate")
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "score=%d run=%s advanced=%v\n", result.Score, result.RunID, result.Advanced)
		if result.Advanced {
			fmt.Fprintf(out, "advanced to stage %s\n", result.NextStage)
		}
		return nil
	}),
}

func init() {
	defectCmd.AddCommand(defectSubmitCmd)
	defectSubmitCmd.Flags().String("number", "", "Defect number")
	defectSubmitCmd.Flags().String("kind", "", "Data kind (DESCRIPTION|CAUSE_ANALYSIS|SOLUTION|TEST_RESULT)")
	defectSubmitCmd.Flags().String("content", "", "Inline content")
	defectSubmitCmd.Flags().String("content-file", "", "Read content from file")
	defectSubmitCmd.Flags().String("submitter", "", "Submitting account")
	defectSubmitCmd.Flags().Bool("draft", false, "Save as draft without gating")
	defectSubmitCmd.Flags().Uint64("collaborator", 0, "Collaborator record id for fan-out submissions")
	defectSubmitCmd.Flags().String("next-assignee", "", "Assignee of the next stage when the gate passes")
	_ = defectSubmitCmd.MarkFlagRequired("number")
	_ = defectSubmitCmd.MarkFlagRequired("kind")
	_ = defectSubmitCmd.MarkFlagRequired("submitter")

	defectCmd.AddCommand(defectSelfEvalCmd)
	defectSelfEvalCmd.Flags().String("number", "", "Defect number")
	defectSelfEvalCmd.Flags().String("requester", "", "Requesting account")
	_ = defectSelfEvalCmd.MarkFlagRequired("number")
	_ = defectSelfEvalCmd.MarkFlagRequired("requester")

	defectCmd.AddCommand(defectForceEvalCmd)
	defectForceEvalCmd.Flags().String("number", "", "Defect number")
	defectForceEvalCmd.Flags().String("actor", "", "Acting account")
	defectForceEvalCmd.Flags().String("next-assignee", "", "Assignee of the next stage when the gate passes")
	_ = defectForceEvalCmd.MarkFlagRequired("number")
	_ = defectForceEvalCmd.MarkFlagRequired("actor")
}
