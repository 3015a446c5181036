package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"defectflow/internal/bootstrap"
	"defectflow/internal/bootstrap/logging"
	"defectflow/internal/domain/defect"
	"defectflow/internal/errs"
	"defectflow/internal/ports"
	"defectflow/internal/usecase/workflow"
)

var defectCmd = &cobra.Command{
	Use:   "defect",
	Short: "Manage defects and their workflow",
}

var defectCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new defect",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *workflow.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		title, _ := cmd.Flags().GetString("title")
		description, _ := cmd.Flags().GetString("description")
		severity, _ := cmd.Flags().GetString("severity")
		repro, _ := cmd.Flags().GetString("reproducibility")
		creator, _ := cmd.Flags().GetString("creator")
		pipeline, _ := cmd.Flags().GetString("pipeline")
		draft, _ := cmd.Flags().GetBool("draft")

		input := workflow.CreateDefectInput{
			Title:           title,
			Description:     description,
			Severity:        severity,
			Reproducibility: repro,
			Creator:         creator,
			Pipeline:        pipeline,
			Draft:           draft,
		}
		if cmd.Flags().Changed("project") {
			projectID, _ := cmd.Flags().GetUint64("project")
			input.ProjectID = &projectID
		}
		if cmd.Flags().Changed("version") {
			versionID, _ := cmd.Flags().GetUint64("version")
			input.VersionID = &versionID
		}

		number, err := svc.CreateDefect(ctx, input)
		if err != nil {
			logging.Error(ctx, "create defect failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "create defect")
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "created defect: %s\n", number); err != nil {
			return errs.Wrap(err, "write create output")
		}
		return nil
	}),
}

var defectShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show one defect with its current stage",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *workflow.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		number, _ := cmd.Flags().GetString("number")
		detail, err := svc.GetDefect(ctx, number)
		if err != nil {
			logging.Error(ctx, "show defect failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "show defect")
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s [%s] %s\n", detail.Defect.Number, detail.Defect.Status, detail.Defect.Title)
		fmt.Fprintf(out, "severity=%s reproducibility=%s creator=%s pipeline=%s\n",
			detail.Defect.Severity, detail.Defect.Reproducibility, detail.Defect.Creator, detail.Defect.Pipeline)
		fmt.Fprintf(out, "stage: %s [%s] assignee=%s rejections=%d\n",
			detail.CurrentStage.StageType, detail.CurrentStage.Status,
			detail.CurrentStage.Assignee, detail.CurrentStage.RejectionCount)
		for _, c := range detail.Collaborators {
			fmt.Fprintf(out, "collaborator #%d %s %s [%s]\n", c.CollaboratorID, c.Role, c.Assignee, c.Status)
		}
		for _, row := range detail.CurrentData {
			marker := ""
			if row.IsDraft {
				marker = " (draft)"
			}
			fmt.Fprintf(out, "data #%d %s by %s%s\n", row.DataID, row.Kind, row.Submitter, marker)
			if row.EvalScore != nil {
				fmt.Fprintf(out, "  score=%d method=%s\n", *row.EvalScore, row.EvalMethod)
			}
		}
		return nil
	}),
}

var defectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List defects",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *workflow.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		status, _ := cmd.Flags().GetString("status")
		creator, _ := cmd.Flags().GetString("creator")
		pipeline, _ := cmd.Flags().GetString("pipeline")

		items, err := svc.ListDefects(ctx, ports.DefectFilter{
			Status:   defect.DefectStatus(strings.ToUpper(strings.TrimSpace(status))),
			Creator:  creator,
			Pipeline: pipeline,
		})
		if err != nil {
			logging.Error(ctx, "list defects failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "list defects")
		}

		out := cmd.OutOrStdout()
		if len(items) == 0 {
			fmt.Fprintln(out, "no defects")
			return nil
		}
		for _, item := range items {
			fmt.Fprintf(out, "%s [%s] %s (%s, %s)\n",
				item.Number, item.Status, item.Title, item.Severity, item.Pipeline)
		}
		return nil
	}),
}

var defectHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the flow history of a defect",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *workflow.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		number, _ := cmd.Flags().GetString("number")
		includeInternal, _ := cmd.Flags().GetBool("internal")

		entries, err := svc.History(ctx, number, includeInternal)
		if err != nil {
			logging.Error(ctx, "defect history failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "defect history")
		}

		out := cmd.OutOrStdout()
		for _, entry := range entries {
			line := fmt.Sprintf("%s %s %s", entry.CreatedAt, entry.Action, entry.Actor)
			if entry.ToStage != "" && entry.ToStage != entry.FromStage {
				line += fmt.Sprintf(" (%s -> %s)", entry.FromStage, entry.ToStage)
			}
			if strings.TrimSpace(entry.Note) != "" {
				line += " " + entry.Note
			}
			fmt.Fprintln(out, line)
		}
		return nil
	}),
}

var defectVersionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "Show every content revision ever submitted for one stage",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *workflow.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		number, _ := cmd.Flags().GetString("number")
		stage, _ := cmd.Flags().GetString("stage")

		rows, err := svc.StageVersions(ctx, number, defect.StageTypeKey(strings.ToUpper(strings.TrimSpace(stage))))
		if err != nil {
			logging.Error(ctx, "defect versions failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "defect versions")
		}

		out := cmd.OutOrStdout()
		for _, row := range rows {
			marker := ""
			if row.IsCurrent {
				marker = " *current"
			}
			if row.IsDraft {
				marker += " (draft)"
			}
			fmt.Fprintf(out, "#%d %s by %s at %s%s\n", row.DataID, row.Kind, row.Submitter, row.CreatedAt, marker)
		}
		return nil
	}),
}

var defectDuplicateCmd = &cobra.Command{
	Use:   "duplicate",
	Short: "Mark a defect as a duplicate of another",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *workflow.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		number, _ := cmd.Flags().GetString("number")
		of, _ := cmd.Flags().GetString("of")
		actor, _ := cmd.Flags().GetString("actor")

		if err := svc.MarkDuplicate(ctx, number, of, actor); err != nil {
			logging.Error(ctx, "mark duplicate failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "mark duplicate")
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "marked %s duplicate of %s\n", number, of); err != nil {
			return errs.Wrap(err, "write duplicate output")
		}
		return nil
	}),
}

// resolveContent reads stage content from --content or --content-file.
func resolveContent(cmd *cobra.Command, required bool) (string, error) {
	inline, _ := cmd.Flags().GetString("content")
	contentFile, _ := cmd.Flags().GetString("content-file")

	if strings.TrimSpace(inline) != "" && strings.TrimSpace(contentFile) != "" {
		return "", errors.New("content and content-file are mutually exclusive")
	}

	if strings.TrimSpace(contentFile) != "" {
		raw, err := os.ReadFile(contentFile)
		if err != nil {
			return "", errs.Wrapf(err, "read content file %q", contentFile)
		}
		inline = string(raw)
	}

	if required && strings.TrimSpace(inline) == "" {
		return "", errors.New("content is required (set --content or --content-file)")
	}
	return inline, nil
}

func init() {
	rootCmd.AddCommand(defectCmd)

	defectCmd.AddCommand(defectCreateCmd)
	defectCreateCmd.Flags().String("title", "", "Defect title")
	defectCreateCmd.Flags().String("description", "", "Short description")
	defectCreateCmd.Flags().String("severity", "MAJOR", "Severity (CRITICAL|MAJOR|MINOR|TRIVIAL)")
	defectCreateCmd.Flags().String("reproducibility", "ALWAYS", "Reproducibility (ALWAYS|SOMETIMES|RARELY|UNABLE)")
	defectCreateCmd.Flags().String("creator", "", "Creator account")
	defectCreateCmd.Flags().String("pipeline", "full", "Pipeline variant (full|expedited|lightweight)")
	defectCreateCmd.Flags().Uint64("project", 0, "Associated project id")
	defectCreateCmd.Flags().Uint64("version", 0, "Associated version id")
	defectCreateCmd.Flags().Bool("draft", false, "Create as draft")
	_ = defectCreateCmd.MarkFlagRequired("title")
	_ = defectCreateCmd.MarkFlagRequired("creator")

	defectCmd.AddCommand(defectShowCmd)
	defectShowCmd.Flags().String("number", "", "Defect number")
	_ = defectShowCmd.MarkFlagRequired("number")

	defectCmd.AddCommand(defectListCmd)
	defectListCmd.Flags().String("status", "", "Status filter")
	defectListCmd.Flags().String("creator", "", "Creator filter")
	defectListCmd.Flags().String("pipeline", "", "Pipeline filter")

	defectCmd.AddCommand(defectHistoryCmd)
	defectHistoryCmd.Flags().String("number", "", "Defect number")
	defectHistoryCmd.Flags().Bool("internal", false, "Include internal bookkeeping entries")
	_ = defectHistoryCmd.MarkFlagRequired("number")

	defectCmd.AddCommand(defectVersionsCmd)
	defectVersionsCmd.Flags().String("number", "", "Defect number")
	defectVersionsCmd.Flags().String("stage", "", "Stage type (DESCRIPTION|ANALYSIS|SOLUTION|REGRESSION)")
	_ = defectVersionsCmd.MarkFlagRequired("number")
	_ = defectVersionsCmd.MarkFlagRequired("stage")

	defectCmd.AddCommand(defectDuplicateCmd)
	defectDuplicateCmd.Flags().String("number", "", "Defect number")
	defectDuplicateCmd.Flags().String("of", "", "Number of the defect it duplicates")
	defectDuplicateCmd.Flags().String("actor", "", "Acting account")
	_ = defectDuplicateCmd.MarkFlagRequired("number")
	_ = defectDuplicateCmd.MarkFlagRequired("of")
	_ = defectDuplicateCmd.MarkFlagRequired("actor")
}
