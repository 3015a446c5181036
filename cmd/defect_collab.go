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

var defectInviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "Invite a collaborator to the analysis stage",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *workflow.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		input, err := inviteInputFromFlags(cmd)
		if err != nil {
			return err
		}

		collaboratorID, err := svc.Invite(ctx, input)
		if err != nil {
			logging.Error(ctx, "invite collaborator failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "invite collaborator")
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "invited %s (record #%d)\n", input.Invitee, collaboratorID); err != nil {
			return errs.Wrap(err, "write invite output")
		}
		return nil
	}),
}

var defectDivideCmd = &cobra.Command{
	Use:   "divide",
	Short: "Split the solution stage's work onto another assignee",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *workflow.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		input, err := inviteInputFromFlags(cmd)
		if err != nil {
			return err
		}

		collaboratorID, err := svc.AssignDivision(ctx, input)
		if err != nil {
			logging.Error(ctx, "assign division failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "assign division")
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "divided to %s (record #%d)\n", input.Invitee, collaboratorID); err != nil {
			return errs.Wrap(err, "write divide output")
		}
		return nil
	}),
}

var defectAcceptCmd = &cobra.Command{
	Use:   "accept",
	Short: "Accept a pending invitation",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *workflow.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		number, _ := cmd.Flags().GetString("number")
		collaboratorID, _ := cmd.Flags().GetUint64("collaborator")
		actor, _ := cmd.Flags().GetString("actor")

		if err := svc.AcceptInvitation(ctx, workflow.InvitationActionInput{
			DefectNumber:   number,
			CollaboratorID: collaboratorID,
			Actor:          actor,
		}); err != nil {
			logging.Error(ctx, "accept invitation failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "accept invitation")
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "accepted record #%d\n", collaboratorID); err != nil {
			return errs.Wrap(err, "write accept output")
		}
		return nil
	}),
}

var defectDeclineCmd = &cobra.Command{
	Use:   "decline",
	Short: "Decline a pending invitation for good",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *workflow.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		number, _ := cmd.Flags().GetString("number")
		collaboratorID, _ := cmd.Flags().GetUint64("collaborator")
		actor, _ := cmd.Flags().GetString("actor")
		reason, _ := cmd.Flags().GetString("reason")

		if err := svc.DeclineInvitation(ctx, workflow.InvitationActionInput{
			DefectNumber:   number,
			CollaboratorID: collaboratorID,
			Actor:          actor,
			Reason:         reason,
		}); err != nil {
			logging.Error(ctx, "decline invitation failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "decline invitation")
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "declined record #%d\n", collaboratorID); err != nil {
			return errs.Wrap(err, "write decline output")
		}
		return nil
	}),
}

var defectTransferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Hand a pending invitation to someone else",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *workflow.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		number, _ := cmd.Flags().GetString("number")
		collaboratorID, _ := cmd.Flags().GetUint64("collaborator")
		assignee, _ := cmd.Flags().GetString("assignee")
		actor, _ := cmd.Flags().GetString("actor")

		createdID, err := svc.TransferInvitation(ctx, workflow.TransferInvitationInput{
			DefectNumber:   number,
			CollaboratorID: collaboratorID,
			NewAssignee:    assignee,
			Actor:          actor,
		})
		if err != nil {
			logging.Error(ctx, "transfer invitation failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "transfer invitation")
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "transferred to %s (record #%d)\n", assignee, createdID); err != nil {
			return errs.Wrap(err, "write transfer output")
		}
		return nil
	}),
}

var defectAbandonCmd = &cobra.Command{
	Use:   "abandon",
	Short: "Cancel a collaborator record",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *workflow.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		number, _ := cmd.Flags().GetString("number")
		collaboratorID, _ := cmd.Flags().GetUint64("collaborator")
		reason, _ := cmd.Flags().GetString("reason")
		actor, _ := cmd.Flags().GetString("actor")

		result, err := svc.AbandonCollaborator(ctx, workflow.AbandonCollaboratorInput{
			DefectNumber:   number,
			CollaboratorID: collaboratorID,
			Reason:         reason,
			Actor:          actor,
		})
		if err != nil {
			logging.Error(ctx, "abandon collaborator failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "abandon collaborator")
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "cancelled record #%d\n", collaboratorID)
		if result.Evaluated {
			fmt.Fprintf(out, "evaluated: score=%d advanced=%v\n", result.Score, result.Advanced)
		}
		return nil
	}),
}

var defectRemindCmd = &cobra.Command{
	Use:   "remind",
	Short: "Nudge a collaborator still expected to produce work",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *workflow.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		number, _ := cmd.Flags().GetString("number")
		collaboratorID, _ := cmd.Flags().GetUint64("collaborator")
		actor, _ := cmd.Flags().GetString("actor")
		message, _ := cmd.Flags().GetString("message")

		if err := svc.Remind(ctx, workflow.RemindInput{
			DefectNumber:   number,
			CollaboratorID: collaboratorID,
			Actor:          actor,
			Message:        message,
		}); err != nil {
			logging.Error(ctx, "remind collaborator failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "remind collaborator")
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "reminded record #%d\n", collaboratorID); err != nil {
			return errs.Wrap(err, "write remind output")
		}
		return nil
	}),
}

func inviteInputFromFlags(cmd *cobra.Command) (workflow.InviteInput, error) {
	number, _ := cmd.Flags().GetString("number")
	inviter, _ := cmd.Flags().GetString("inviter")
	invitee, _ := cmd.Flags().GetString("invitee")
	reason, _ := cmd.Flags().GetString("reason")

	return workflow.InviteInput{
		DefectNumber: number,
		Inviter:      inviter,
		Invitee:      invitee,
		Reason:       reason,
	}, nil
}

func init() {
	for _, c := range []*cobra.Command{defectInviteCmd, defectDivideCmd} {
		defectCmd.AddCommand(c)
		c.Flags().String("number", "", "Defect number")
		c.Flags().String("inviter", "", "Inviting account")
		c.Flags().String("invitee", "", "Invited account")
		c.Flags().String("reason", "", "Rationale shown to the invitee")
		_ = c.MarkFlagRequired("number")
		_ = c.MarkFlagRequired("inviter")
		_ = c.MarkFlagRequired("invitee")
	}

	defectCmd.AddCommand(defectAcceptCmd)
	defectAcceptCmd.Flags().String("number", "", "Defect number")
	defectAcceptCmd.Flags().Uint64("collaborator", 0, "Collaborator record id")
	defectAcceptCmd.Flags().String("actor", "", "Acting account")
	_ = defectAcceptCmd.MarkFlagRequired("number")
	_ = defectAcceptCmd.MarkFlagRequired("collaborator")
	_ = defectAcceptCmd.MarkFlagRequired("actor")

	defectCmd.AddCommand(defectDeclineCmd)
	defectDeclineCmd.Flags().String("number", "", "Defect number")
	defectDeclineCmd.Flags().Uint64("collaborator", 0, "Collaborator record id")
	defectDeclineCmd.Flags().String("actor", "", "Acting account")
	defectDeclineCmd.Flags().String("reason", "", "Decline reason")
	_ = defectDeclineCmd.MarkFlagRequired("number")
	_ = defectDeclineCmd.MarkFlagRequired("collaborator")
	_ = defectDeclineCmd.MarkFlagRequired("actor")
	_ = defectDeclineCmd.MarkFlagRequired("reason")

	defectCmd.AddCommand(defectTransferCmd)
	defectTransferCmd.Flags().String("number", "", "Defect number")
	defectTransferCmd.Flags().Uint64("collaborator", 0, "Collaborator record id")
	defectTransferCmd.Flags().String("assignee", "", "New assignee")
	defectTransferCmd.Flags().String("actor", "", "Acting account")
	_ = defectTransferCmd.MarkFlagRequired("number")
	_ = defectTransferCmd.MarkFlagRequired("collaborator")
	_ = defectTransferCmd.MarkFlagRequired("assignee")
	_ = defectTransferCmd.MarkFlagRequired("actor")

	defectCmd.AddCommand(defectAbandonCmd)
	defectAbandonCmd.Flags().String("number", "", "Defect number")
	defectAbandonCmd.Flags().Uint64("collaborator", 0, "Collaborator record id")
	defectAbandonCmd.Flags().String("reason", "", "Cancellation reason")
	defectAbandonCmd.Flags().String("actor", "", "Acting account")
	_ = defectAbandonCmd.MarkFlagRequired("number")
	_ = defectAbandonCmd.MarkFlagRequired("collaborator")
	_ = defectAbandonCmd.MarkFlagRequired("actor")

	defectCmd.AddCommand(defectRemindCmd)
	defectRemindCmd.Flags().String("number", "", "Defect number")
	defectRemindCmd.Flags().Uint64("collaborator", 0, "Collaborator record id")
	defectRemindCmd.Flags().String("actor", "", "Acting account")
	defectRemindCmd.Flags().String("message", "", "Reminder message")
	_ = defectRemindCmd.MarkFlagRequired("number")
	_ = defectRemindCmd.MarkFlagRequired("collaborator")
	_ = defectRemindCmd.MarkFlagRequired("actor")
}
