package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"defectflow/internal/domain/defect"
	"defectflow/internal/infrastructure/persistence/sqlite/model"
	sqliterepo "defectflow/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "defectflow/internal/infrastructure/persistence/sqlite/uow"
	"defectflow/internal/ports"
)

type testCache struct {
	data map[string]string
}

func newTestCache() *testCache {
	return &testCache{data: make(map[string]string)}
}

func (c *testCache) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *testCache) Set(_ context.Context, key string, value string, _ time.Duration) error {
	c.data[key] = value
	return nil
}

func (c *testCache) Delete(_ context.Context, key string) error {
	delete(c.data, key)
	return nil
}

// stubEvaluator returns a scripted verdict for every item it is handed.
type stubEvaluator struct {
	score    int
	err      error
	calls    int
	requests []ports.EvalRequest
}

func (e *stubEvaluator) Evaluate(_ context.Context, req ports.EvalRequest) (ports.EvalResult, error) {
	e.calls++
	e.requests = append(e.requests, req)
	if e.err != nil {
		return ports.EvalResult{}, e.err
	}
	verdicts := make([]ports.EvalVerdict, 0, len(req.Items))
	for i := range req.Items {
		verdicts = append(verdicts, ports.EvalVerdict{
			Suggestion: fmt.Sprintf("suggestion-%d", i),
			Score:      e.score,
		})
	}
	return ports.EvalResult{RunID: fmt.Sprintf("run-%d", e.calls), Verdicts: verdicts}, nil
}

type sentNote struct {
	Recipient string
	Title     string
}

type stubNotifier struct {
	sent []sentNote
	err  error
}

func (n *stubNotifier) Send(_ context.Context, recipient string, title string, _ string) error {
	n.sent = append(n.sent, sentNote{Recipient: recipient, Title: title})
	return n.err
}

func setupService(t *testing.T, opts Options) (*Service, *stubEvaluator, *stubNotifier, *testCache) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "workflow.sqlite")
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Exec("PRAGMA foreign_keys = ON;").Error; err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	if err := db.AutoMigrate(
		&model.Defect{},
		&model.StageInstance{},
		&model.StageData{},
		&model.Collaborator{},
		&model.CombineRecord{},
		&model.Reminder{},
		&model.Rejection{},
		&model.FlowHistory{},
		&model.NumberCounter{},
		&model.WorkflowKV{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	evaluator := &stubEvaluator{score: 85}
	notifier := &stubNotifier{}
	cache := newTestCache()
	repo := sqliterepo.NewWorkflowRepository(db)
	uow := sqliteuow.NewUnitOfWork(db)
	svc := NewService(repo, uow, cache, evaluator, notifier, defect.BuiltinPipelines(), opts)
	return svc, evaluator, notifier, cache
}

func createDefect(t *testing.T, svc *Service, pipeline string) string {
	t.Helper()

	projectID := uint64(1)
	number, err := svc.CreateDefect(context.Background(), CreateDefectInput{
		Title:           "login fails with empty password",
		Description:     "500 on submit",
		Severity:        "MAJOR",
		Reproducibility: "ALWAYS",
		Creator:         "alice",
		Pipeline:        pipeline,
		ProjectID:       &projectID,
	})
	if err != nil {
		t.Fatalf("CreateDefect() error = %v", err)
	}
	return number
}

func submit(t *testing.T, svc *Service, number string, kind defect.DataKind, content string, submitter string) SubmitStageDataResult {
	t.Helper()

	result, err := svc.SubmitStageData(context.Background(), SubmitStageDataInput{
		DefectNumber: number,
		Kind:         kind,
		Content:      content,
		Submitter:    submitter,
	})
	if err != nil {
		t.Fatalf("SubmitStageData(%s) error = %v", kind, err)
	}
	return result
}

func currentStage(t *testing.T, svc *Service, number string) ports.StageInstance {
	t.Helper()

	detail, err := svc.GetDefect(context.Background(), number)
	if err != nil {
		t.Fatalf("GetDefect() error = %v", err)
	}
	return detail.CurrentStage
}

func TestCreateDefectAllocatesDateSeededNumbers(t *testing.T) {
	svc, _, _, _ := setupService(t, Options{})

	first := createDefect(t, svc, defect.PipelineLightweight)
	second := createDefect(t, svc, defect.PipelineLightweight)

	day := time.Now().UTC().Format("20060102")
	if want := fmt.Sprintf("D%s-0001", day); first != want {
		t.Fatalf("first number = %q, want %q", first, want)
	}
	if want := fmt.Sprintf("D%s-0002", day); second != want {
		t.Fatalf("second number = %q, want %q", second, want)
	}

	stage := currentStage(t, svc, first)
	if stage.StageType != defect.StageDescription {
		t.Fatalf("initial stage = %s, want DESCRIPTION", stage.StageType)
	}
	if stage.Status != defect.StageInProgress {
		t.Fatalf("initial stage status = %s", stage.Status)
	}

	history, err := svc.History(context.Background(), first, false)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 || history[0].Action != defect.ActionCreate {
		t.Fatalf("history = %+v, want one CREATE entry", history)
	}
}

func TestCreateDefectRequiresExactlyOneAssociation(t *testing.T) {
	svc, _, _, _ := setupService(t, Options{})

	_, err := svc.CreateDefect(context.Background(), CreateDefectInput{
		Title:           "orphan",
		Severity:        "MINOR",
		Reproducibility: "ALWAYS",
		Creator:         "alice",
	})
	if !errors.Is(err, defect.ErrAssociationRequired) {
		t.Fatalf("CreateDefect() error = %v, want ErrAssociationRequired", err)
	}

	projectID := uint64(1)
	versionID := uint64(2)
	_, err = svc.CreateDefect(context.Background(), CreateDefectInput{
		Title:           "both",
		Severity:        "MINOR",
		Reproducibility: "ALWAYS",
		Creator:         "alice",
		ProjectID:       &projectID,
		VersionID:       &versionID,
	})
	if !errors.Is(err, defect.ErrAssociationRequired) {
		t.Fatalf("CreateDefect() with both error = %v, want ErrAssociationRequired", err)
	}
}

func TestLightweightPipelineEndToEnd(t *testing.T) {
	svc, evaluator, _, _ := setupService(t, Options{})
	ctx := context.Background()

	number := createDefect(t, svc, defect.PipelineLightweight)

	result := submit(t, svc, number, defect.KindDescription, "steps to reproduce", "alice")
	if !result.Evaluated || !result.Advanced {
		t.Fatalf("description submit result = %+v, want evaluated and advanced", result)
	}
	if result.NextStage != defect.StageSolution {
		t.Fatalf("next stage = %s, want SOLUTION", result.NextStage)
	}

	result = submit(t, svc, number, defect.KindSolution, "fix the null check", "bob")
	if result.NextStage != defect.StageConfirmation {
		t.Fatalf("next stage = %s, want CONFIRMATION", result.NextStage)
	}

	detail, err := svc.GetDefect(ctx, number)
	if err != nil {
		t.Fatalf("GetDefect() error = %v", err)
	}
	if detail.Defect.Status != defect.DefectResolved {
		t.Fatalf("defect status = %s, want RESOLVED", detail.Defect.Status)
	}

	approval, err := svc.ApproveReview(ctx, ApproveReviewInput{DefectNumber: number, Actor: "alice"})
	if err != nil {
		t.Fatalf("ApproveReview() error = %v", err)
	}
	if !approval.Closed {
		t.Fatalf("approval = %+v, want closed", approval)
	}

	detail, err = svc.GetDefect(ctx, number)
	if err != nil {
		t.Fatalf("GetDefect() error = %v", err)
	}
	if detail.Defect.Status != defect.DefectClosed {
		t.Fatalf("defect status = %s, want CLOSED", detail.Defect.Status)
	}

	if evaluator.calls != 2 {
		t.Fatalf("evaluator calls = %d, want 2", evaluator.calls)
	}

	// No further action may touch a closed defect.
	_, err = svc.SubmitStageData(ctx, SubmitStageDataInput{
		DefectNumber: number,
		Kind:         defect.KindTestResult,
		Content:      "late",
		Submitter:    "alice",
	})
	if !errors.Is(err, defect.ErrDefectFinal) {
		t.Fatalf("submit after close error = %v, want ErrDefectFinal", err)
	}
}

func TestGateFailureKeepsStageOpen(t *testing.T) {
	svc, evaluator, _, _ := setupService(t, Options{})
	evaluator.score = 40

	number := createDefect(t, svc, defect.PipelineLightweight)
	result := submit(t, svc, number, defect.KindDescription, "too thin", "alice")

	if result.Advanced {
		t.Fatalf("result = %+v, want not advanced", result)
	}
	if result.Score != 40 {
		t.Fatalf("score = %d, want 40", result.Score)
	}

	stage := currentStage(t, svc, number)
	if stage.StageType != defect.StageDescription || stage.Status != defect.StageInProgress {
		t.Fatalf("stage = %s [%s], want DESCRIPTION [IN_PROGRESS]", stage.StageType, stage.Status)
	}

	// Rework passes and the same stage instance is completed.
	evaluator.score = 90
	result = submit(t, svc, number, defect.KindDescription, "proper reproduction steps", "alice")
	if !result.Advanced || result.NextStage != defect.StageSolution {
		t.Fatalf("rework result = %+v, want advance to SOLUTION", result)
	}
}

func TestEvaluatorOutageRevertsStageAndSurfacesError(t *testing.T) {
	svc, evaluator, _, _ := setupService(t, Options{})
	evaluator.err = errors.New("scoring unreachable")

	number := createDefect(t, svc, defect.PipelineLightweight)
	_, err := svc.SubmitStageData(context.Background(), SubmitStageDataInput{
		DefectNumber: number,
		Kind:         defect.KindDescription,
		Content:      "steps",
		Submitter:    "alice",
	})
	if err == nil {
		t.Fatal("SubmitStageData() error = nil, want evaluation failure")
	}

	stage := currentStage(t, svc, number)
	if stage.Status != defect.StageInProgress {
		t.Fatalf("stage status = %s, want IN_PROGRESS after revert", stage.Status)
	}
}

func TestDraftSubmissionSkipsGate(t *testing.T) {
	svc, evaluator, _, _ := setupService(t, Options{})

	number := createDefect(t, svc, defect.PipelineLightweight)
	result, err := svc.SubmitStageData(context.Background(), SubmitStageDataInput{
		DefectNumber: number,
		Kind:         defect.KindDescription,
		Content:      "half written",
		Submitter:    "alice",
		Draft:        true,
	})
	if err != nil {
		t.Fatalf("SubmitStageData() error = %v", err)
	}
	if result.Evaluated {
		t.Fatalf("draft result = %+v, want no evaluation", result)
	}
	if evaluator.calls != 0 {
		t.Fatalf("evaluator calls = %d, want 0", evaluator.calls)
	}
}

func TestResubmittingIdenticalContentIsUnchanged(t *testing.T) {
	svc, evaluator, _, _ := setupService(t, Options{})
	evaluator.score = 40

	number := createDefect(t, svc, defect.PipelineLightweight)
	first := submit(t, svc, number, defect.KindDescription, "same words", "alice")
	if !first.Changed {
		t.Fatalf("first submission changed = false")
	}

	second := submit(t, svc, number, defect.KindDescription, "same words", "alice")
	if second.Changed {
		t.Fatalf("identical resubmission changed = true")
	}
	if second.DataID == first.DataID {
		t.Fatalf("resubmission reused data row #%d", first.DataID)
	}
}

func TestSubmitValidation(t *testing.T) {
	svc, _, _, _ := setupService(t, Options{})
	ctx := context.Background()

	number := createDefect(t, svc, defect.PipelineFull)

	// Wrong kind for the description stage.
	_, err := svc.SubmitStageData(ctx, SubmitStageDataInput{
		DefectNumber: number,
		Kind:         defect.KindSolution,
		Content:      "premature fix",
		Submitter:    "alice",
	})
	if !errors.Is(err, defect.ErrWrongDataKind) {
		t.Fatalf("wrong kind error = %v, want ErrWrongDataKind", err)
	}

	// Move to the review stage and try to push content at it.
	submit(t, svc, number, defect.KindDescription, "steps", "alice")
	_, err = svc.SubmitStageData(ctx, SubmitStageDataInput{
		DefectNumber: number,
		Kind:         defect.KindDescription,
		Content:      "more",
		Submitter:    "alice",
	})
	if !errors.Is(err, defect.ErrReviewStageData) {
		t.Fatalf("review stage error = %v, want ErrReviewStageData", err)
	}
}

func TestRejectRollsBackToPriorInstance(t *testing.T) {
	svc, _, notifier, _ := setupService(t, Options{})
	ctx := context.Background()

	number := createDefect(t, svc, defect.PipelineFull)
	descStage := currentStage(t, svc, number)
	submit(t, svc, number, defect.KindDescription, "vague steps", "alice")

	reviewStage := currentStage(t, svc, number)
	if reviewStage.StageType != defect.StageReview {
		t.Fatalf("stage after description = %s, want REVIEW", reviewStage.StageType)
	}

	result, err := svc.RejectStage(ctx, RejectStageInput{
		DefectNumber: number,
		Actor:        "reviewer",
		Reason:       "cannot reproduce from these steps",
	})
	if err != nil {
		t.Fatalf("RejectStage() error = %v", err)
	}
	if result.ReactivatedStage != defect.StageDescription {
		t.Fatalf("reactivated stage = %s, want DESCRIPTION", result.ReactivatedStage)
	}
	if result.RejectionCount != 1 {
		t.Fatalf("rejection count = %d, want 1", result.RejectionCount)
	}

	// The rollback reuses the original instance instead of allocating one.
	stage := currentStage(t, svc, number)
	if stage.StageID != descStage.StageID {
		t.Fatalf("current stage id = %d, want reused %d", stage.StageID, descStage.StageID)
	}
	if stage.Status != defect.StagePendingUpdate {
		t.Fatalf("stage status = %s, want PENDING_UPDATE", stage.Status)
	}

	if len(notifier.sent) == 0 || notifier.sent[0].Recipient != "alice" {
		t.Fatalf("notifications = %+v, want rollback notice to alice", notifier.sent)
	}

	// PENDING_UPDATE accepts the rework and the cycle continues.
	rework := submit(t, svc, number, defect.KindDescription, "precise steps with log", "alice")
	if !rework.Advanced || rework.NextStage != defect.StageReview {
		t.Fatalf("rework result = %+v, want advance to REVIEW", rework)
	}
}

func TestRejectFirstStageHasNothingToRollBackTo(t *testing.T) {
	svc, _, _, _ := setupService(t, Options{})

	number := createDefect(t, svc, defect.PipelineFull)
	_, err := svc.RejectStage(context.Background(), RejectStageInput{
		DefectNumber: number,
		Actor:        "reviewer",
		Reason:       "nope",
	})
	if !errors.Is(err, defect.ErrNothingToRollBack) {
		t.Fatalf("RejectStage() error = %v, want ErrNothingToRollBack", err)
	}
}

// advanceToAnalysis drives an expedited defect onto its analysis stage.
func advanceToAnalysis(t *testing.T, svc *Service, number string) ports.StageInstance {
	t.Helper()

	submit(t, svc, number, defect.KindDescription, "steps", "alice")
	stage := currentStage(t, svc, number)
	if stage.StageType != defect.StageAnalysis {
		t.Fatalf("stage = %s, want ANALYSIS", stage.StageType)
	}
	return stage
}

// completeAnalysis takes an analysis stage through its gate by inviting one
// collaborator who delivers the finding.
func completeAnalysis(t *testing.T, svc *Service, number string, invitee string) {
	t.Helper()
	ctx := context.Background()

	id, err := svc.Invite(ctx, InviteInput{DefectNumber: number, Inviter: "alice", Invitee: invitee})
	if err != nil {
		t.Fatalf("Invite(%s) error = %v", invitee, err)
	}
	if err := svc.AcceptInvitation(ctx, InvitationActionInput{DefectNumber: number, CollaboratorID: id, Actor: invitee}); err != nil {
		t.Fatalf("AcceptInvitation(%s) error = %v", invitee, err)
	}
	result, err := svc.SubmitStageData(ctx, SubmitStageDataInput{
		DefectNumber:   number,
		Kind:           defect.KindCauseAnalysis,
		Content:        "root cause traced to session init",
		Submitter:      invitee,
		CollaboratorID: &id,
	})
	if err != nil {
		t.Fatalf("%s analysis submit error = %v", invitee, err)
	}
	if !result.Advanced {
		t.Fatalf("analysis submit result = %+v, want advance", result)
	}
}

func TestFanOutStageNeedsAtLeastOneCollaborator(t *testing.T) {
	svc, evaluator, _, _ := setupService(t, Options{})
	ctx := context.Background()

	number := createDefect(t, svc, defect.PipelineExpedited)
	advanceToAnalysis(t, svc, number)
	gateCallsBefore := evaluator.calls

	// No collaborator records at all: the assignee cannot push through alone.
	_, err := svc.SubmitStageData(ctx, SubmitStageDataInput{
		DefectNumber: number,
		Kind:         defect.KindCauseAnalysis,
		Content:      "solo analysis",
		Submitter:    "alice",
	})
	if !errors.Is(err, defect.ErrNoActiveCollaborators) {
		t.Fatalf("solo submit error = %v, want ErrNoActiveCollaborators", err)
	}

	// A record that was cancelled does not count either.
	bobID, err := svc.Invite(ctx, InviteInput{DefectNumber: number, Inviter: "alice", Invitee: "bob"})
	if err != nil {
		t.Fatalf("Invite() error = %v", err)
	}
	if _, err := svc.AbandonCollaborator(ctx, AbandonCollaboratorInput{
		DefectNumber:   number,
		CollaboratorID: bobID,
		Reason:         "unavailable",
		Actor:          "alice",
	}); err != nil {
		t.Fatalf("AbandonCollaborator() error = %v", err)
	}
	_, err = svc.SubmitStageData(ctx, SubmitStageDataInput{
		DefectNumber: number,
		Kind:         defect.KindCauseAnalysis,
		Content:      "solo analysis",
		Submitter:    "alice",
	})
	if !errors.Is(err, defect.ErrNoActiveCollaborators) {
		t.Fatalf("submit with cancelled record error = %v, want ErrNoActiveCollaborators", err)
	}
	if evaluator.calls != gateCallsBefore {
		t.Fatalf("evaluator calls = %d, want unchanged %d", evaluator.calls, gateCallsBefore)
	}

	// The rejected submissions left no content behind.
	rows, err := svc.StageVersions(ctx, number, defect.StageAnalysis)
	if err != nil {
		t.Fatalf("StageVersions() error = %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("analysis rows = %d, want none", len(rows))
	}
}

func TestFanOutWaitsForEveryCollaborator(t *testing.T) {
	svc, evaluator, _, _ := setupService(t, Options{})
	ctx := context.Background()

	number := createDefect(t, svc, defect.PipelineExpedited)
	advanceToAnalysis(t, svc, number)
	gateCallsBefore := evaluator.calls

	bobID, err := svc.Invite(ctx, InviteInput{
		DefectNumber: number, Inviter: "alice", Invitee: "bob", Reason: "kernel expertise",
	})
	if err != nil {
		t.Fatalf("Invite(bob) error = %v", err)
	}
	carolID, err := svc.Invite(ctx, InviteInput{
		DefectNumber: number, Inviter: "alice", Invitee: "carol", Reason: "owns the module",
	})
	if err != nil {
		t.Fatalf("Invite(carol) error = %v", err)
	}

	if err := svc.AcceptInvitation(ctx, InvitationActionInput{DefectNumber: number, CollaboratorID: bobID, Actor: "bob"}); err != nil {
		t.Fatalf("AcceptInvitation(bob) error = %v", err)
	}
	if err := svc.AcceptInvitation(ctx, InvitationActionInput{DefectNumber: number, CollaboratorID: carolID, Actor: "carol"}); err != nil {
		t.Fatalf("AcceptInvitation(carol) error = %v", err)
	}

	// First collaborator's submission must not trigger the gate.
	result, err := svc.SubmitStageData(ctx, SubmitStageDataInput{
		DefectNumber:   number,
		Kind:           defect.KindCauseAnalysis,
		Content:        "race in session init",
		Submitter:      "bob",
		CollaboratorID: &bobID,
	})
	if err != nil {
		t.Fatalf("bob submit error = %v", err)
	}
	if result.Evaluated {
		t.Fatalf("bob submit result = %+v, want gate deferred", result)
	}
	if evaluator.calls != gateCallsBefore {
		t.Fatalf("evaluator calls = %d, want unchanged %d", evaluator.calls, gateCallsBefore)
	}

	// The last one completes the tally: gate runs, output is combined.
	result, err = svc.SubmitStageData(ctx, SubmitStageDataInput{
		DefectNumber:   number,
		Kind:           defect.KindCauseAnalysis,
		Content:        "stale cache entry on logout",
		Submitter:      "carol",
		CollaboratorID: &carolID,
	})
	if err != nil {
		t.Fatalf("carol submit error = %v", err)
	}
	if !result.Evaluated || !result.Advanced || result.NextStage != defect.StageSolution {
		t.Fatalf("carol submit result = %+v, want gate pass to SOLUTION", result)
	}

	combined, err := svc.Combine(ctx, number, defect.StageAnalysis)
	if err != nil {
		t.Fatalf("Combine() error = %v", err)
	}
	if len(combined.SourceIDs) != 2 {
		t.Fatalf("combine sources = %v, want 2 rows", combined.SourceIDs)
	}
}

func TestDeclinedInviteeStaysDeclined(t *testing.T) {
	svc, _, _, _ := setupService(t, Options{})
	ctx := context.Background()

	number := createDefect(t, svc, defect.PipelineExpedited)
	advanceToAnalysis(t, svc, number)

	bobID, err := svc.Invite(ctx, InviteInput{DefectNumber: number, Inviter: "alice", Invitee: "bob"})
	if err != nil {
		t.Fatalf("Invite() error = %v", err)
	}
	if err := svc.DeclineInvitation(ctx, InvitationActionInput{
		DefectNumber: number, CollaboratorID: bobID, Actor: "bob", Reason: "on leave",
	}); err != nil {
		t.Fatalf("DeclineInvitation() error = %v", err)
	}

	_, err = svc.Invite(ctx, InviteInput{DefectNumber: number, Inviter: "alice", Invitee: "bob"})
	if !errors.Is(err, defect.ErrAlreadyDeclined) {
		t.Fatalf("re-invite error = %v, want ErrAlreadyDeclined", err)
	}

	// A declined record no longer blocks the stage: the assigner can still
	// fan out to someone else and finish through them.
	carolID, err := svc.Invite(ctx, InviteInput{DefectNumber: number, Inviter: "alice", Invitee: "carol"})
	if err != nil {
		t.Fatalf("Invite(carol) error = %v", err)
	}
	result, err := svc.SubmitStageData(ctx, SubmitStageDataInput{
		DefectNumber:   number,
		Kind:           defect.KindCauseAnalysis,
		Content:        "found it",
		Submitter:      "carol",
		CollaboratorID: &carolID,
	})
	if err != nil {
		t.Fatalf("carol submit error = %v", err)
	}
	if !result.Advanced {
		t.Fatalf("result = %+v, want advanced despite declined bob", result)
	}
}

func TestPendingInviteeCannotBeInvitedTwice(t *testing.T) {
	svc, _, _, _ := setupService(t, Options{})
	ctx := context.Background()

	number := createDefect(t, svc, defect.PipelineExpedited)
	advanceToAnalysis(t, svc, number)

	if _, err := svc.Invite(ctx, InviteInput{DefectNumber: number, Inviter: "alice", Invitee: "bob"}); err != nil {
		t.Fatalf("Invite() error = %v", err)
	}
	_, err := svc.Invite(ctx, InviteInput{DefectNumber: number, Inviter: "alice", Invitee: "bob"})
	if !errors.Is(err, defect.ErrAlreadyInvited) {
		t.Fatalf("duplicate invite error = %v, want ErrAlreadyInvited", err)
	}
}

func TestTransferInvitationCreatesFreshPendingRecord(t *testing.T) {
	svc, _, _, _ := setupService(t, Options{})
	ctx := context.Background()

	number := createDefect(t, svc, defect.PipelineExpedited)
	advanceToAnalysis(t, svc, number)

	bobID, err := svc.Invite(ctx, InviteInput{DefectNumber: number, Inviter: "alice", Invitee: "bob"})
	if err != nil {
		t.Fatalf("Invite() error = %v", err)
	}

	carolID, err := svc.TransferInvitation(ctx, TransferInvitationInput{
		DefectNumber:   number,
		CollaboratorID: bobID,
		NewAssignee:    "carol",
		Actor:          "bob",
	})
	if err != nil {
		t.Fatalf("TransferInvitation() error = %v", err)
	}
	if carolID == bobID {
		t.Fatalf("transfer reused record #%d", bobID)
	}

	detail, err := svc.GetDefect(ctx, number)
	if err != nil {
		t.Fatalf("GetDefect() error = %v", err)
	}
	byID := make(map[uint64]ports.Collaborator, len(detail.Collaborators))
	for _, c := range detail.Collaborators {
		byID[c.CollaboratorID] = c
	}
	if byID[bobID].Status != defect.CollabTransferred {
		t.Fatalf("bob status = %s, want TRANSFERRED", byID[bobID].Status)
	}
	if byID[carolID].Status != defect.CollabPending || byID[carolID].Assignee != "carol" {
		t.Fatalf("carol record = %+v, want pending for carol", byID[carolID])
	}
}

func TestAbandonLastCollaboratorTriggersGate(t *testing.T) {
	svc, _, _, _ := setupService(t, Options{})
	ctx := context.Background()

	number := createDefect(t, svc, defect.PipelineExpedited)
	advanceToAnalysis(t, svc, number)

	bobID, err := svc.Invite(ctx, InviteInput{DefectNumber: number, Inviter: "alice", Invitee: "bob"})
	if err != nil {
		t.Fatalf("Invite(bob) error = %v", err)
	}
	carolID, err := svc.Invite(ctx, InviteInput{DefectNumber: number, Inviter: "alice", Invitee: "carol"})
	if err != nil {
		t.Fatalf("Invite(carol) error = %v", err)
	}

	if _, err := svc.SubmitStageData(ctx, SubmitStageDataInput{
		DefectNumber:   number,
		Kind:           defect.KindCauseAnalysis,
		Content:        "bob's analysis",
		Submitter:      "bob",
		CollaboratorID: &bobID,
	}); err != nil {
		t.Fatalf("bob submit error = %v", err)
	}

	// Carol never delivers; cancelling her record unblocks the tally.
	result, err := svc.AbandonCollaborator(ctx, AbandonCollaboratorInput{
		DefectNumber:   number,
		CollaboratorID: carolID,
		Reason:         "reassigned elsewhere",
		Actor:          "alice",
	})
	if err != nil {
		t.Fatalf("AbandonCollaborator() error = %v", err)
	}
	if !result.Evaluated || !result.Advanced {
		t.Fatalf("abandon result = %+v, want gate run and advance", result)
	}
}

func TestRejectCascadesToActiveCollaborators(t *testing.T) {
	svc, _, _, _ := setupService(t, Options{})
	ctx := context.Background()

	number := createDefect(t, svc, defect.PipelineExpedited)
	analysisStage := advanceToAnalysis(t, svc, number)

	bobID, err := svc.Invite(ctx, InviteInput{DefectNumber: number, Inviter: "alice", Invitee: "bob"})
	if err != nil {
		t.Fatalf("Invite() error = %v", err)
	}
	if _, err := svc.Invite(ctx, InviteInput{DefectNumber: number, Inviter: "alice", Invitee: "carol"}); err != nil {
		t.Fatalf("Invite(carol) error = %v", err)
	}
	if err := svc.AcceptInvitation(ctx, InvitationActionInput{DefectNumber: number, CollaboratorID: bobID, Actor: "bob"}); err != nil {
		t.Fatalf("AcceptInvitation() error = %v", err)
	}

	result, err := svc.RejectStage(ctx, RejectStageInput{
		DefectNumber: number,
		Actor:        "alice",
		Reason:       "analysis heading the wrong way",
	})
	if err != nil {
		t.Fatalf("RejectStage() error = %v", err)
	}
	if result.ReactivatedStage != defect.StageDescription {
		t.Fatalf("reactivated stage = %s, want DESCRIPTION", result.ReactivatedStage)
	}
	if len(result.CascadedRecords) != 2 {
		t.Fatalf("cascaded records = %v, want both collaborators", result.CascadedRecords)
	}

	collabs, err := svc.repo.ListCollaborators(ctx, analysisStage.StageID)
	if err != nil {
		t.Fatalf("ListCollaborators() error = %v", err)
	}
	for _, c := range collabs {
		if c.Status != defect.CollabRejected {
			t.Fatalf("collaborator #%d status = %s, want REJECTED", c.CollaboratorID, c.Status)
		}
	}
}

func TestRejectSolutionReviewResetsPriorDivisions(t *testing.T) {
	svc, _, notifier, _ := setupService(t, Options{})
	ctx := context.Background()

	number := createDefect(t, svc, defect.PipelineFull)
	submit(t, svc, number, defect.KindDescription, "steps", "alice")
	if _, err := svc.ApproveReview(ctx, ApproveReviewInput{DefectNumber: number, Actor: "reviewer"}); err != nil {
		t.Fatalf("ApproveReview() error = %v", err)
	}
	completeAnalysis(t, svc, number, "dana")

	solutionStage := currentStage(t, svc, number)
	if solutionStage.StageType != defect.StageSolution {
		t.Fatalf("stage = %s, want SOLUTION", solutionStage.StageType)
	}

	bobID, err := svc.AssignDivision(ctx, InviteInput{DefectNumber: number, Inviter: "alice", Invitee: "bob"})
	if err != nil {
		t.Fatalf("AssignDivision(bob) error = %v", err)
	}
	carolID, err := svc.AssignDivision(ctx, InviteInput{DefectNumber: number, Inviter: "alice", Invitee: "carol"})
	if err != nil {
		t.Fatalf("AssignDivision(carol) error = %v", err)
	}
	if _, err := svc.SubmitStageData(ctx, SubmitStageDataInput{
		DefectNumber:   number,
		Kind:           defect.KindSolution,
		Content:        "patch the session store",
		Submitter:      "bob",
		CollaboratorID: &bobID,
	}); err != nil {
		t.Fatalf("bob division submit error = %v", err)
	}
	result, err := svc.SubmitStageData(ctx, SubmitStageDataInput{
		DefectNumber:   number,
		Kind:           defect.KindSolution,
		Content:        "guard the cache path",
		Submitter:      "carol",
		CollaboratorID: &carolID,
	})
	if err != nil {
		t.Fatalf("carol division submit error = %v", err)
	}
	if !result.Advanced || result.NextStage != defect.StageSolutionReview {
		t.Fatalf("result = %+v, want advance to SOLUTION_REVIEW", result)
	}

	notifier.sent = nil
	rejected, err := svc.RejectStage(ctx, RejectStageInput{
		DefectNumber: number,
		Actor:        "reviewer",
		Reason:       "patch misses the cache invalidation",
	})
	if err != nil {
		t.Fatalf("RejectStage() error = %v", err)
	}
	if rejected.ReactivatedStage != defect.StageSolution {
		t.Fatalf("reactivated stage = %s, want SOLUTION", rejected.ReactivatedStage)
	}
	if rejected.RejectionCount != 1 {
		t.Fatalf("rejection count = %d, want 1", rejected.RejectionCount)
	}
	if len(rejected.CascadedRecords) != 2 {
		t.Fatalf("cascaded records = %v, want both divisions", rejected.CascadedRecords)
	}

	// Completed divisions go back to their holders for rework.
	collabs, err := svc.repo.ListCollaborators(ctx, solutionStage.StageID)
	if err != nil {
		t.Fatalf("ListCollaborators() error = %v", err)
	}
	if len(collabs) != 2 {
		t.Fatalf("collaborators = %d, want 2", len(collabs))
	}
	for _, c := range collabs {
		if c.Status != defect.CollabRejected {
			t.Fatalf("division #%d status = %s, want REJECTED", c.CollaboratorID, c.Status)
		}
	}
	notified := map[string]bool{}
	for _, n := range notifier.sent {
		notified[n.Recipient] = true
	}
	if !notified["bob"] || !notified["carol"] {
		t.Fatalf("notified = %v, want both division holders", notifier.sent)
	}

	// The ledger entry points at the content being sent back.
	rejections, err := svc.Rejections(ctx, number)
	if err != nil {
		t.Fatalf("Rejections() error = %v", err)
	}
	if len(rejections) != 1 {
		t.Fatalf("rejections = %d, want 1", len(rejections))
	}
	if rejections[0].Type != defect.RejectSolution {
		t.Fatalf("rejection type = %s, want %s", rejections[0].Type, defect.RejectSolution)
	}
	if rejections[0].DataID == nil {
		t.Fatalf("rejection data reference missing")
	}

	// Each holder reworks their part; the last one reopens the gate.
	rework, err := svc.SubmitStageData(ctx, SubmitStageDataInput{
		DefectNumber:   number,
		Kind:           defect.KindSolution,
		Content:        "patch the session store and the cache path",
		Submitter:      "bob",
		CollaboratorID: &bobID,
	})
	if err != nil {
		t.Fatalf("bob rework submit error = %v", err)
	}
	if rework.Evaluated {
		t.Fatalf("bob rework result = %+v, want gate deferred", rework)
	}
	rework, err = svc.SubmitStageData(ctx, SubmitStageDataInput{
		DefectNumber:   number,
		Kind:           defect.KindSolution,
		Content:        "invalidate the cache entry on logout",
		Submitter:      "carol",
		CollaboratorID: &carolID,
	})
	if err != nil {
		t.Fatalf("carol rework submit error = %v", err)
	}
	if !rework.Advanced || rework.NextStage != defect.StageSolutionReview {
		t.Fatalf("rework result = %+v, want advance to SOLUTION_REVIEW", rework)
	}
}

func TestGateReusesSelfEvaluationVerdict(t *testing.T) {
	svc, evaluator, _, _ := setupService(t, Options{SelfEvalTTL: time.Hour})
	ctx := context.Background()

	number := createDefect(t, svc, defect.PipelineLightweight)
	if _, err := svc.SubmitStageData(ctx, SubmitStageDataInput{
		DefectNumber: number,
		Kind:         defect.KindDescription,
		Content:      "steps to reproduce",
		Submitter:    "alice",
		Draft:        true,
	}); err != nil {
		t.Fatalf("draft submit error = %v", err)
	}
	preview, err := svc.SelfEvaluate(ctx, SelfEvaluateInput{DefectNumber: number, Requester: "alice"})
	if err != nil {
		t.Fatalf("SelfEvaluate() error = %v", err)
	}
	if evaluator.calls != 1 {
		t.Fatalf("evaluator calls = %d, want 1", evaluator.calls)
	}

	// The real submission carries the same bytes, so the gate reuses the
	// preview instead of calling out again.
	result := submit(t, svc, number, defect.KindDescription, "steps to reproduce", "alice")
	if !result.Evaluated || !result.Advanced || result.NextStage != defect.StageSolution {
		t.Fatalf("result = %+v, want gate pass to SOLUTION", result)
	}
	if result.RunID != preview.RunID {
		t.Fatalf("gate run id = %q, want preview run %q", result.RunID, preview.RunID)
	}
	if evaluator.calls != 1 {
		t.Fatalf("evaluator calls = %d, want preview verdict reused", evaluator.calls)
	}

	// The next stage has no preview, so the scorer is consulted again.
	result = submit(t, svc, number, defect.KindSolution, "fix the null check", "alice")
	if !result.Advanced {
		t.Fatalf("solution result = %+v, want advance", result)
	}
	if evaluator.calls != 2 {
		t.Fatalf("evaluator calls = %d, want 2", evaluator.calls)
	}
}

func TestSelfEvaluateCachesWhileContentUnchanged(t *testing.T) {
	svc, evaluator, _, _ := setupService(t, Options{SelfEvalTTL: time.Hour})
	ctx := context.Background()

	number := createDefect(t, svc, defect.PipelineLightweight)
	if _, err := svc.SubmitStageData(ctx, SubmitStageDataInput{
		DefectNumber: number,
		Kind:         defect.KindDescription,
		Content:      "draft text",
		Submitter:    "alice",
		Draft:        true,
	}); err != nil {
		t.Fatalf("draft submit error = %v", err)
	}

	first, err := svc.SelfEvaluate(ctx, SelfEvaluateInput{DefectNumber: number, Requester: "alice"})
	if err != nil {
		t.Fatalf("SelfEvaluate() error = %v", err)
	}
	if first.FromCache {
		t.Fatalf("first preview from cache")
	}

	second, err := svc.SelfEvaluate(ctx, SelfEvaluateInput{DefectNumber: number, Requester: "alice"})
	if err != nil {
		t.Fatalf("second SelfEvaluate() error = %v", err)
	}
	if !second.FromCache {
		t.Fatalf("second preview = %+v, want cached", second)
	}
	if second.RunID != first.RunID {
		t.Fatalf("cached run id = %q, want %q", second.RunID, first.RunID)
	}
	if evaluator.calls != 1 {
		t.Fatalf("evaluator calls = %d, want 1", evaluator.calls)
	}

	// Changing the content invalidates the cached verdict.
	if _, err := svc.SubmitStageData(ctx, SubmitStageDataInput{
		DefectNumber: number,
		Kind:         defect.KindDescription,
		Content:      "rewritten text",
		Submitter:    "alice",
		Draft:        true,
	}); err != nil {
		t.Fatalf("second draft submit error = %v", err)
	}
	third, err := svc.SelfEvaluate(ctx, SelfEvaluateInput{DefectNumber: number, Requester: "alice"})
	if err != nil {
		t.Fatalf("third SelfEvaluate() error = %v", err)
	}
	if third.FromCache {
		t.Fatalf("third preview from cache despite changed content")
	}
	if evaluator.calls != 2 {
		t.Fatalf("evaluator calls = %d, want 2", evaluator.calls)
	}
}

func TestSelfEvaluateLeavesWorkflowInPlace(t *testing.T) {
	svc, _, _, _ := setupService(t, Options{})
	ctx := context.Background()

	number := createDefect(t, svc, defect.PipelineLightweight)
	if _, err := svc.SubmitStageData(ctx, SubmitStageDataInput{
		DefectNumber: number,
		Kind:         defect.KindDescription,
		Content:      "draft",
		Submitter:    "alice",
		Draft:        true,
	}); err != nil {
		t.Fatalf("draft submit error = %v", err)
	}
	if _, err := svc.SelfEvaluate(ctx, SelfEvaluateInput{DefectNumber: number, Requester: "alice"}); err != nil {
		t.Fatalf("SelfEvaluate() error = %v", err)
	}

	stage := currentStage(t, svc, number)
	if stage.StageType != defect.StageDescription || stage.Status != defect.StageInProgress {
		t.Fatalf("stage = %s [%s], want DESCRIPTION [IN_PROGRESS]", stage.StageType, stage.Status)
	}
}

func TestSuspendBlocksWorkUntilReopen(t *testing.T) {
	svc, _, _, _ := setupService(t, Options{})
	ctx := context.Background()

	number := createDefect(t, svc, defect.PipelineLightweight)
	if err := svc.Suspend(ctx, LifecycleInput{DefectNumber: number, Actor: "alice", Note: "waiting for vendor"}); err != nil {
		t.Fatalf("Suspend() error = %v", err)
	}

	_, err := svc.SubmitStageData(ctx, SubmitStageDataInput{
		DefectNumber: number,
		Kind:         defect.KindDescription,
		Content:      "steps",
		Submitter:    "alice",
	})
	if !errors.Is(err, defect.ErrDefectSuspended) {
		t.Fatalf("submit while suspended error = %v, want ErrDefectSuspended", err)
	}

	if err := svc.Reopen(ctx, LifecycleInput{DefectNumber: number, Actor: "alice"}); err != nil {
		t.Fatalf("Reopen() error = %v", err)
	}
	result := submit(t, svc, number, defect.KindDescription, "steps", "alice")
	if !result.Advanced {
		t.Fatalf("submit after reopen = %+v, want advance", result)
	}
}

func TestTerminateIsFinal(t *testing.T) {
	svc, _, _, _ := setupService(t, Options{})
	ctx := context.Background()

	number := createDefect(t, svc, defect.PipelineLightweight)
	if err := svc.Terminate(ctx, LifecycleInput{DefectNumber: number, Actor: "alice", Note: "wontfix"}); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}

	if err := svc.Reopen(ctx, LifecycleInput{DefectNumber: number, Actor: "alice"}); !errors.Is(err, defect.ErrDefectNotSuspended) {
		t.Fatalf("Reopen() after terminate error = %v, want ErrDefectNotSuspended", err)
	}
	_, err := svc.SubmitStageData(ctx, SubmitStageDataInput{
		DefectNumber: number,
		Kind:         defect.KindDescription,
		Content:      "steps",
		Submitter:    "alice",
	})
	if !errors.Is(err, defect.ErrDefectFinal) {
		t.Fatalf("submit after terminate error = %v, want ErrDefectFinal", err)
	}
}

func TestRemindRecordsAndNotifies(t *testing.T) {
	svc, _, notifier, _ := setupService(t, Options{})
	ctx := context.Background()

	number := createDefect(t, svc, defect.PipelineExpedited)
	advanceToAnalysis(t, svc, number)

	bobID, err := svc.Invite(ctx, InviteInput{DefectNumber: number, Inviter: "alice", Invitee: "bob"})
	if err != nil {
		t.Fatalf("Invite() error = %v", err)
	}
	notifier.sent = nil

	if err := svc.Remind(ctx, RemindInput{
		DefectNumber:   number,
		CollaboratorID: bobID,
		Actor:          "alice",
		Message:        "any progress?",
	}); err != nil {
		t.Fatalf("Remind() error = %v", err)
	}

	if len(notifier.sent) != 1 || notifier.sent[0].Recipient != "bob" {
		t.Fatalf("notifications = %+v, want one to bob", notifier.sent)
	}
	reminders, err := svc.repo.ListReminders(ctx, bobID)
	if err != nil {
		t.Fatalf("ListReminders() error = %v", err)
	}
	if len(reminders) != 1 || reminders[0].Status != defect.ReminderSent {
		t.Fatalf("reminders = %+v, want one SENT", reminders)
	}
}

func TestHistoryHidesInternalEntriesByDefault(t *testing.T) {
	svc, _, _, _ := setupService(t, Options{})
	ctx := context.Background()

	number := createDefect(t, svc, defect.PipelineLightweight)
	submit(t, svc, number, defect.KindDescription, "steps", "alice")

	visible, err := svc.History(ctx, number, false)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	for _, entry := range visible {
		if entry.Internal {
			t.Fatalf("internal entry leaked: %+v", entry)
		}
	}

	full, err := svc.History(ctx, number, true)
	if err != nil {
		t.Fatalf("History(internal) error = %v", err)
	}
	if len(full) <= len(visible) {
		t.Fatalf("full history %d entries, visible %d, want internal extras", len(full), len(visible))
	}
}

func TestStageVersionsKeepEveryRevision(t *testing.T) {
	svc, evaluator, _, _ := setupService(t, Options{})

	number := createDefect(t, svc, defect.PipelineLightweight)
	evaluator.score = 40
	submit(t, svc, number, defect.KindDescription, "first try", "alice")
	evaluator.score = 90
	submit(t, svc, number, defect.KindDescription, "second try", "alice")

	rows, err := svc.StageVersions(context.Background(), number, defect.StageDescription)
	if err != nil {
		t.Fatalf("StageVersions() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("versions = %d, want 2", len(rows))
	}
	currents := 0
	for _, row := range rows {
		if row.IsCurrent {
			currents++
		}
	}
	if currents != 1 {
		t.Fatalf("current rows = %d, want exactly 1", currents)
	}
}

func TestMarkDuplicateLinksDefects(t *testing.T) {
	svc, _, _, _ := setupService(t, Options{})
	ctx := context.Background()

	original := createDefect(t, svc, defect.PipelineLightweight)
	dup := createDefect(t, svc, defect.PipelineLightweight)

	if err := svc.MarkDuplicate(ctx, dup, original, "alice"); err != nil {
		t.Fatalf("MarkDuplicate() error = %v", err)
	}
	if err := svc.MarkDuplicate(ctx, dup, dup, "alice"); err == nil {
		t.Fatal("MarkDuplicate(self) error = nil, want failure")
	}

	detail, err := svc.GetDefect(ctx, dup)
	if err != nil {
		t.Fatalf("GetDefect() error = %v", err)
	}
	if detail.Defect.DuplicateOfID == nil {
		t.Fatal("duplicate link not set")
	}
}

func TestForceEvaluateRequiresEvaluatingStage(t *testing.T) {
	svc, _, _, _ := setupService(t, Options{})

	number := createDefect(t, svc, defect.PipelineLightweight)
	_, err := svc.ForceEvaluate(context.Background(), ForceEvaluateInput{
		DefectNumber: number,
		Actor:        "alice",
	})
	if !errors.Is(err, defect.ErrStageNotEvaluating) {
		t.Fatalf("ForceEvaluate() error = %v, want ErrStageNotEvaluating", err)
	}
}

func TestDivisionOnSolutionStage(t *testing.T) {
	svc, _, _, _ := setupService(t, Options{})
	ctx := context.Background()

	number := createDefect(t, svc, defect.PipelineExpedited)
	advanceToAnalysis(t, svc, number)
	completeAnalysis(t, svc, number, "dana")

	stage := currentStage(t, svc, number)
	if stage.StageType != defect.StageSolution {
		t.Fatalf("stage = %s, want SOLUTION", stage.StageType)
	}

	// Invitations belong to the analysis stage; solutions are split by division.
	_, err := svc.Invite(ctx, InviteInput{DefectNumber: number, Inviter: "alice", Invitee: "bob"})
	if !errors.Is(err, defect.ErrFanOutNotAllowed) {
		t.Fatalf("Invite() on solution error = %v, want ErrFanOutNotAllowed", err)
	}

	bobID, err := svc.AssignDivision(ctx, InviteInput{DefectNumber: number, Inviter: "alice", Invitee: "bob"})
	if err != nil {
		t.Fatalf("AssignDivision() error = %v", err)
	}

	// Divisions start accepted and may submit right away.
	result, err := svc.SubmitStageData(ctx, SubmitStageDataInput{
		DefectNumber:   number,
		Kind:           defect.KindSolution,
		Content:        "patch the session store",
		Submitter:      "bob",
		CollaboratorID: &bobID,
	})
	if err != nil {
		t.Fatalf("bob division submit error = %v", err)
	}
	if !result.Advanced || result.NextStage != defect.StageRegression {
		t.Fatalf("result = %+v, want advance to REGRESSION", result)
	}
}

func TestCompactReinvitesPurgesPriorCycle(t *testing.T) {
	svc, _, _, _ := setupService(t, Options{CompactReinvites: true})
	ctx := context.Background()

	number := createDefect(t, svc, defect.PipelineExpedited)
	stage := advanceToAnalysis(t, svc, number)

	bobID, err := svc.Invite(ctx, InviteInput{DefectNumber: number, Inviter: "alice", Invitee: "bob"})
	if err != nil {
		t.Fatalf("Invite() error = %v", err)
	}
	if _, err := svc.AbandonCollaborator(ctx, AbandonCollaboratorInput{
		DefectNumber:   number,
		CollaboratorID: bobID,
		Reason:         "wrong person",
		Actor:          "alice",
	}); err != nil {
		t.Fatalf("AbandonCollaborator() error = %v", err)
	}

	newID, err := svc.Invite(ctx, InviteInput{DefectNumber: number, Inviter: "alice", Invitee: "bob"})
	if err != nil {
		t.Fatalf("re-invite error = %v", err)
	}
	if newID == bobID {
		t.Fatalf("re-invite reused record #%d", bobID)
	}

	collabs, err := svc.repo.ListCollaborators(ctx, stage.StageID)
	if err != nil {
		t.Fatalf("ListCollaborators() error = %v", err)
	}
	if len(collabs) != 1 {
		t.Fatalf("collaborators = %d, want prior cycle purged", len(collabs))
	}
}
