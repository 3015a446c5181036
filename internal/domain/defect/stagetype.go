package defect

import "fmt"

// StageTypeKey identifies one step of the pipeline. The registry is static
// reference data; stage types are never created at runtime.
type StageTypeKey string

const (
	StageDescription    StageTypeKey = "DESCRIPTION"
	StageReview         StageTypeKey = "REVIEW"
	StageAnalysis       StageTypeKey = "ANALYSIS"
	StageSolution       StageTypeKey = "SOLUTION"
	StageSolutionReview StageTypeKey = "SOLUTION_REVIEW"
	StageRegression     StageTypeKey = "REGRESSION"
	StageConfirmation   StageTypeKey = "CONFIRMATION"
)

type StageType struct {
	Key   StageTypeKey
	Name  string
	Order int

	// DataKind is the content slot a submission to this stage fills.
	// Review-type stages carry no data kind and are advanced by human decision.
	DataKind DataKind
}

// IsReview reports whether the stage is a human decision point rather than a
// content stage that must pass the scoring gate.
func (t StageType) IsReview() bool {
	return t.DataKind == ""
}

var stageTypes = []StageType{
	{Key: StageDescription, Name: "Defect description", Order: 1, DataKind: KindDescription},
	{Key: StageReview, Name: "Description review", Order: 2},
	{Key: StageAnalysis, Name: "Cause analysis", Order: 3, DataKind: KindCauseAnalysis},
	{Key: StageSolution, Name: "Solution", Order: 4, DataKind: KindSolution},
	{Key: StageSolutionReview, Name: "Solution review", Order: 5},
	{Key: StageRegression, Name: "Regression test", Order: 6, DataKind: KindTestResult},
	{Key: StageConfirmation, Name: "Confirmation", Order: 7},
}

var stageTypeByKey = func() map[StageTypeKey]StageType {
	m := make(map[StageTypeKey]StageType, len(stageTypes))
	for _, t := range stageTypes {
		m[t.Key] = t
	}
	return m
}()

func StageTypes() []StageType {
	out := make([]StageType, len(stageTypes))
	copy(out, stageTypes)
	return out
}

func LookupStageType(key StageTypeKey) (StageType, error) {
	t, ok := stageTypeByKey[key]
	if !ok {
		return StageType{}, fmt.Errorf("%w: %q", ErrUnknownStageType, key)
	}
	return t, nil
}
