package model

type StageData struct {
	DataID         uint64  `gorm:"column:data_id;primaryKey;autoIncrement"`
	StageID        uint64  `gorm:"column:stage_id;not null;index"`
	Kind           string  `gorm:"column:kind;type:text;not null;index"`
	Content        string  `gorm:"column:content;type:text;not null"`
	Submitter      string  `gorm:"column:submitter;type:text;not null"`
	CollaboratorID *uint64 `gorm:"column:collaborator_id;index"`
	IsDraft        bool    `gorm:"column:is_draft;not null;default:0"`
	IsCurrent      bool    `gorm:"column:is_current;not null;default:0;index"`
	IsCombined     bool    `gorm:"column:is_combined;not null;default:0"`
	EvalMethod     string  `gorm:"column:eval_method;type:text;not null;default:''"`
	EvalSuggestion string  `gorm:"column:eval_suggestion;type:text;not null;default:''"`
	EvalScore      *int    `gorm:"column:eval_score"`
	EvaluatedAt    *string `gorm:"column:evaluated_at;type:text"`
	CreatedAt      string  `gorm:"column:created_at;type:text;not null"`
}

func (StageData) TableName() string {
	return "stage_data"
}
