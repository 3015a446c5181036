package model

type FlowHistory struct {
	EntryID   uint64 `gorm:"column:entry_id;primaryKey;autoIncrement"`
	DefectID  uint64 `gorm:"column:defect_id;not null;index"`
	FromStage string `gorm:"column:from_stage;type:text;not null;default:''"`
	ToStage   string `gorm:"column:to_stage;type:text;not null;default:''"`
	Action    string `gorm:"column:action;type:text;not null"`
	Actor     string `gorm:"column:actor;type:text;not null"`
	Note      string `gorm:"column:note;type:text;not null;default:''"`
	EvalRunID string `gorm:"column:eval_run_id;type:text;not null;default:''"`
	Internal  bool   `gorm:"column:internal;not null;default:0"`
	CreatedAt string `gorm:"column:created_at;type:text;not null"`
}

func (FlowHistory) TableName() string {
	return "flow_history"
}
