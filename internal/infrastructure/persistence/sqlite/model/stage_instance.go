package model

type StageInstance struct {
	StageID        uint64  `gorm:"column:stage_id;primaryKey;autoIncrement"`
	DefectID       uint64  `gorm:"column:defect_id;not null;index"`
	StageType      string  `gorm:"column:stage_type;type:text;not null"`
	Assignee       string  `gorm:"column:assignee;type:text;not null"`
	Completer      string  `gorm:"column:completer;type:text;not null;default:''"`
	Status         string  `gorm:"column:status;type:text;not null;index"`
	PreviousID     *uint64 `gorm:"column:previous_id"`
	RejectionCount int     `gorm:"column:rejection_count;not null;default:0"`
	Note           string  `gorm:"column:note;type:text;not null;default:''"`
	CreatedAt      string  `gorm:"column:created_at;type:text;not null"`
	UpdatedAt      string  `gorm:"column:updated_at;type:text;not null"`
	CompletedAt    *string `gorm:"column:completed_at;type:text"`
}

func (StageInstance) TableName() string {
	return "stage_instances"
}
