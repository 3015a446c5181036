package model

type Rejection struct {
	RejectionID     uint64  `gorm:"column:rejection_id;primaryKey;autoIncrement"`
	DefectID        uint64  `gorm:"column:defect_id;not null;index"`
	Type            string  `gorm:"column:type;type:text;not null"`
	Reason          string  `gorm:"column:reason;type:text;not null"`
	Actor           string  `gorm:"column:actor;type:text;not null"`
	StageID         uint64  `gorm:"column:stage_id;not null;index"`
	CollaboratorID  *uint64 `gorm:"column:collaborator_id"`
	DataID          *uint64 `gorm:"column:data_id"`
	PreviousStageID *uint64 `gorm:"column:previous_stage_id"`
	CreatedAt       string  `gorm:"column:created_at;type:text;not null"`
}

func (Rejection) TableName() string {
	return "rejections"
}
