package model

type Collaborator struct {
	CollaboratorID uint64  `gorm:"column:collaborator_id;primaryKey;autoIncrement"`
	StageID        uint64  `gorm:"column:stage_id;not null;index"`
	Role           string  `gorm:"column:role;type:text;not null"`
	Assigner       string  `gorm:"column:assigner;type:text;not null"`
	Assignee       string  `gorm:"column:assignee;type:text;not null;index"`
	Rationale      string  `gorm:"column:rationale;type:text;not null;default:''"`
	Status         string  `gorm:"column:status;type:text;not null;index"`
	RemindCount    int     `gorm:"column:remind_count;not null;default:0"`
	LastRemindedAt *string `gorm:"column:last_reminded_at;type:text"`
	RejectReason   string  `gorm:"column:reject_reason;type:text;not null;default:''"`
	RejectedAt     *string `gorm:"column:rejected_at;type:text"`
	CreatedAt      string  `gorm:"column:created_at;type:text;not null"`
	UpdatedAt      string  `gorm:"column:updated_at;type:text;not null"`
}

func (Collaborator) TableName() string {
	return "collaborators"
}
