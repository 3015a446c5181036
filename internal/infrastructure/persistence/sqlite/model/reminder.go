package model

type Reminder struct {
	ReminderID     uint64 `gorm:"column:reminder_id;primaryKey;autoIncrement"`
	CollaboratorID uint64 `gorm:"column:collaborator_id;not null;index"`
	Type           string `gorm:"column:type;type:text;not null"`
	Message        string `gorm:"column:message;type:text;not null"`
	Status         string `gorm:"column:status;type:text;not null"`
	CreatedAt      string `gorm:"column:created_at;type:text;not null"`
}

func (Reminder) TableName() string {
	return "reminders"
}
