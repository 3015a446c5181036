package model

type Defect struct {
	DefectID        uint64  `gorm:"column:defect_id;primaryKey;autoIncrement"`
	Number          string  `gorm:"column:number;type:text;not null;uniqueIndex"`
	Title           string  `gorm:"column:title;type:text;not null"`
	Description     string  `gorm:"column:description;type:text;not null"`
	Severity        string  `gorm:"column:severity;type:text;not null"`
	Reproducibility string  `gorm:"column:reproducibility;type:text;not null"`
	Creator         string  `gorm:"column:creator;type:text;not null;index"`
	Status          string  `gorm:"column:status;type:text;not null;index"`
	Pipeline        string  `gorm:"column:pipeline;type:text;not null"`
	CurrentStageID  uint64  `gorm:"column:current_stage_id;not null;default:0"`
	ProjectID       *uint64 `gorm:"column:project_id"`
	VersionID       *uint64 `gorm:"column:version_id"`
	DuplicateOfID   *uint64 `gorm:"column:duplicate_of_id"`
	CreatedAt       string  `gorm:"column:created_at;type:text;not null"`
	UpdatedAt       string  `gorm:"column:updated_at;type:text;not null"`
}

func (Defect) TableName() string {
	return "defects"
}
