package model

type CombineRecord struct {
	CombineID  uint64 `gorm:"column:combine_id;primaryKey;autoIncrement"`
	DefectID   uint64 `gorm:"column:defect_id;not null;index"`
	StageID    uint64 `gorm:"column:stage_id;not null;uniqueIndex"`
	SourceIDs  string `gorm:"column:source_ids;type:text;not null"`
	Suggestion string `gorm:"column:suggestion;type:text;not null;default:''"`
	Score      int    `gorm:"column:score;not null;default:0"`
	CombinedAt string `gorm:"column:combined_at;type:text;not null"`
}

func (CombineRecord) TableName() string {
	return "combine_records"
}
