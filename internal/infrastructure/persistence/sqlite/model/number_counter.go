package model

type NumberCounter struct {
	Day     string `gorm:"column:day;type:text;primaryKey"`
	NextSeq int    `gorm:"column:next_seq;not null;default:1"`
}

func (NumberCounter) TableName() string {
	return "number_counters"
}
