package crawlerlog

import (
	"time"

	"gorm.io/datatypes"
)

const (
	TableName        = "crawler_log"
	ColumnStatus     = "status"
	ColumnCreateTime = "ct"
)

// Status is a bit-set of the downstream stages that finished for a record.
type Status int

const (
	StatusInit         Status = 0
	StatusAuthorDone   Status = 1 << 0
	StatusContentDone  Status = 1 << 1
	StatusRelationDone Status = 1 << 2

	StatusAllDone = StatusAuthorDone | StatusContentDone | StatusRelationDone
)

func (s Status) Done() bool {
	return s == StatusAllDone
}

// PendingRecord is one row of crawler_log.
type PendingRecord struct {
	ID          int64             `gorm:"primaryKey;column:id"`
	Status      Status            `gorm:"column:status;index"`
	AuthorID    string            `gorm:"column:author_id"`
	AuthorName  string            `gorm:"column:author_name"`
	ContentID   string            `gorm:"column:content_id"`
	Description string            `gorm:"column:description"`
	VideoURL    string            `gorm:"column:video_url"`
	CoverURL    string            `gorm:"column:cover_url"`
	Extra       datatypes.JSONMap `gorm:"column:extra"`
	CreatedAt   time.Time         `gorm:"column:ct;autoCreateTime;index"`
	UpdatedAt   time.Time         `gorm:"column:mt;autoUpdateTime"`
}

func (PendingRecord) TableName() string {
	return TableName
}
