package crawlerlog

import (
	"context"

	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&PendingRecord{})
}

// QueryRows runs sql and returns every row as a column-name keyed map, in the
// order the database produced them.
func (r *Repository) QueryRows(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	var rows []map[string]interface{}
	if err := r.db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// CountPending reports how many records have not reached StatusAllDone.
func (r *Repository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&PendingRecord{}).
		Where(ColumnStatus+" <> ?", StatusAllDone).
		Count(&count).Error
	return count, err
}
