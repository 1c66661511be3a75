package article

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormRepository stores articles through gorm (MySQL in production).
type GormRepository struct {
	db    *gorm.DB
	table string
}

// NewGormRepository creates a repository writing to table, creating the
// table if it does not exist yet.
func NewGormRepository(db *gorm.DB, table string) (*GormRepository, error) {
	if err := db.Table(table).AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate %s table: %w", table, err)
	}
	return &GormRepository{db: db, table: table}, nil
}

// Insert assigns a UUID and creates the row.
func (r *GormRepository) Insert(ctx context.Context, rec *Record) error {
	row := *rec
	row.ID = uuid.NewString()
	if err := r.db.WithContext(ctx).Table(r.table).Create(&row).Error; err != nil {
		return fmt.Errorf("insert article: %w", err)
	}
	rec.ID = row.ID
	return nil
}
