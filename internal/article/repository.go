package article

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores published articles. The publisher only ever inserts.
type Repository interface {
	// Insert writes rec and sets rec.ID to the stored identifier.
	Insert(ctx context.Context, rec *Record) error
}

// PostgresRepository stores articles in a PostgreSQL table.
type PostgresRepository struct {
	db    *pgxpool.Pool
	table string
}

// NewPostgresRepository creates a repository writing to table.
func NewPostgresRepository(db *pgxpool.Pool, table string) *PostgresRepository {
	return &PostgresRepository{db: db, table: pgx.Identifier{table}.Sanitize()}
}

// Insert adds a new article row and returns its generated id in rec.ID.
func (r *PostgresRepository) Insert(ctx context.Context, rec *Record) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO `+r.table+` (title, description, image_url, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		rec.Title, rec.Description, rec.ImageURL, rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("insert article: %w", err)
	}
	return nil
}
