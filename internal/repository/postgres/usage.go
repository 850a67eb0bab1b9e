package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/contextgate/contextgate-backend/internal/repository"
)

// UsageRepository implements repository.UsageRepository using
// PostgreSQL.
type UsageRepository struct {
	db *sqlx.DB
}

// NewUsageRepository creates a new PostgreSQL usage repository.
func NewUsageRepository(db *sqlx.DB) repository.UsageRepository {
	return &UsageRepository{db: db}
}

// SaveRecord persists one usage record.
func (r *UsageRepository) SaveRecord(ctx context.Context, record repository.UsageRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO usage_records (id, model_id, regular_input, cache_write, cache_read, output, cost, cache_hit, created_at)
		VALUES (:id, :model_id, :regular_input, :cache_write, :cache_read, :output, :cost, :cache_hit, :created_at)
	`

	_, err := r.db.NamedExecContext(ctx, query, record)
	return err
}

// SaveExport persists a ledger snapshot.
func (r *UsageRepository) SaveExport(ctx context.Context, export repository.UsageExport) error {
	if export.ID == "" {
		export.ID = uuid.New().String()
	}
	if export.GeneratedAt.IsZero() {
		export.GeneratedAt = time.Now()
	}

	query := `
		INSERT INTO usage_exports (id, snapshot, generated_at)
		VALUES (:id, :snapshot, :generated_at)
	`

	_, err := r.db.NamedExecContext(ctx, query, export)
	return err
}

// ListRecords retrieves recent records, optionally filtered by model.
func (r *UsageRepository) ListRecords(ctx context.Context, modelID string, limit int) ([]repository.UsageRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var records []repository.UsageRecord
	var err error
	if modelID == "" {
		query := `
			SELECT id, model_id, regular_input, cache_write, cache_read, output, cost, cache_hit, created_at
			FROM usage_records
			ORDER BY created_at DESC
			LIMIT $1
		`
		err = r.db.SelectContext(ctx, &records, query, limit)
	} else {
		query := `
			SELECT id, model_id, regular_input, cache_write, cache_read, output, cost, cache_hit, created_at
			FROM usage_records
			WHERE model_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		`
		err = r.db.SelectContext(ctx, &records, query, modelID, limit)
	}
	if err != nil {
		return nil, err
	}

	return records, nil
}
