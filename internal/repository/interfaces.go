package repository

import (
	"context"
	"time"
)

// UsageRecord is the persisted form of one completed call.
type UsageRecord struct {
	ID           string    `db:"id" json:"id"`
	ModelID      string    `db:"model_id" json:"model_id"`
	RegularInput int       `db:"regular_input" json:"regular_input"`
	CacheWrite   int       `db:"cache_write" json:"cache_write"`
	CacheRead    int       `db:"cache_read" json:"cache_read"`
	Output       int       `db:"output" json:"output"`
	Cost         float64   `db:"cost" json:"cost"`
	CacheHit     bool      `db:"cache_hit" json:"cache_hit"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// UsageExport is a persisted ledger snapshot.
type UsageExport struct {
	ID          string    `db:"id" json:"id"`
	Snapshot    []byte    `db:"snapshot" json:"snapshot"`
	GeneratedAt time.Time `db:"generated_at" json:"generated_at"`
}

// UsageRepository persists usage records and ledger exports.
type UsageRepository interface {
	SaveRecord(ctx context.Context, record UsageRecord) error
	SaveExport(ctx context.Context, export UsageExport) error
	ListRecords(ctx context.Context, modelID string, limit int) ([]UsageRecord, error)
}
