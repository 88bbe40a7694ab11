package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGSink appends entries to the audit_log table. It always writes through the
// pool, outside the workflow's transaction, so a failed audit insert cannot
// undo the domain commit.
type PGSink struct {
	pool *pgxpool.Pool
}

func NewPGSink(pool *pgxpool.Pool) *PGSink {
	return &PGSink{pool: pool}
}

func (s *PGSink) Write(ctx context.Context, e Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log (action, entity_type, details, user_id, recorded_at)
		VALUES ($1, $2, $3, $4, $5)`,
		e.Action, e.EntityType, e.Details, e.UserID, e.RecordedAt)
	if err != nil {
		return fmt.Errorf("audit: insert audit_log: %w", err)
	}
	return nil
}
