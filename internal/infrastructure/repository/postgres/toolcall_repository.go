package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kmalykh/ragmesh/internal/core/domain"
)

// ToolCallRepository persists the per-run audit log used for fine-tuning
// export.
type ToolCallRepository struct {
	db *sql.DB
}

func NewToolCallRepository(db *sql.DB) *ToolCallRepository {
	return &ToolCallRepository{db: db}
}

func (r *ToolCallRepository) SaveRun(ctx context.Context, runID, userID string, calls []domain.ToolCallRecord) error {
	if len(calls) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tool call tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	for i, call := range calls {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO tool_call_runs (run_id, user_id, seq, tool_name, input, output, duration_ms, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			runID, userID, i, call.Name, call.Input, call.Output, call.DurationMS, now); err != nil {
			return fmt.Errorf("insert tool call %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tool call tx: %w", err)
	}
	return nil
}
