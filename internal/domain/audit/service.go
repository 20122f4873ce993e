// Package audit keeps the append-only ledger of AI calls made for each workspace.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrWorkspaceRequired is returned when a record or query has no workspace.
var ErrWorkspaceRequired = errors.New("audit: workspace_id is required")

// Ledger provides AI usage logging.
// All operations are append-only; no updates or deletes are supported
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// NewLedger creates a new usage ledger over a migrated database
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Record appends rec. ID and CreatedAt are assigned here when empty.
func (l *Ledger) Record(ctx context.Context, rec UsageRecord) error {
	if rec.WorkspaceID == "" {
		return ErrWorkspaceRequired
	}
	if rec.ID == "" {
		rec.ID = generateID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO ai_usage (id, workspace_id, actor_id, operation, task, provider, success, error_code,
			degraded, model, input_tokens, output_tokens, total_tokens, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.WorkspaceID, rec.ActorID, rec.Operation, rec.Task, rec.Provider, boolInt(rec.Success),
		rec.ErrorCode, boolInt(rec.Degraded), rec.Model, rec.InputTokens, rec.OutputTokens, rec.TotalTokens,
		rec.DurationMs, rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("audit: record usage: %w", err)
	}
	return nil
}

// ListByWorkspace retrieves usage records for a workspace (with pagination)
// Results are ordered by created_at DESC (newest first)
func (l *Ledger) ListByWorkspace(ctx context.Context, workspaceID string, limit, offset int) ([]UsageRecord, int, error) {
	if workspaceID == "" {
		return nil, 0, ErrWorkspaceRequired
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, workspace_id, actor_id, operation, task, provider, success, error_code, degraded, model,
			input_tokens, output_tokens, total_tokens, duration_ms, created_at
		FROM ai_usage
		WHERE workspace_id = ?
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?`, workspaceID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("audit: list usage: %w", err)
	}
	defer rows.Close()

	records := make([]UsageRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("audit: list usage: %w", err)
	}

	var count int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ai_usage WHERE workspace_id = ?`, workspaceID).Scan(&count); err != nil {
		return nil, 0, fmt.Errorf("audit: count usage: %w", err)
	}
	return records, count, nil
}

// Totals aggregates the records of a workspace created at or after since.
func (l *Ledger) Totals(ctx context.Context, workspaceID string, since time.Time) (UsageTotals, error) {
	if workspaceID == "" {
		return UsageTotals{}, ErrWorkspaceRequired
	}
	var t UsageTotals
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(degraded), 0),
			COALESCE(SUM(total_tokens), 0)
		FROM ai_usage
		WHERE workspace_id = ? AND created_at >= ?`, workspaceID, since.UnixMilli(),
	).Scan(&t.Calls, &t.Failures, &t.Degraded, &t.TotalTokens)
	if err != nil {
		return UsageTotals{}, fmt.Errorf("audit: usage totals: %w", err)
	}
	return t, nil
}

func scanRecord(rows *sql.Rows) (UsageRecord, error) {
	var (
		rec               UsageRecord
		success, degraded int
		created           int64
	)
	if err := rows.Scan(&rec.ID, &rec.WorkspaceID, &rec.ActorID, &rec.Operation, &rec.Task, &rec.Provider,
		&success, &rec.ErrorCode, &degraded, &rec.Model, &rec.InputTokens, &rec.OutputTokens, &rec.TotalTokens,
		&rec.DurationMs, &created); err != nil {
		return UsageRecord{}, fmt.Errorf("audit: scan usage: %w", err)
	}
	rec.Success = success != 0
	rec.Degraded = degraded != 0
	rec.CreatedAt = time.UnixMilli(created).UTC()
	return rec, nil
}

// generateID generates a new UUID for usage records
func generateID() string {
	// v7 keeps ids roughly time ordered
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
