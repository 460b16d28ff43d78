package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createAuditSQL = `CREATE TABLE IF NOT EXISTS audit_logs (
	id BIGSERIAL PRIMARY KEY,
	user_email TEXT NOT NULL DEFAULT '',
	action_type TEXT NOT NULL,
	details JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresSink stores entries in the audit_logs table through pgx.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink creates audit_logs when missing and returns the sink.
func NewPostgresSink(ctx context.Context, pool *pgxpool.Pool) (*PostgresSink, error) {
	if _, err := pool.Exec(ctx, createAuditSQL); err != nil {
		return nil, fmt.Errorf("create audit_logs: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

// Append implements Sink.
func (p *PostgresSink) Append(ctx context.Context, e Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err = p.pool.Exec(ctx,
		"INSERT INTO audit_logs (user_email, action_type, details, created_at) VALUES ($1, $2, $3, $4)",
		e.User, string(e.ActionType), details, ts.UTC())
	return err
}

// List implements Reader.
func (p *PostgresSink) List(ctx context.Context, q Query) ([]Entry, int, error) {
	var (
		where []string
		args  []any
	)
	if q.Action != "" {
		args = append(args, string(q.Action))
		where = append(where, fmt.Sprintf("action_type = $%d", len(args)))
	}
	if q.User != "" {
		args = append(args, "%"+strings.ToLower(q.User)+"%")
		where = append(where, fmt.Sprintf("LOWER(user_email) LIKE $%d", len(args)))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_logs"+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	args = append(args, limit, q.Offset)
	rows, err := p.pool.Query(ctx, fmt.Sprintf(
		"SELECT user_email, action_type, details, created_at FROM audit_logs%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e       Entry
			action  string
			details []byte
		)
		if err := row.Scan(&e.User, &action, &details, &e.Timestamp); err != nil {
			return Entry{}, err
		}
		e.ActionType = ActionType(action)
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		return e, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
