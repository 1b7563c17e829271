// Package audit records the history of state mutations in the audit_logs
// table and serves it back page by page.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/raspy-assistant/statehub/internal/state"
)

// Page size bounds for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// timeLayout is fixed-width so created_at sorts and compares as text.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Entry is a single audit trail row: one committed change to the state.
type Entry struct {
	ID        string          `json:"id"`
	Seq       uint64          `json:"seq"`
	Action    state.Action    `json:"action"`
	Fields    []string        `json:"fields"`
	Actor     string          `json:"actor,omitempty"`
	Snapshot  json.RawMessage `json:"state,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// EntryFromChange builds an Entry from a committed store change.
func EntryFromChange(c state.Change) (*Entry, error) {
	snapshot, err := json.Marshal(c.Record)
	if err != nil {
		return nil, fmt.Errorf("marshalling state snapshot: %w", err)
	}
	fields := c.Fields
	if fields == nil {
		fields = []string{}
	}
	return &Entry{
		Seq:       c.Seq,
		Action:    c.Action,
		Fields:    fields,
		Actor:     c.By,
		Snapshot:  snapshot,
		CreatedAt: c.Record.UpdatedAt.UTC(),
	}, nil
}

// Filter controls which entries List returns.
type Filter struct {
	Action string // optional: patch, reset or link
	Actor  string // optional: exact client ID
	Since  time.Time
	Limit  int // default 50, max 200
	Offset int
}

// ListResult contains one page of entries, most recent first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the interface for audit trail operations.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores entries in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an entry. ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = "aud-" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return fmt.Errorf("marshalling audit fields: %w", err)
	}
	if e.Fields == nil {
		fields = []byte("[]")
	}

	var snapshot any
	if len(e.Snapshot) > 0 {
		snapshot = string(e.Snapshot)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, seq, action, fields, actor, snapshot, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, int64(e.Seq), string(e.Action), string(fields),
		nullableString(e.Actor), snapshot,
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// nullableString maps "" to NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.Actor != "" {
		conditions = append(conditions, "actor = ?")
		args = append(args, filter.Actor)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM audit_logs " + where //nolint:gosec // WHERE holds only ? placeholders
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	query := "SELECT id, seq, action, fields, actor, snapshot, created_at FROM audit_logs " + //nolint:gosec // WHERE holds only ? placeholders
		where + " ORDER BY seq DESC, created_at DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e         Entry
		seq       int64
		action    string
		fields    string
		actor     sql.NullString
		snapshot  sql.NullString
		createdAt string
	)
	if err := rows.Scan(&e.ID, &seq, &action, &fields, &actor, &snapshot, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scanning audit entry: %w", err)
	}

	e.Seq = uint64(seq) //nolint:gosec // written from a uint64 sequence
	e.Action = state.Action(action)
	e.Actor = actor.String
	if snapshot.Valid && snapshot.String != "" {
		e.Snapshot = json.RawMessage(snapshot.String)
	}
	if err := json.Unmarshal([]byte(fields), &e.Fields); err != nil {
		return Entry{}, fmt.Errorf("decoding audit fields: %w", err)
	}

	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	return e, nil
}
