package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record is a single audit trail entry, one per dispatched command.
type Record struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	Source        string    `json:"source"` // mcp, telegram, scheduler, webpanel, mqtt
	User          string    `json:"user,omitempty"`
	Action        string    `json:"action"`
	Target        string    `json:"target"` // human-readable device reference
	Object        string    `json:"object,omitempty"`
	Property      string    `json:"property,omitempty"`
	Status        string    `json:"status"`
	Details       string    `json:"details,omitempty"` // JSON blob, channel-specific
	CreatedAt     time.Time `json:"created_at"`
}

// Failed reports whether the record describes an unsuccessful action.
func (r Record) Failed() bool {
	return r.Status == "controller_error" || r.Status == "timeout"
}

// Filter controls which records List returns.
type Filter struct {
	Source        string // optional: filter by originating channel
	Status        string // optional: filter by outcome
	CorrelationID string // optional: exact correlation lookup
	Limit         int    // default 50, max 200
	Offset        int    // pagination offset
}

// ListResult contains the paginated audit log results.
type ListResult struct {
	Records []Record `json:"records"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// Repository defines audit log persistence operations.
type Repository interface {
	Create(ctx context.Context, rec *Record) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// SQLiteRepository stores audit records in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new record. ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = "aud-" + uuid.NewString()[:8]
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.User == "" {
		rec.User = "system"
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, correlation_id, source, user, action, target, object, property, status, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CorrelationID, rec.Source, rec.User,
		rec.Action, rec.Target,
		nullableString(rec.Object), nullableString(rec.Property),
		rec.Status, nullableString(rec.Details),
		rec.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting audit record: %w", err)
	}

	return nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns records matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any

	if filter.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.CorrelationID != "" {
		conditions = append(conditions, "correlation_id = ?")
		args = append(args, filter.CorrelationID)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// WHERE clause is assembled from parameterised conditions only.
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_log %s", where)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit records: %w", err)
	}

	query := fmt.Sprintf(
		"SELECT id, correlation_id, source, user, action, target, object, property, status, details, created_at FROM audit_log %s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var object, property, details sql.NullString
		var createdAt string

		if err := rows.Scan(&rec.ID, &rec.CorrelationID, &rec.Source, &rec.User,
			&rec.Action, &rec.Target, &object, &property,
			&rec.Status, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit record: %w", err)
		}

		rec.Object = object.String
		rec.Property = property.String
		rec.Details = details.String

		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
		}
		rec.CreatedAt = t

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit records: %w", err)
	}

	if records == nil {
		records = []Record{}
	}

	return &ListResult{
		Records: records,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// Prune deletes records created before the cutoff and returns how many
// rows went away. Run daily by the retention job.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM audit_log WHERE created_at < ?",
		olderThan.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning audit records: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned records: %w", err)
	}
	return n, nil
}
