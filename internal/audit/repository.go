package audit

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository writes activity logs.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs an activity log repository.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db}
}

// Log writes an activity entry.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.PayloadDigest == "" {
		entry.PayloadDigest = DigestJSON(entry.Metadata)
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO activity_logs (
	id, actor, role, action, resource_type, resource_id, details,
	metadata, payload_digest, ip, user_agent, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)`, entry.ID, entry.Actor, entry.Role, entry.Action, entry.ResourceType, entry.ResourceID, entry.Details,
		entry.Metadata, entry.PayloadDigest, entry.IP, entry.UserAgent, entry.CreatedAt)
	return err
}

// Recent returns the most recent activity entries, newest first.
func (r *Repository) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("audit repo: nil db")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT id, actor, role, action, resource_type, resource_id, details,
	metadata, payload_digest, ip, user_agent, created_at
FROM activity_logs
ORDER BY created_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		var entry Entry
		var metadata []byte
		if err := rows.Scan(
			&entry.ID,
			&entry.Actor,
			&entry.Role,
			&entry.Action,
			&entry.ResourceType,
			&entry.ResourceID,
			&entry.Details,
			&metadata,
			&entry.PayloadDigest,
			&entry.IP,
			&entry.UserAgent,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entry.Metadata = metadata
		entry.CreatedAt = entry.CreatedAt.UTC()
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
