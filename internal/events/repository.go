package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/eventguard/eventguard/internal/platform/db"
)

// RepositoryPort defines persistence for events. Implementations return
// ErrNotFound, ErrSlugConflict and ErrUnknownEventType for the matching
// conditions and leave every other failure unwrapped.
type RepositoryPort interface {
	Insert(ctx context.Context, e Event) (Event, error)
	// Get returns the event whether or not it is deleted.
	Get(ctx context.Context, id int64) (Event, error)
	GetBySlug(ctx context.Context, slug string) (Event, error)
	List(ctx context.Context, filter ListFilter) ([]Event, error)
	// Update applies in to an active event.
	Update(ctx context.Context, id int64, in UpdateEventInput, at time.Time) (Event, error)
	// Deactivate soft-deletes an active event.
	Deactivate(ctx context.Context, id int64, at time.Time) (Event, error)
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresRepository stores events in the configured events table. The type
// slug is resolved through the event types table written by catalog.Syncer.
type PostgresRepository struct {
	db     dbtx
	tables db.Tables
}

// NewPostgresRepository constructs a repository over a pool, connection or transaction.
func NewPostgresRepository(conn dbtx, tables db.Tables) *PostgresRepository {
	return &PostgresRepository{db: conn, tables: tables.Quoted()}
}

func (r *PostgresRepository) selectSQL() string {
	return `SELECT e.id, t.slug, e.name, e.slug, e.description, e.owner_id, e.settings,
		       e.is_active, e.created_at, e.updated_at, e.deleted_at
		FROM ` + r.tables.Events + ` e
		JOIN ` + r.tables.EventTypes + ` t ON t.id = e.event_type_id`
}

func scanEvent(row pgx.Row) (Event, error) {
	var (
		e        Event
		settings []byte
	)
	err := row.Scan(&e.ID, &e.TypeSlug, &e.Name, &e.Slug, &e.Description, &e.OwnerID, &settings,
		&e.IsActive, &e.CreatedAt, &e.UpdatedAt, &e.DeletedAt)
	if err != nil {
		return Event{}, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &e.Settings); err != nil {
			return Event{}, fmt.Errorf("events: decode settings of %d: %w", e.ID, err)
		}
	}
	return e, nil
}

func encodeSettings(settings map[string]any) ([]byte, error) {
	if settings == nil {
		return nil, nil
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("%w: settings: %v", ErrInvalidInput, err)
	}
	return raw, nil
}

// Insert implements RepositoryPort.
func (r *PostgresRepository) Insert(ctx context.Context, e Event) (Event, error) {
	settings, err := encodeSettings(e.Settings)
	if err != nil {
		return Event{}, err
	}
	var id int64
	err = r.db.QueryRow(ctx, `INSERT INTO `+r.tables.Events+`
		(event_type_id, name, slug, description, owner_id, settings, is_active, created_at, updated_at)
		SELECT t.id, $2::text, $3::text, $4::text, $5::text, $6::jsonb, TRUE, $7::timestamptz, $7::timestamptz
		FROM `+r.tables.EventTypes+` t
		WHERE t.slug = $1
		RETURNING id`,
		e.TypeSlug, e.Name, e.Slug, e.Description, e.OwnerID, settings, e.CreatedAt).Scan(&id)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return Event{}, ErrUnknownEventType
	case db.IsCode(err, db.CodeUniqueViolation):
		return Event{}, ErrSlugConflict
	case db.IsCode(err, db.CodeForeignKeyViolation):
		return Event{}, ErrUnknownEventType
	case err != nil:
		return Event{}, err
	}
	return r.Get(ctx, id)
}

// Get implements RepositoryPort.
func (r *PostgresRepository) Get(ctx context.Context, id int64) (Event, error) {
	e, err := scanEvent(r.db.QueryRow(ctx, r.selectSQL()+` WHERE e.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Event{}, ErrNotFound
	}
	return e, err
}

// GetBySlug implements RepositoryPort.
func (r *PostgresRepository) GetBySlug(ctx context.Context, slug string) (Event, error) {
	e, err := scanEvent(r.db.QueryRow(ctx, r.selectSQL()+` WHERE e.slug = $1`, slug))
	if errors.Is(err, pgx.ErrNoRows) {
		return Event{}, ErrNotFound
	}
	return e, err
}

// List implements RepositoryPort.
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]Event, error) {
	var conditions []string
	var args []interface{}
	argPos := 1

	if !filter.IncludeDeleted {
		conditions = append(conditions, "e.deleted_at IS NULL")
	}
	if filter.TypeSlug != "" {
		conditions = append(conditions, fmt.Sprintf("t.slug = $%d", argPos))
		args = append(args, filter.TypeSlug)
		argPos++
	}
	if filter.OwnerID != "" {
		conditions = append(conditions, fmt.Sprintf("e.owner_id = $%d", argPos))
		args = append(args, filter.OwnerID)
	}

	query := r.selectSQL()
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY e.id"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Update implements RepositoryPort.
func (r *PostgresRepository) Update(ctx context.Context, id int64, in UpdateEventInput, at time.Time) (Event, error) {
	sets := []string{"updated_at = $2"}
	args := []interface{}{id, at}
	if in.Name != nil {
		args = append(args, *in.Name)
		sets = append(sets, fmt.Sprintf("name = $%d", len(args)))
	}
	if in.Description != nil {
		args = append(args, *in.Description)
		sets = append(sets, fmt.Sprintf("description = $%d", len(args)))
	}
	if in.Settings != nil {
		raw, err := encodeSettings(in.Settings)
		if err != nil {
			return Event{}, err
		}
		args = append(args, raw)
		sets = append(sets, fmt.Sprintf("settings = $%d::jsonb", len(args)))
	}

	tag, err := r.db.Exec(ctx, `UPDATE `+r.tables.Events+` SET `+strings.Join(sets, ", ")+`
		WHERE id = $1 AND deleted_at IS NULL`, args...)
	if err != nil {
		return Event{}, err
	}
	if tag.RowsAffected() == 0 {
		return Event{}, ErrNotFound
	}
	return r.Get(ctx, id)
}

// Deactivate implements RepositoryPort.
func (r *PostgresRepository) Deactivate(ctx context.Context, id int64, at time.Time) (Event, error) {
	tag, err := r.db.Exec(ctx, `UPDATE `+r.tables.Events+`
		SET is_active = FALSE, deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return Event{}, err
	}
	if tag.RowsAffected() == 0 {
		return Event{}, ErrNotFound
	}
	return r.Get(ctx, id)
}
