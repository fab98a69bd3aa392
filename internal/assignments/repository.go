package assignments

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/eventguard/eventguard/internal/events"
	"github.com/eventguard/eventguard/internal/platform/db"
)

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
}

// PostgresRepository stores assignments in the model_has_roles and
// model_has_permissions tables. The subject column is ModelMorphKey.
type PostgresRepository struct {
	db     dbtx
	tables db.Tables
}

// NewPostgresRepository constructs a repository over a pool, connection or transaction.
func NewPostgresRepository(conn dbtx, tables db.Tables) *PostgresRepository {
	return &PostgresRepository{db: conn, tables: tables.Quoted()}
}

func (r *PostgresRepository) insert(ctx context.Context, table, column, subject string, eventID int64, name string) error {
	_, err := r.db.Exec(ctx, `INSERT INTO `+table+` (event_id, `+r.tables.ModelMorphKey+`, `+column+`)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`, eventID, subject, name)
	if db.IsCode(err, db.CodeForeignKeyViolation) {
		return events.ErrNotFound
	}
	return err
}

func (r *PostgresRepository) delete(ctx context.Context, table, column, subject string, eventID int64, name string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM `+table+`
		WHERE event_id = $1 AND `+r.tables.ModelMorphKey+` = $2 AND `+column+` = $3`, eventID, subject, name)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) names(ctx context.Context, table, column, subject string, eventID int64) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT `+column+` FROM `+table+`
		WHERE event_id = $1 AND `+r.tables.ModelMorphKey+` = $2
		ORDER BY `+column, eventID, subject)
	if err != nil {
		return nil, err
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// AddRole implements RepositoryPort.
func (r *PostgresRepository) AddRole(ctx context.Context, subject string, eventID int64, role string) error {
	return r.insert(ctx, r.tables.ModelHasRoles, "role_name", subject, eventID, role)
}

// RemoveRole implements RepositoryPort.
func (r *PostgresRepository) RemoveRole(ctx context.Context, subject string, eventID int64, role string) (bool, error) {
	return r.delete(ctx, r.tables.ModelHasRoles, "role_name", subject, eventID, role)
}

// Roles implements RepositoryPort.
func (r *PostgresRepository) Roles(ctx context.Context, subject string, eventID int64) ([]string, error) {
	return r.names(ctx, r.tables.ModelHasRoles, "role_name", subject, eventID)
}

// AddPermission implements RepositoryPort.
func (r *PostgresRepository) AddPermission(ctx context.Context, subject string, eventID int64, perm string) error {
	return r.insert(ctx, r.tables.ModelHasPermissions, "permission_name", subject, eventID, perm)
}

// RemovePermission implements RepositoryPort.
func (r *PostgresRepository) RemovePermission(ctx context.Context, subject string, eventID int64, perm string) (bool, error) {
	return r.delete(ctx, r.tables.ModelHasPermissions, "permission_name", subject, eventID, perm)
}

// Permissions implements RepositoryPort.
func (r *PostgresRepository) Permissions(ctx context.Context, subject string, eventID int64) ([]string, error) {
	return r.names(ctx, r.tables.ModelHasPermissions, "permission_name", subject, eventID)
}

// Subjects implements RepositoryPort.
func (r *PostgresRepository) Subjects(ctx context.Context, eventID int64) ([]string, error) {
	col := r.tables.ModelMorphKey
	rows, err := r.db.Query(ctx, `SELECT `+col+` FROM `+r.tables.ModelHasRoles+` WHERE event_id = $1
		UNION
		SELECT `+col+` FROM `+r.tables.ModelHasPermissions+` WHERE event_id = $1
		ORDER BY 1`, eventID)
	if err != nil {
		return nil, err
	}
	subjects, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if subjects == nil {
		subjects = []string{}
	}
	return subjects, nil
}
