package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/eventguard/eventguard/internal/platform/db"
)

// Syncer mirrors the in-memory catalog into the relational store so event
// rows can reference their type and operators can inspect the vocabulary.
type Syncer struct {
	conn   db.TxBeginner
	tables db.Tables
	logger *slog.Logger
}

// NewSyncer constructs a Syncer.
func NewSyncer(conn db.TxBeginner, tables db.Tables, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{conn: conn, tables: tables.Quoted(), logger: logger}
}

// SyncResult counts the rows touched by a sync.
type SyncResult struct {
	EventTypes  int
	Roles       int
	Permissions int
}

// Sync upserts every event type, role, permission and grant of the store in
// a single transaction. Rows for definitions no longer in the store are kept.
func (s *Syncer) Sync(ctx context.Context, store *Store) (SyncResult, error) {
	var res SyncResult
	err := db.WithTx(ctx, s.conn, pgx.ReadCommitted, func(tx pgx.Tx) error {
		res = SyncResult{}
		for et := range store.ListEventTypes() {
			typeID, err := s.upsertEventType(ctx, tx, et)
			if err != nil {
				return err
			}
			res.EventTypes++
			permIDs := make(map[string]int64, len(et.Permissions))
			for _, perm := range et.Permissions {
				id, err := s.upsertScoped(ctx, tx, s.tables.Permissions, &typeID, perm)
				if err != nil {
					return fmt.Errorf("permission %q: %w", perm, err)
				}
				permIDs[perm] = id
				res.Permissions++
			}
			for _, role := range et.Roles {
				roleID, err := s.upsertScoped(ctx, tx, s.tables.Roles, &typeID, role)
				if err != nil {
					return fmt.Errorf("role %q: %w", role, err)
				}
				res.Roles++
				perms, _ := et.RolePermissions(role)
				if err := s.linkPermissions(ctx, tx, roleID, perms, permIDs); err != nil {
					return err
				}
			}
		}

		globalIDs := make(map[string]int64)
		for _, perm := range store.GlobalPermissions() {
			id, err := s.upsertScoped(ctx, tx, s.tables.Permissions, nil, perm)
			if err != nil {
				return fmt.Errorf("global permission %q: %w", perm, err)
			}
			globalIDs[perm] = id
			res.Permissions++
		}
		for _, role := range store.GlobalRoles() {
			roleID, err := s.upsertScoped(ctx, tx, s.tables.Roles, nil, role.Name)
			if err != nil {
				return fmt.Errorf("global role %q: %w", role.Name, err)
			}
			res.Roles++
			if err := s.linkPermissions(ctx, tx, roleID, role.Permissions, globalIDs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return SyncResult{}, fmt.Errorf("catalog: sync: %w", err)
	}
	s.logger.Info("catalog synced",
		slog.Int("event_types", res.EventTypes),
		slog.Int("roles", res.Roles),
		slog.Int("permissions", res.Permissions))
	return res, nil
}

func (s *Syncer) upsertEventType(ctx context.Context, tx pgx.Tx, et EventType) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `INSERT INTO `+s.tables.EventTypes+` (slug, name, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description, updated_at = now()
		RETURNING id`, et.Slug, et.Name, et.Description).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("event type %q: %w", et.Slug, err)
	}
	return id, nil
}

func (s *Syncer) upsertScoped(ctx context.Context, tx pgx.Tx, table string, typeID *int64, name string) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `INSERT INTO `+table+` (event_type_id, name)
		VALUES ($1, $2)
		ON CONFLICT ((COALESCE(event_type_id, 0)), name) DO UPDATE SET updated_at = now()
		RETURNING id`, typeID, name).Scan(&id)
	return id, err
}

func (s *Syncer) linkPermissions(ctx context.Context, tx pgx.Tx, roleID int64, perms []string, ids map[string]int64) error {
	for _, perm := range perms {
		permID, ok := ids[perm]
		if !ok {
			continue
		}
		_, err := tx.Exec(ctx, `INSERT INTO `+s.tables.RolePermission+` (`+s.tables.RolePivotKey+`, `+s.tables.PermissionPivotKey+`)
			VALUES ($1, $2) ON CONFLICT DO NOTHING`, roleID, permID)
		if err != nil {
			return fmt.Errorf("link role %d permission %q: %w", roleID, perm, err)
		}
	}
	return nil
}
