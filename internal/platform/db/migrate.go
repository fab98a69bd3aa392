package db

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration is one rendered schema step.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrator is the subset of pgx used to apply migrations.
type Migrator interface {
	TxBeginner
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type migrationData struct {
	Tables
	IndexPrefix string
}

// Migrations renders the embedded schema templates against the table names.
func Migrations(tables Tables) ([]Migration, error) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("platform/db: read migrations: %w", err)
	}
	data := migrationData{Tables: tables.Quoted(), IndexPrefix: indexPrefix(tables)}

	out := make([]Migration, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, name, err := parseMigrationName(entry.Name())
		if err != nil {
			return nil, err
		}
		raw, err := migrationFiles.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("platform/db: read %s: %w", entry.Name(), err)
		}
		tmpl, err := template.New(entry.Name()).Option("missingkey=error").Parse(string(raw))
		if err != nil {
			return nil, fmt.Errorf("platform/db: parse %s: %w", entry.Name(), err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("platform/db: render %s: %w", entry.Name(), err)
		}
		out = append(out, Migration{Version: version, Name: name, SQL: buf.String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	for i := 1; i < len(out); i++ {
		if out[i].Version == out[i-1].Version {
			return nil, fmt.Errorf("platform/db: duplicate migration version %d", out[i].Version)
		}
	}
	return out, nil
}

// Migrate applies every migration that is not yet recorded in the
// schema migrations table and returns the versions it applied.
func Migrate(ctx context.Context, conn Migrator, tables Tables, logger *slog.Logger) ([]int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tables = tables.WithDefaults()
	migrations, err := Migrations(tables)
	if err != nil {
		return nil, err
	}
	versionsTable := Ident(tables.SchemaMigrations)

	createSQL := `CREATE TABLE IF NOT EXISTS ` + versionsTable + ` (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
	if _, err := conn.Exec(ctx, createSQL); err != nil {
		return nil, fmt.Errorf("platform/db: create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, conn, versionsTable)
	if err != nil {
		return nil, err
	}

	var ran []int
	for _, m := range migrations {
		log := logger.With(slog.Int("version", m.Version), slog.String("name", m.Name))
		if _, ok := applied[m.Version]; ok {
			log.Debug("skip applied migration")
			continue
		}
		err := WithTx(ctx, conn, pgx.ReadCommitted, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO `+versionsTable+` (version, name) VALUES ($1, $2)`, m.Version, m.Name)
			return err
		})
		if err != nil {
			log.Error("apply migration", slog.Any("error", err))
			return ran, fmt.Errorf("platform/db: apply migration %d %s: %w", m.Version, m.Name, err)
		}
		log.Info("applied migration")
		ran = append(ran, m.Version)
	}
	return ran, nil
}

func appliedVersions(ctx context.Context, conn Migrator, table string) (map[int]struct{}, error) {
	rows, err := conn.Query(ctx, `SELECT version FROM `+table)
	if err != nil {
		return nil, fmt.Errorf("platform/db: list applied migrations: %w", err)
	}
	defer rows.Close()
	applied := make(map[int]struct{})
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return applied, nil
}

func parseMigrationName(file string) (int, string, error) {
	base := strings.TrimSuffix(file, ".sql")
	prefix, name, ok := strings.Cut(base, "_")
	if !ok {
		return 0, "", fmt.Errorf("platform/db: migration %q lacks version prefix", file)
	}
	version, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, "", fmt.Errorf("platform/db: migration %q: %w", file, err)
	}
	return version, name, nil
}

// indexPrefix derives index names from the events table so that two
// installations with different table names can share a schema.
func indexPrefix(tables Tables) string {
	name := tables.WithDefaults().Events
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	prefix := strings.TrimSuffix(b.String(), "events")
	if prefix == "" {
		prefix = b.String() + "_"
	}
	return prefix
}
