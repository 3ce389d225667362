package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	schemaGlob     = "sql/schema/*.sql"
	schemaLockKey  = int64(20417733)
	schemaTableDDL = `
CREATE TABLE IF NOT EXISTS schema_versions (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var (
	//go:embed sql/schema/*.sql
	schemaFS embed.FS

	schemaFilePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.sql$`)
)

// schemaStep — один пронумерованный DDL-файл из sql/schema.
type schemaStep struct {
	Version int64
	Name    string
	SQL     string
}

// EnsureSchema применяет ещё не применённые шаги схемы в порядке версий.
// Повторный вызов ничего не меняет.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	steps, err := loadSchemaFromFS(schemaFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", schemaLockKey)
	}()

	if _, err := conn.ExecContext(ctx, schemaTableDDL); err != nil {
		return fmt.Errorf("ensure schema table: %w", err)
	}

	applied, err := loadAppliedSchemaVersions(ctx, conn)
	if err != nil {
		return err
	}
	for _, step := range steps {
		if applied[step.Version] {
			continue
		}
		if err := applySchemaStep(ctx, conn, step); err != nil {
			return err
		}
	}

	return nil
}

// SchemaVersion возвращает последнюю применённую версию схемы и число шагов.
func (s *Store) SchemaVersion(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, fmt.Errorf("postgres store is not initialized")
	}

	queryCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, schemaTableDDL); err != nil {
		return 0, 0, fmt.Errorf("ensure schema table: %w", err)
	}

	var (
		version int64
		count   int
	)
	if err := s.db.QueryRowContext(queryCtx, `
		SELECT COALESCE(MAX(version), 0), COUNT(*)
		FROM schema_versions
	`).Scan(&version, &count); err != nil {
		return 0, 0, fmt.Errorf("query schema version: %w", err)
	}

	return version, count, nil
}

func applySchemaStep(ctx context.Context, conn *sql.Conn, step schemaStep) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx %d: %w", step.Version, err)
	}

	if _, err := tx.ExecContext(ctx, step.SQL); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute schema step %d_%s: %w", step.Version, step.Name, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_versions (version, name, applied_at)
		VALUES ($1, $2, $3)
	`, step.Version, step.Name, time.Now().UTC()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record schema step %d_%s: %w", step.Version, step.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema step %d_%s: %w", step.Version, step.Name, err)
	}

	return nil
}

func loadAppliedSchemaVersions(ctx context.Context, conn *sql.Conn) (map[int64]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_versions`)
	if err != nil {
		return nil, fmt.Errorf("query applied schema versions: %w", err)
	}
	defer rows.Close()

	result := make(map[int64]bool)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan schema version: %w", err)
		}
		result[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema versions: %w", err)
	}

	return result, nil
}

func loadSchemaFromFS(fsys fs.FS) ([]schemaStep, error) {
	files, err := fs.Glob(fsys, schemaGlob)
	if err != nil {
		return nil, fmt.Errorf("list schema files: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no schema files found")
	}

	seen := make(map[int64]string, len(files))
	steps := make([]schemaStep, 0, len(files))
	for _, file := range files {
		base := filepath.Base(file)
		matches := schemaFilePattern.FindStringSubmatch(base)
		if len(matches) != 3 {
			return nil, fmt.Errorf("invalid schema file name: %s", base)
		}

		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse schema version from %s: %w", base, err)
		}
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("duplicate schema version %d: %s and %s", version, prev, base)
		}
		seen[version] = base

		body, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read schema file %s: %w", file, err)
		}
		stmt := strings.TrimSpace(string(body))
		if stmt == "" {
			return nil, fmt.Errorf("schema file is empty: %s", base)
		}

		steps = append(steps, schemaStep{Version: version, Name: matches[2], SQL: stmt})
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].Version < steps[j].Version })
	return steps, nil
}
