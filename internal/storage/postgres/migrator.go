package postgres

import (
	"cmp"
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Схема хранится embed-миграциями sql/migrations/NNNN_name.{up,down}.sql.
// Журнал shopcart_schema_migrations хранит sha256 up-скрипта каждой применённой версии.

const (
	migrationsDir    = "sql/migrations"
	migrationLockKey = int64(0x73686f70636172) // "shopcar"
	migrationTimeout = 5 * time.Second

	journalDDL = `
CREATE TABLE IF NOT EXISTS shopcart_schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    checksum TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

//go:embed sql/migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrMigrationChecksum: применённая миграция не совпадает со встроенным файлом.
	ErrMigrationChecksum = errors.New("applied migration differs from embedded file")
	// ErrSchemaAhead: в базе есть версия, которой нет среди встроенных миграций.
	ErrSchemaAhead = errors.New("database schema is ahead of embedded migrations")

	errStoreNotInitialized = errors.New("postgres store is not initialized")
)

type migration struct {
	Version  int64
	Name     string
	Up       string
	Down     string
	Checksum string
}

func (m migration) String() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

// AppliedMigration: запись журнала миграций.
type AppliedMigration struct {
	Version   int64
	Name      string
	AppliedAt time.Time
	checksum  string
}

// MigrationState описывает применённые и ожидающие миграции.
type MigrationState struct {
	Applied []AppliedMigration
	Pending []string
}

// Version возвращает последнюю применённую версию или 0.
func (st MigrationState) Version() int64 {
	if len(st.Applied) == 0 {
		return 0
	}
	return st.Applied[len(st.Applied)-1].Version
}

// MigrateUp применяет ожидающие миграции по возрастанию версии; steps=0 применяет все.
// Перед применением сверяет контрольные суммы уже применённых версий.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withMigrationLock(ctx, func(conn *sql.Conn, embedded []migration, journal []AppliedMigration) error {
		applied, err := verifyJournal(embedded, journal)
		if err != nil {
			return err
		}

		done := 0
		for _, m := range embedded {
			if applied[m.Version] {
				continue
			}
			if steps > 0 && done == steps {
				break
			}
			if err := runMigration(ctx, conn, m.Up,
				`INSERT INTO shopcart_schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`,
				m.Version, m.Name, m.Checksum); err != nil {
				return fmt.Errorf("apply migration %s: %w", m, err)
			}
			s.logger.WithField("migration", m.String()).Info("migration applied")
			done++
		}
		return nil
	})
}

// MigrateDown откатывает последние steps миграций; steps<=0 означает одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.withMigrationLock(ctx, func(conn *sql.Conn, embedded []migration, journal []AppliedMigration) error {
		byVersion := make(map[int64]migration, len(embedded))
		for _, m := range embedded {
			byVersion[m.Version] = m
		}

		for i := len(journal) - 1; i >= 0 && len(journal)-i <= steps; i-- {
			m, ok := byVersion[journal[i].Version]
			if !ok {
				return fmt.Errorf("%w: cannot roll back version %d", ErrSchemaAhead, journal[i].Version)
			}
			if err := runMigration(ctx, conn, m.Down,
				`DELETE FROM shopcart_schema_migrations WHERE version = $1`, m.Version); err != nil {
				return fmt.Errorf("roll back migration %s: %w", m, err)
			}
			s.logger.WithField("migration", m.String()).Info("migration rolled back")
		}
		return nil
	})
}

// MigrationStatus возвращает журнал и список ещё не применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, errStoreNotInitialized
	}

	embedded, err := loadMigrations(migrationsFS)
	if err != nil {
		return MigrationState{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, migrationTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, journalDDL); err != nil {
		return MigrationState{}, fmt.Errorf("ensure migration journal: %w", err)
	}
	journal, err := readJournal(ctx, s.db)
	if err != nil {
		return MigrationState{}, err
	}

	state := MigrationState{Applied: journal, Pending: make([]string, 0)}
	applied := make(map[int64]bool, len(journal))
	for _, a := range journal {
		applied[a.Version] = true
	}
	for _, m := range embedded {
		if !applied[m.Version] {
			state.Pending = append(state.Pending, m.String())
		}
	}
	return state, nil
}

// withMigrationLock выполняет fn на выделенном соединении под pg_advisory_lock.
func (s *Store) withMigrationLock(ctx context.Context, fn func(*sql.Conn, []migration, []AppliedMigration) error) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	embedded, err := loadMigrations(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, migrationTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockKey); err != nil {
			s.logger.WithError(err).Warn("release migration lock")
		}
	}()

	if _, err := conn.ExecContext(ctx, journalDDL); err != nil {
		return fmt.Errorf("ensure migration journal: %w", err)
	}
	journal, err := readJournal(ctx, conn)
	if err != nil {
		return err
	}
	return fn(conn, embedded, journal)
}

// verifyJournal сверяет журнал со встроенными миграциями и возвращает множество применённых версий.
func verifyJournal(embedded []migration, journal []AppliedMigration) (map[int64]bool, error) {
	byVersion := make(map[int64]migration, len(embedded))
	for _, m := range embedded {
		byVersion[m.Version] = m
	}

	applied := make(map[int64]bool, len(journal))
	for _, a := range journal {
		m, ok := byVersion[a.Version]
		if !ok {
			return nil, fmt.Errorf("%w: version %d (%s)", ErrSchemaAhead, a.Version, a.Name)
		}
		if a.checksum != m.Checksum {
			return nil, fmt.Errorf("%w: %s", ErrMigrationChecksum, m)
		}
		applied[a.Version] = true
	}
	return applied, nil
}

func runMigration(ctx context.Context, conn *sql.Conn, script, record string, args ...any) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute script: %w", err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update journal: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func readJournal(ctx context.Context, q queryer) ([]AppliedMigration, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT version, name, checksum, applied_at
		FROM shopcart_schema_migrations
		ORDER BY version
	`)
	if err != nil {
		return nil, fmt.Errorf("read migration journal: %w", err)
	}
	defer rows.Close()

	journal := make([]AppliedMigration, 0)
	for rows.Next() {
		var a AppliedMigration
		if err := rows.Scan(&a.Version, &a.Name, &a.checksum, &a.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan migration journal: %w", err)
		}
		a.AppliedAt = a.AppliedAt.UTC()
		journal = append(journal, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migration journal: %w", err)
	}
	return journal, nil
}

// loadMigrations читает пары up/down из fsys. Версии должны идти подряд с 1.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int64]*migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, direction, err := parseMigrationName(entry.Name())
		if err != nil {
			return nil, err
		}

		raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration %s is empty", entry.Name())
		}

		m, ok := byVersion[version]
		if !ok {
			m = &migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if m.Name != name {
			return nil, fmt.Errorf("version %d has two names: %s and %s", version, m.Name, name)
		}
		switch direction {
		case "up":
			m.Up = body
		case "down":
			m.Down = body
		}
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migrations found")
	}

	migrations := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" || m.Down == "" {
			return nil, fmt.Errorf("migration %s needs both up and down scripts", m)
		}
		sum := sha256.Sum256([]byte(m.Up))
		m.Checksum = hex.EncodeToString(sum[:])
		migrations = append(migrations, *m)
	}
	slices.SortFunc(migrations, func(a, b migration) int { return cmp.Compare(a.Version, b.Version) })

	for i, m := range migrations {
		if m.Version != int64(i+1) {
			return nil, fmt.Errorf("migration versions must be contiguous from 1: got %s at position %d", m, i+1)
		}
	}
	return migrations, nil
}

// parseMigrationName разбирает имя вида 0002_carts_orders_outbox.up.sql.
func parseMigrationName(file string) (int64, string, string, error) {
	stem, ok := strings.CutSuffix(file, ".sql")
	if !ok {
		return 0, "", "", fmt.Errorf("migration %s: expected .sql extension", file)
	}
	direction := ""
	for _, d := range []string{"up", "down"} {
		if rest, found := strings.CutSuffix(stem, "."+d); found {
			stem, direction = rest, d
			break
		}
	}
	if direction == "" {
		return 0, "", "", fmt.Errorf("migration %s: expected .up.sql or .down.sql", file)
	}

	digits, name, ok := strings.Cut(stem, "_")
	if !ok || name == "" {
		return 0, "", "", fmt.Errorf("migration %s: expected NNNN_name", file)
	}
	version, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || version <= 0 {
		return 0, "", "", fmt.Errorf("migration %s: invalid version %q", file, digits)
	}
	if strings.IndexFunc(name, func(r rune) bool {
		return !(r == '_' || ('a' <= r && r <= 'z') || ('0' <= r && r <= '9'))
	}) >= 0 {
		return 0, "", "", fmt.Errorf("migration %s: name must be lower_snake_case", file)
	}
	return version, name, direction, nil
}
