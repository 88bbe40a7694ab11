package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// migrationLockID keys the advisory lock that serialises concurrent
// `migrate up` runs against one database.
const migrationLockID int64 = 0x636c696e6963 // "clinic"

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    checksum   CHAR(64) NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Migration is one numbered SQL file, NNN_name.sql.
type Migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

// MigrationState describes a migration file relative to the database.
type MigrationState string

const (
	MigrationPending MigrationState = "pending"
	MigrationApplied MigrationState = "applied"
	// MigrationModified marks an applied migration whose file changed since.
	MigrationModified MigrationState = "modified"
	// MigrationMissing marks a version recorded in the database with no file.
	MigrationMissing MigrationState = "missing"
)

// MigrationStatus is one row of `migrate status`.
type MigrationStatus struct {
	Version   int
	Name      string
	State     MigrationState
	AppliedAt *time.Time
}

type appliedMigration struct {
	Name      string
	Checksum  string
	AppliedAt time.Time
}

// Migrator applies the clinic schema from a filesystem of SQL files.
type Migrator struct {
	pool   *pgxpool.Pool
	files  fs.FS
	logger zerolog.Logger
}

// NewMigrator reads migrations from the root of files. Pass migrations.FS for
// the embedded clinic schema or os.DirFS for an override directory.
func NewMigrator(pool *pgxpool.Pool, files fs.FS, logger zerolog.Logger) *Migrator {
	return &Migrator{pool: pool, files: files, logger: logger}
}

// LoadMigrations returns every NNN_name.sql file sorted by version, each with
// the SHA-256 of its contents. Other files are skipped. Two files sharing a
// version are an error.
func (m *Migrator) LoadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.files, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	byVersion := make(map[int]string)
	var out []Migration
	for _, entry := range entries {
		version, ok := migrationVersion(entry)
		if !ok {
			continue
		}
		name := entry.Name()
		if prev, dup := byVersion[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", prev, name, version)
		}
		byVersion[version] = name

		content, err := fs.ReadFile(m.files, name)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", name, err)
		}
		sum := sha256.Sum256(content)
		out = append(out, Migration{
			Version:  version,
			Name:     name,
			SQL:      string(content),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func migrationVersion(entry fs.DirEntry) (int, bool) {
	if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
		return 0, false
	}
	prefix, _, found := strings.Cut(entry.Name(), "_")
	if !found {
		return 0, false
	}
	version, err := strconv.Atoi(prefix)
	if err != nil || version <= 0 {
		return 0, false
	}
	return version, true
}

// pendingMigrations returns the migrations not yet applied, refusing to go on
// when an applied file has been edited since it ran.
func pendingMigrations(files []Migration, applied map[int]appliedMigration) ([]Migration, error) {
	var pending []Migration
	for _, mig := range files {
		rec, ok := applied[mig.Version]
		if !ok {
			pending = append(pending, mig)
			continue
		}
		if rec.Checksum != mig.Checksum {
			return nil, fmt.Errorf("migration %d (%s) changed after it was applied: recorded checksum %s, file checksum %s",
				mig.Version, mig.Name, shortSum(rec.Checksum), shortSum(mig.Checksum))
		}
	}
	return pending, nil
}

// migrationStatuses merges files with the applied records. Versions present
// only in the database are reported as missing.
func migrationStatuses(files []Migration, applied map[int]appliedMigration) []MigrationStatus {
	seen := make(map[int]bool, len(files))
	statuses := make([]MigrationStatus, 0, len(files))
	for _, mig := range files {
		seen[mig.Version] = true
		st := MigrationStatus{Version: mig.Version, Name: mig.Name, State: MigrationPending}
		if rec, ok := applied[mig.Version]; ok {
			at := rec.AppliedAt
			st.AppliedAt = &at
			st.State = MigrationApplied
			if rec.Checksum != mig.Checksum {
				st.State = MigrationModified
			}
		}
		statuses = append(statuses, st)
	}
	for version, rec := range applied {
		if seen[version] {
			continue
		}
		at := rec.AppliedAt
		statuses = append(statuses, MigrationStatus{Version: version, Name: rec.Name, State: MigrationMissing, AppliedAt: &at})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Version < statuses[j].Version })
	return statuses
}

func shortSum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

// Up applies pending migrations in version order, each in its own
// transaction, while holding the migration advisory lock.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	files, err := m.LoadMigrations()
	if err != nil {
		return 0, err
	}

	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return 0, fmt.Errorf("take migration lock: %w", err)
	}
	defer func() {
		if _, err := conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			m.logger.Warn().Err(err).Msg("release migration lock")
		}
	}()

	if _, err := conn.Exec(ctx, createMigrationsTable); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}
	applied, err := loadApplied(ctx, conn.Conn())
	if err != nil {
		return 0, err
	}
	pending, err := pendingMigrations(files, applied)
	if err != nil {
		return 0, err
	}

	for i, mig := range pending {
		start := time.Now()
		if err := applyMigration(ctx, conn.Conn(), mig); err != nil {
			return i, fmt.Errorf("apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		m.logger.Info().
			Int("version", mig.Version).
			Str("name", mig.Name).
			Str("checksum", shortSum(mig.Checksum)).
			Dur("elapsed", time.Since(start)).
			Msg("migration applied")
	}
	return len(pending), nil
}

// Status reports every migration file and every recorded version.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	files, err := m.LoadMigrations()
	if err != nil {
		return nil, err
	}

	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, createMigrationsTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}
	applied, err := loadApplied(ctx, conn.Conn())
	if err != nil {
		return nil, err
	}
	return migrationStatuses(files, applied), nil
}

func loadApplied(ctx context.Context, conn *pgx.Conn) (map[int]appliedMigration, error) {
	rows, err := conn.Query(ctx, `SELECT version, name, checksum, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]appliedMigration)
	for rows.Next() {
		var version int
		var rec appliedMigration
		if err := rows.Scan(&version, &rec.Name, &rec.Checksum, &rec.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[version] = rec
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, conn *pgx.Conn, mig Migration) error {
	return pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, mig.SQL); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`,
			mig.Version, mig.Name, mig.Checksum)
		return err
	})
}
