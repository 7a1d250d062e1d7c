package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Migration is one versioned SQL file.
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

var migrationFile = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// readMigrations loads every NNNN_name.sql file in dir, ordered by version.
// Files that do not match the pattern are skipped.
func readMigrations(fsys fs.FS, dir string, log zerolog.Logger) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	seen := map[int]string{}
	var migrations []Migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := migrationFile.FindStringSubmatch(e.Name())
		if m == nil {
			log.Warn().Str("file", e.Name()).Msg("Skipping file with invalid name")
			continue
		}
		version, _ := strconv.Atoi(m[1])
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %04d: %s and %s", version, prev, e.Name())
		}
		seen[version] = e.Name()

		content, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", e.Name(), err)
		}
		migrations = append(migrations, Migration{
			Version:  version,
			Name:     m[2],
			Filename: e.Name(),
			SQL:      string(content),
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// pendingMigrations returns the migrations not yet applied. An applied
// migration whose file has since changed is an error.
func pendingMigrations(all []Migration, applied []AppliedMigration) ([]Migration, error) {
	byVersion := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		byVersion[am.Version] = am
	}

	var pending []Migration
	for _, m := range all {
		am, ok := byVersion[m.Version]
		if !ok {
			pending = append(pending, m)
			continue
		}
		if am.Checksum != "" && am.Checksum != m.Checksum {
			return nil, fmt.Errorf("migration %04d_%s changed after it was applied", m.Version, m.Name)
		}
	}
	return pending, nil
}

// runner applies migrations to Postgres, tracking them in schema_migrations.
type runner struct {
	db        *gorm.DB
	appliedBy string
	log       zerolog.Logger
}

func (r *runner) ensureSchemaMigrationsTable(ctx context.Context) error {
	err := r.db.WithContext(ctx).Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL,
		checksum   TEXT,
		applied_by TEXT
	)`).Error
	if err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}
	return nil
}

func (r *runner) appliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	var applied []AppliedMigration
	err := r.db.WithContext(ctx).
		Raw(`SELECT version, name, applied_at, checksum, applied_by FROM schema_migrations ORDER BY version`).
		Scan(&applied).Error
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}
	return applied, nil
}

// apply runs one migration and records it in the same transaction.
func (r *runner) apply(ctx context.Context, m Migration) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(m.SQL).Error; err != nil {
			return fmt.Errorf("executing %s: %w", m.Filename, err)
		}
		err := tx.Exec(
			`INSERT INTO schema_migrations (version, name, applied_at, checksum, applied_by) VALUES (?, ?, ?, ?, ?)`,
			m.Version, m.Name, time.Now().UTC(), m.Checksum, r.appliedBy,
		).Error
		if err != nil {
			return fmt.Errorf("recording %s: %w", m.Filename, err)
		}
		return nil
	})
}

// Run applies every pending migration in order and returns how many ran.
func (r *runner) Run(ctx context.Context, all []Migration) (int, error) {
	if err := r.ensureSchemaMigrationsTable(ctx); err != nil {
		return 0, err
	}
	applied, err := r.appliedMigrations(ctx)
	if err != nil {
		return 0, err
	}
	r.log.Info().Int("found", len(all)).Int("applied", len(applied)).Msg("Loaded migrations")

	pending, err := pendingMigrations(all, applied)
	if err != nil {
		return 0, err
	}
	for i, m := range pending {
		r.log.Info().Int("version", m.Version).Str("name", m.Name).Msg("Applying migration")
		if err := r.apply(ctx, m); err != nil {
			return i, err
		}
	}
	return len(pending), nil
}
