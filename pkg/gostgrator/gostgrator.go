package gostgrator

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// Gostgrator is the main orchestrator for running database migrations.
//
// It loads migration files, determines the current database version,
// validates checksums (if enabled), and runs the necessary migrations to reach a target version.
type Gostgrator struct {
	cfg        Config
	fs         afero.Fs
	migrations []Migration
	client     Client
}

// Option configures a Gostgrator.
type Option func(*Gostgrator)

// WithFs sets the filesystem migration files are read from. Defaults to the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(g *Gostgrator) { g.fs = fs }
}

// NewGostgrator creates a new Gostgrator instance with the provided configuration and database connection.
func NewGostgrator(cfg Config, db *sql.DB, opts ...Option) (*Gostgrator, error) {
	if cfg.SchemaTable == "" {
		cfg.SchemaTable = DefaultConfig.SchemaTable
	}
	if cfg.MigrationPattern == "" {
		cfg.MigrationPattern = DefaultConfig.MigrationPattern
	}
	client, err := NewClient(cfg, db)
	if err != nil {
		return nil, err
	}
	g := &Gostgrator{
		cfg:    cfg,
		fs:     afero.NewOsFs(),
		client: client,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Config returns the configuration in use.
func (g *Gostgrator) Config() Config {
	return g.cfg
}

// GetMigrations scans for migration files and loads them into Gostgrator.
func (g *Gostgrator) GetMigrations() ([]Migration, error) {
	migs, err := GetMigrations(g.fs, g.cfg)
	if err != nil {
		return nil, err
	}
	g.migrations = migs
	return migs, nil
}

// QueryContext is a helper to execute a query using the underlying client.
func (g *Gostgrator) QueryContext(ctx context.Context, query string) (*sql.Rows, error) {
	return g.client.RunQuery(ctx, query)
}

// RunSqlScript executes a SQL script using the underlying client.
func (g *Gostgrator) RunSqlScript(ctx context.Context, script string) error {
	return g.client.RunSqlScript(ctx, script)
}

// GetDatabaseVersion returns the current database version.
// If the migration table is not initialized, it returns 0.
func (g *Gostgrator) GetDatabaseVersion(ctx context.Context) (int, error) {
	initialized, err := g.client.HasVersionTable(ctx)
	if err != nil {
		return 0, err
	}
	if !initialized {
		return 0, nil
	}
	rows, err := g.client.RunQuery(ctx, g.client.GetDatabaseVersionSql())
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var version int
	if rows.Next() {
		if err := rows.Scan(&version); err != nil {
			return 0, err
		}
	}
	return version, rows.Err()
}

// GetMaxVersion returns the highest migration version available.
func (g *Gostgrator) GetMaxVersion() (int, error) {
	if len(g.migrations) == 0 {
		if _, err := g.GetMigrations(); err != nil {
			return 0, err
		}
	}
	max := 0
	for _, m := range g.migrations {
		if m.Version > max {
			max = m.Version
		}
	}
	return max, nil
}

// ValidateMigrations verifies that applied migrations have not changed by comparing MD5 checksums.
func (g *Gostgrator) ValidateMigrations(ctx context.Context, databaseVersion int) error {
	if _, err := g.GetMigrations(); err != nil {
		return err
	}
	for _, m := range g.migrations {
		if m.Action != "do" || m.Version <= 0 || m.Version > databaseVersion {
			continue
		}
		rows, err := g.client.RunQuery(ctx, g.client.GetMd5Sql(m))
		if err != nil {
			return err
		}
		var dbMd5 sql.NullString
		if rows.Next() {
			if err := rows.Scan(&dbMd5); err != nil {
				rows.Close()
				return err
			}
		}
		rows.Close()
		if dbMd5.Valid && m.Md5 != "" && dbMd5.String != m.Md5 {
			return fmt.Errorf("MD5 checksum failed for migration [%d]", m.Version)
		}
	}
	return nil
}

// RunMigrations applies the provided migrations in sequence.
func (g *Gostgrator) RunMigrations(ctx context.Context, migrations []Migration) ([]Migration, error) {
	var applied []Migration
	for _, m := range migrations {
		script, err := afero.ReadFile(g.fs, m.Filename)
		if err != nil {
			return applied, err
		}
		if err := g.client.RunSqlScript(ctx, string(script)); err != nil {
			return applied, fmt.Errorf("migration %s: %w", m.Filename, err)
		}
		if err := g.client.RunSqlScript(ctx, g.client.PersistActionSql(m)); err != nil {
			return applied, err
		}
		applied = append(applied, m)
	}
	return applied, nil
}

// GetRunnableMigrations returns the migrations that move databaseVersion to targetVersion, in run order.
func (g *Gostgrator) GetRunnableMigrations(databaseVersion, targetVersion int) ([]Migration, error) {
	if targetVersion > databaseVersion {
		var runnable []Migration
		for _, m := range g.migrations {
			if m.Action == "do" && m.Version > databaseVersion && m.Version <= targetVersion {
				runnable = append(runnable, m)
			}
		}
		sortMigrationsAsc(runnable)
		return runnable, nil
	}

	if targetVersion < databaseVersion {
		undo := make(map[int]Migration)
		for _, m := range g.migrations {
			if m.Action == "undo" {
				undo[m.Version] = m
			}
		}
		var runnable []Migration
		for _, m := range g.migrations {
			if m.Action != "do" || m.Version > databaseVersion || m.Version <= targetVersion {
				continue
			}
			u, ok := undo[m.Version]
			if !ok {
				return nil, fmt.Errorf("no undo migration for version %d", m.Version)
			}
			runnable = append(runnable, u)
		}
		sortMigrationsDesc(runnable)
		return runnable, nil
	}

	// targetVersion == databaseVersion
	return nil, nil
}

// Migrate moves the schema to the target version.
// If target is "max" or empty, it migrates to the highest available version.
func (g *Gostgrator) Migrate(ctx context.Context, target string) ([]Migration, error) {
	if err := g.client.EnsureTable(ctx); err != nil {
		return nil, err
	}
	if _, err := g.GetMigrations(); err != nil {
		return nil, err
	}
	var targetVersion int
	var err error
	cleaned := strings.ToLower(strings.TrimSpace(target))
	if cleaned == "max" || cleaned == "" {
		targetVersion, err = g.GetMaxVersion()
		if err != nil {
			return nil, err
		}
	} else {
		targetVersion, err = strconv.Atoi(cleaned)
		if err != nil {
			return nil, fmt.Errorf("invalid target version: %v", err)
		}
	}
	dbVersion, err := g.GetDatabaseVersion(ctx)
	if err != nil {
		return nil, err
	}
	if g.cfg.ValidateChecksums && targetVersion >= dbVersion {
		if err := g.ValidateMigrations(ctx, dbVersion); err != nil {
			return nil, err
		}
	}
	runnable, err := g.GetRunnableMigrations(dbVersion, targetVersion)
	if err != nil {
		return nil, err
	}
	return g.RunMigrations(ctx, runnable)
}

// Down rolls back the last steps applied migrations.
func (g *Gostgrator) Down(ctx context.Context, steps int) ([]Migration, error) {
	if steps < 1 {
		return nil, fmt.Errorf("rollback steps must be positive, got %d", steps)
	}
	dbVersion, err := g.GetDatabaseVersion(ctx)
	if err != nil {
		return nil, err
	}
	migs, err := g.GetMigrations()
	if err != nil {
		return nil, err
	}
	var applied []int
	for _, m := range migs {
		if m.Action == "do" && m.Version > 0 && m.Version <= dbVersion {
			applied = append(applied, m.Version)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(applied)))
	target := 0
	if steps < len(applied) {
		target = applied[steps]
	}
	return g.Migrate(ctx, strconv.Itoa(target))
}

// Status lists every "do" migration and whether the database has applied it.
// It does not modify the database.
func (g *Gostgrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	dbVersion, err := g.GetDatabaseVersion(ctx)
	if err != nil {
		return nil, err
	}
	migs, err := g.GetMigrations()
	if err != nil {
		return nil, err
	}
	var status []MigrationStatus
	for _, m := range migs {
		if m.Action != "do" {
			continue
		}
		status = append(status, MigrationStatus{
			Version:  m.Version,
			Name:     m.Name,
			Filename: m.Filename,
			Applied:  m.Version <= dbVersion,
		})
	}
	return status, nil
}

// CreateMigration scaffolds a new do/undo pair using the instance's configuration.
func (g *Gostgrator) CreateMigration(description, mode string) ([]string, error) {
	return CreateMigration(g.fs, g.cfg, description, mode)
}
