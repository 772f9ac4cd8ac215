// Package engine adapts the gostgrator migration engine to per-project calls.
// Every operation takes the project explicitly; nothing depends on the
// process working directory.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"

	"github.com/bcomnes/dbchanges/internal/project"
	"github.com/bcomnes/dbchanges/pkg/gostgrator"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver (cgo)
	_ "modernc.org/sqlite"             // SQLite driver (pure Go)
)

// Engine is the migration engine as seen by the dispatcher.
type Engine interface {
	// Connect opens a session against the project's configured database.
	Connect(ctx context.Context, p project.Project) (Session, error)
	// ReadConfig returns the project's resolved engine configuration.
	ReadConfig(p project.Project) (gostgrator.Config, error)
	// CreateScript scaffolds a new migration pair and returns the created file names.
	CreateScript(p project.Project, description string) ([]string, error)
	// InitConfig scaffolds a default configuration in the project directory.
	InitConfig(p project.Project) error
}

// Session is a live connection to one project's database.
type Session interface {
	// Up applies every pending migration and returns the applied file names.
	Up(ctx context.Context) ([]string, error)
	// Down reverts the last applied migration and returns the reverted file names.
	Down(ctx context.Context) ([]string, error)
	// Status lists migrations and whether each has been applied.
	Status(ctx context.Context) ([]gostgrator.MigrationStatus, error)
	Close() error
}

// Gostgrator implements Engine on top of pkg/gostgrator.
type Gostgrator struct {
	fs afero.Fs
}

// New returns an Engine reading project files from fs.
func New(fs afero.Fs) *Gostgrator {
	return &Gostgrator{fs: fs}
}

// ReadConfig loads the project's config and resolves relative paths against
// the project directory.
func (e *Gostgrator) ReadConfig(p project.Project) (gostgrator.Config, error) {
	cfg, err := gostgrator.LoadConfig(e.fs, p.ConfigPath())
	if err != nil {
		return gostgrator.Config{}, err
	}
	if !filepath.IsAbs(cfg.MigrationPattern) {
		cfg.MigrationPattern = filepath.Join(p.Dir, cfg.MigrationPattern)
	}
	return cfg, nil
}

// Connect opens the project's database.
func (e *Gostgrator) Connect(ctx context.Context, p project.Project) (Session, error) {
	cfg, err := e.ReadConfig(p)
	if err != nil {
		return nil, err
	}
	driverName, dsn, err := DataSource(cfg, p.Dir)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driverName != "pgx" {
		// In-memory SQLite databases live per connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to %s database: %w", cfg.Driver, err)
	}
	g, err := gostgrator.NewGostgrator(cfg, db, gostgrator.WithFs(e.fs))
	if err != nil {
		db.Close()
		return nil, err
	}
	return &session{g: g, db: db}, nil
}

// CreateScript scaffolds a migration pair numbered per the project's mode.
func (e *Gostgrator) CreateScript(p project.Project, description string) ([]string, error) {
	cfg, err := e.ReadConfig(p)
	if err != nil {
		return nil, err
	}
	return gostgrator.CreateMigration(e.fs, cfg, description, cfg.Mode)
}

// InitConfig scaffolds gostgrator.json and the migrations directory.
func (e *Gostgrator) InitConfig(p project.Project) error {
	return gostgrator.InitConfig(e.fs, p.Dir)
}

// DataSource returns the database/sql driver name and DSN for cfg. Relative
// SQLite paths are resolved against dir.
func DataSource(cfg gostgrator.Config, dir string) (string, string, error) {
	switch strings.ToLower(cfg.Driver) {
	case "pg":
		dsn, err := postgresDSN(cfg)
		return "pgx", dsn, err
	case "sqlite3":
		dsn, err := sqliteDSN(cfg, dir)
		return "sqlite3", dsn, err
	case "sqlite":
		dsn, err := sqliteDSN(cfg, dir)
		return "sqlite", dsn, err
	default:
		return "", "", fmt.Errorf("db driver '%s' not supported. Must be one of: sqlite3, sqlite or pg", cfg.Driver)
	}
}

func postgresDSN(cfg gostgrator.Config) (string, error) {
	if cfg.Conn == "" {
		return "", fmt.Errorf("no connection address configured")
	}
	if !strings.Contains(cfg.Conn, "://") {
		// key=value DSN
		if cfg.Database != "" && !strings.Contains(cfg.Conn, "dbname=") {
			return cfg.Conn + " dbname=" + cfg.Database, nil
		}
		return cfg.Conn, nil
	}
	u, err := url.Parse(cfg.Conn)
	if err != nil {
		return "", fmt.Errorf("parse connection address: %w", err)
	}
	if (u.Path == "" || u.Path == "/") && cfg.Database != "" {
		u.Path = "/" + cfg.Database
	}
	return u.String(), nil
}

func sqliteDSN(cfg gostgrator.Config, dir string) (string, error) {
	conn := cfg.Conn
	if conn == "" {
		if cfg.Database == "" {
			return "", fmt.Errorf("no connection address or database configured")
		}
		conn = cfg.Database + ".db"
	}
	if rest, ok := strings.CutPrefix(conn, "file:"); ok {
		return sqliteURI(rest, dir)
	}
	if conn == ":memory:" || filepath.IsAbs(conn) {
		return conn, nil
	}
	return filepath.Join(dir, conn), nil
}

// sqliteURI resolves the path of a relative "file:" URI against dir.
// In-memory databases are named, not located, and stay as written.
func sqliteURI(rest, dir string) (string, error) {
	path, query, hasQuery := strings.Cut(rest, "?")
	if hasQuery {
		params, err := url.ParseQuery(query)
		if err != nil {
			return "", fmt.Errorf("parse sqlite uri parameters: %w", err)
		}
		if params.Get("mode") == "memory" {
			return "file:" + rest, nil
		}
	}
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "/") || filepath.IsAbs(path) {
		return "file:" + rest, nil
	}
	resolved := "file:" + filepath.Join(dir, path)
	if hasQuery {
		resolved += "?" + query
	}
	return resolved, nil
}

const redacted = "xxxxx"

// kvPasswordRe matches the password of a key/value DSN, quoted or bare.
var kvPasswordRe = regexp.MustCompile(`(?i)(\bpassword\s*=\s*)('(?:[^'\\]|\\.)*'|\S+)`)

// Redact hides the password in a connection address. It covers the user
// info and password query parameter of URLs and the password key of
// key/value DSNs.
func Redact(conn string) string {
	if !strings.Contains(conn, "://") {
		return kvPasswordRe.ReplaceAllString(conn, "${1}"+redacted)
	}
	u, err := url.Parse(conn)
	if err != nil {
		return kvPasswordRe.ReplaceAllString(conn, "${1}"+redacted)
	}
	if q := u.Query(); q.Has("password") {
		q.Set("password", redacted)
		u.RawQuery = q.Encode()
	}
	return u.Redacted()
}

type session struct {
	g  *gostgrator.Gostgrator
	db *sql.DB
}

func (s *session) Up(ctx context.Context) ([]string, error) {
	migs, err := s.g.Migrate(ctx, "max")
	return names(migs), err
}

func (s *session) Down(ctx context.Context) ([]string, error) {
	migs, err := s.g.Down(ctx, 1)
	return names(migs), err
}

func (s *session) Status(ctx context.Context) ([]gostgrator.MigrationStatus, error) {
	return s.g.Status(ctx)
}

func (s *session) Close() error {
	return s.db.Close()
}

func names(migs []gostgrator.Migration) []string {
	out := make([]string, 0, len(migs))
	for _, m := range migs {
		out = append(out, filepath.Base(m.Filename))
	}
	return out
}
