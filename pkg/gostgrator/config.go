package gostgrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// ConfigFile is the name of the per-project configuration file.
const ConfigFile = "gostgrator.json"

// DatabasePlaceholder is the token InitConfig leaves in a freshly scaffolded
// config for the caller to replace with a real database name.
const DatabasePlaceholder = "YOURDATABASENAME"

// ErrConfigExists is returned by InitConfig when the directory already holds a config file.
var ErrConfigExists = errors.New("config file already exists")

// Config holds settings for migrations.
type Config struct {
	// Driver is the database driver: "pg", "sqlite3" or "sqlite".
	Driver string `json:"driver"`

	// Database is the database name. For PostgreSQL it is filled into Conn
	// when the connection URL has no path; for SQLite it names the default file.
	Database string `json:"database"`

	// Conn is the connection address.
	Conn string `json:"conn,omitempty"`

	// SchemaTable is the name of the migration table.
	SchemaTable string `json:"schemaTable"`

	// MigrationPattern is the glob pattern for migration files (e.g. "migrations/*.sql").
	MigrationPattern string `json:"migrationPattern"`

	// Newline is the desired newline style ("LF", "CR", or "CRLF").
	Newline string `json:"newline,omitempty"`

	// CurrentSchema is used for PostgreSQL if SchemaTable doesn’t include a dot.
	CurrentSchema string `json:"currentSchema,omitempty"`

	// ValidateChecksums indicates if the tool should validate migration checksums.
	ValidateChecksums bool `json:"validateChecksums"`

	// Mode is the numbering mode for new migrations ("int" or "timestamp").
	Mode string `json:"mode,omitempty"`
}

// DefaultConfig provides default values for configuration.
var DefaultConfig = Config{
	Driver:            "pg",
	SchemaTable:       "schemaversion",
	MigrationPattern:  "migrations/*.sql",
	ValidateChecksums: true,
	Mode:              "int",
}

// configTemplate is written by InitConfig. Keep DatabasePlaceholder on a
// single line so a textual substitution touches nothing else.
const configTemplate = `{
  "driver": "pg",
  "conn": "postgres://localhost:5432/?sslmode=disable",
  "database": "` + DatabasePlaceholder + `",
  "schemaTable": "schemaversion",
  "migrationPattern": "migrations/*.sql",
  "validateChecksums": true,
  "mode": "int"
}
`

// LoadConfig reads a JSON configuration file on top of DefaultConfig.
func LoadConfig(fs afero.Fs, path string) (Config, error) {
	cfg := DefaultConfig
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return Config{}, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// InitConfig scaffolds a default config file and an empty migrations
// directory in dir. It refuses to overwrite an existing config.
func InitConfig(fs afero.Fs, dir string) error {
	path := filepath.Join(dir, ConfigFile)
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}
	if err := fs.MkdirAll(filepath.Join(dir, filepath.Dir(DefaultConfig.MigrationPattern)), 0o755); err != nil {
		return fmt.Errorf("failed to create migrations directory: %w", err)
	}
	if err := afero.WriteFile(fs, path, []byte(configTemplate), os.FileMode(0o644)); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
