package gostgrator

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// NewClient creates a new Client based on the provided configuration and database connection.
func NewClient(cfg Config, db *sql.DB) (Client, error) {
	switch strings.ToLower(cfg.Driver) {
	case "pg":
		return NewPostgresClient(cfg, db), nil
	case "sqlite3", "sqlite":
		return NewSqlite3Client(cfg, db), nil
	default:
		return nil, fmt.Errorf("db driver '%s' not supported. Must be one of: sqlite3, sqlite or pg", cfg.Driver)
	}
}

// Client defines the interface for migration clients.
type Client interface {
	RunQuery(ctx context.Context, query string) (*sql.Rows, error)
	RunSqlScript(ctx context.Context, script string) error
	GetDatabaseVersionSql() string
	HasVersionTable(ctx context.Context) (bool, error)
	EnsureTable(ctx context.Context) error
	GetMd5Sql(m Migration) string
	PersistActionSql(m Migration) string
	QuotedSchemaTable() string
}

// baseClient provides the common implementation. Dialect specific SQL is
// supplied by the concrete client through the function fields.
type baseClient struct {
	cfg Config
	db  *sql.DB

	quotedSchemaTableFn func() string
	getColumnsSqlFn     func() string
	getAddNameSqlFn     func() string
	getAddMd5SqlFn      func() string
	getAddRunAtSqlFn    func() string
}

// RunQuery executes a query. For Postgres, if CurrentSchema is set,
// it first sets the search_path.
func (c *baseClient) RunQuery(ctx context.Context, query string) (*sql.Rows, error) {
	if strings.ToLower(c.cfg.Driver) == "pg" && c.cfg.CurrentSchema != "" {
		_, err := c.db.ExecContext(ctx, fmt.Sprintf("SET search_path = %s", c.cfg.CurrentSchema))
		if err != nil {
			return nil, err
		}
	}
	return c.db.QueryContext(ctx, query)
}

// RunSqlScript executes a SQL script.
func (c *baseClient) RunSqlScript(ctx context.Context, script string) error {
	_, err := c.db.ExecContext(ctx, script)
	return err
}

// QuotedSchemaTable returns the schema table name as the dialect expects it.
func (c *baseClient) QuotedSchemaTable() string {
	if c.quotedSchemaTableFn != nil {
		return c.quotedSchemaTableFn()
	}
	return c.cfg.SchemaTable
}

// PersistActionSql returns the SQL for persisting a migration action.
func (c *baseClient) PersistActionSql(m Migration) string {
	qt := c.QuotedSchemaTable()
	now := time.Now().Format("2006-01-02 15:04:05")
	switch strings.ToLower(m.Action) {
	case "do":
		return fmt.Sprintf(`
          INSERT INTO %s (version, name, md5, run_at)
          VALUES (%d, '%s', '%s', '%s');`, qt, m.Version, strings.ReplaceAll(m.Name, "'", "''"), m.Md5, now)
	case "undo":
		return fmt.Sprintf(`
          DELETE FROM %s
          WHERE version = %d;`, qt, m.Version)
	}
	return ""
}

// GetMd5Sql returns SQL to fetch the md5 checksum for a migration.
func (c *baseClient) GetMd5Sql(m Migration) string {
	return fmt.Sprintf(`
      SELECT md5
      FROM %s
      WHERE version = %d;`, c.QuotedSchemaTable(), m.Version)
}

// GetDatabaseVersionSql returns SQL to get the latest version.
func (c *baseClient) GetDatabaseVersionSql() string {
	return fmt.Sprintf(`
      SELECT version
      FROM %s
      ORDER BY version DESC
      LIMIT 1;`, c.QuotedSchemaTable())
}

// HasVersionTable checks for the existence of the version table by querying its columns.
func (c *baseClient) HasVersionTable(ctx context.Context) (bool, error) {
	rows, err := c.db.QueryContext(ctx, c.getColumnsSqlFn())
	if err != nil {
		return false, err
	}
	defer rows.Close()

	// if there is at least one row then we assume the table exists.
	return rows.Next(), rows.Err()
}

// Helper function to check for a column name (case insensitive).
func hasColumn(columns []string, name string) bool {
	for _, col := range columns {
		if strings.EqualFold(col, name) {
			return true
		}
	}
	return false
}

// columnNames reads the first column of every row. PRAGMA table_info returns
// several columns per row and the name sits in the second one.
func columnNames(rows *sql.Rows) ([]string, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var names []string
	for rows.Next() {
		dest := make([]any, len(cols))
		for i := range dest {
			dest[i] = new(sql.RawBytes)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		idx := 0
		for i, col := range cols {
			if strings.EqualFold(col, "name") || strings.EqualFold(col, "column_name") {
				idx = i
				break
			}
		}
		names = append(names, string(*dest[idx].(*sql.RawBytes)))
	}
	return names, rows.Err()
}

// EnsureTable checks if the version table exists and creates/updates it if necessary.
func (c *baseClient) EnsureTable(ctx context.Context) error {
	rows, err := c.db.QueryContext(ctx, c.getColumnsSqlFn())
	if err != nil {
		return err
	}
	columns, err := columnNames(rows)
	rows.Close()
	if err != nil {
		return err
	}

	var queries []string
	// If no columns are returned, assume the table does not exist.
	if len(columns) == 0 {
		colType := "BIGINT"
		if strings.ToLower(c.cfg.Driver) == "pg" {
			// If SchemaTable contains a dot, create the schema first.
			if strings.Contains(c.cfg.SchemaTable, ".") {
				parts := strings.Split(c.cfg.SchemaTable, ".")
				queries = append(queries, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s";`, parts[0]))
			}
		} else {
			colType = "INTEGER"
		}
		queries = append(queries, fmt.Sprintf(`
          CREATE TABLE %s (
            version %s PRIMARY KEY
          );`, c.QuotedSchemaTable(), colType))
		queries = append(queries, fmt.Sprintf(`
          INSERT INTO %s (version)
          VALUES (0);`, c.QuotedSchemaTable()))
	}

	// Check for missing columns: name, md5, run_at.
	if !hasColumn(columns, "name") {
		queries = append(queries, c.getAddNameSqlFn())
	}
	if !hasColumn(columns, "md5") {
		queries = append(queries, c.getAddMd5SqlFn())
	}
	if !hasColumn(columns, "run_at") {
		queries = append(queries, c.getAddRunAtSqlFn())
	}

	for _, q := range queries {
		if _, err := c.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}
