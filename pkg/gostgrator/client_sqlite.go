package gostgrator

import (
	"database/sql"
	"fmt"
)

// Sqlite3Client implements Client for SQLite. It serves both the cgo
// "sqlite3" driver and the pure Go "sqlite" driver.
type Sqlite3Client struct {
	baseClient
}

// NewSqlite3Client creates a new Sqlite3Client.
func NewSqlite3Client(cfg Config, db *sql.DB) *Sqlite3Client {
	c := &Sqlite3Client{
		baseClient: baseClient{
			cfg: cfg,
			db:  db,
		},
	}
	c.getColumnsSqlFn = c.getColumnsSql
	c.getAddNameSqlFn = c.getAddNameSql
	c.getAddMd5SqlFn = c.getAddMd5Sql
	c.getAddRunAtSqlFn = c.getAddRunAtSql
	return c
}

func (c *Sqlite3Client) getColumnsSql() string {
	return fmt.Sprintf(`
      SELECT name AS column_name
      FROM pragma_table_info('%s');
    `, c.cfg.SchemaTable)
}

func (c *Sqlite3Client) getAddNameSql() string {
	return fmt.Sprintf(`ALTER TABLE %s ADD COLUMN name TEXT;`, c.cfg.SchemaTable)
}

func (c *Sqlite3Client) getAddMd5Sql() string {
	return fmt.Sprintf(`ALTER TABLE %s ADD COLUMN md5 TEXT;`, c.cfg.SchemaTable)
}

// getAddRunAtSql uses TEXT since SQLite has no dedicated TIMESTAMP type.
func (c *Sqlite3Client) getAddRunAtSql() string {
	return fmt.Sprintf(`ALTER TABLE %s ADD COLUMN run_at TEXT;`, c.cfg.SchemaTable)
}
