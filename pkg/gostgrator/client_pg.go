package gostgrator

import (
	"database/sql"
	"fmt"
	"strings"
)

// PostgresClient implements Client for PostgreSQL.
type PostgresClient struct {
	baseClient
}

// NewPostgresClient creates a new PostgresClient.
func NewPostgresClient(cfg Config, db *sql.DB) *PostgresClient {
	c := &PostgresClient{
		baseClient: baseClient{
			cfg: cfg,
			db:  db,
		},
	}
	c.quotedSchemaTableFn = c.quotedSchemaTable
	c.getColumnsSqlFn = c.getColumnsSql
	c.getAddNameSqlFn = c.getAddNameSql
	c.getAddMd5SqlFn = c.getAddMd5Sql
	c.getAddRunAtSqlFn = c.getAddRunAtSql
	return c
}

// quotedSchemaTable returns the schema table name with each part quoted.
func (c *PostgresClient) quotedSchemaTable() string {
	parts := strings.Split(c.cfg.SchemaTable, ".")
	for i, part := range parts {
		parts[i] = fmt.Sprintf(`"%s"`, part)
	}
	return strings.Join(parts, ".")
}

// getColumnsSql returns SQL to list columns for the version table in Postgres.
func (c *PostgresClient) getColumnsSql() string {
	schema, table := "public", c.cfg.SchemaTable
	if c.cfg.CurrentSchema != "" {
		schema = c.cfg.CurrentSchema
	}
	if strings.Contains(c.cfg.SchemaTable, ".") {
		parts := strings.SplitN(c.cfg.SchemaTable, ".", 2)
		schema, table = parts[0], parts[1]
	}
	return fmt.Sprintf(`SELECT column_name FROM information_schema.columns WHERE table_schema = '%s' AND table_name = '%s';`, schema, table)
}

func (c *PostgresClient) getAddNameSql() string {
	return fmt.Sprintf(`ALTER TABLE %s ADD COLUMN name TEXT;`, c.quotedSchemaTable())
}

func (c *PostgresClient) getAddMd5Sql() string {
	return fmt.Sprintf(`ALTER TABLE %s ADD COLUMN md5 TEXT;`, c.quotedSchemaTable())
}

func (c *PostgresClient) getAddRunAtSql() string {
	return fmt.Sprintf(`ALTER TABLE %s ADD COLUMN run_at TIMESTAMP;`, c.quotedSchemaTable())
}
