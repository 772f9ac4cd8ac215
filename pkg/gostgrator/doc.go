// SPDX-License-Identifier: MIT

// Package gostgrator is the SQL migration engine driven by dbchanges.
// It loads *.sql* migration files, tracks execution state in a table you
// choose, and moves a database forward or backward to any version.
//
// A thin client layer supplies SQL dialect differences for PostgreSQL
// ("pg", via pgx) and SQLite ("sqlite3" via mattn/go-sqlite3, "sqlite" via
// modernc.org/sqlite). File access goes through an afero.Fs so callers can
// run the engine against an in-memory filesystem.
//
// # Configuration
//
// Every project directory carries a gostgrator.json file read with
// LoadConfig on top of DefaultConfig:
//
//	{
//	  "driver": "pg",
//	  "conn": "postgres://localhost:5432/?sslmode=disable",
//	  "database": "orders",
//	  "schemaTable": "schemaversion",
//	  "migrationPattern": "migrations/*.sql",
//	  "validateChecksums": true,
//	  "mode": "int"
//	}
//
// InitConfig scaffolds that file with DatabasePlaceholder in place of the
// database name.
//
// # Migration files
//
// A migration *pair* is two files with the same version and name:
//
//	001.do.create_users.sql   // apply
//	001.undo.create_users.sql // roll back
//
// Versions may be plain integers (*001*, *002*, …) or Unix timestamps.
// CreateMigration scaffolds these files.
//
// # Programmatic API
//
//	NewGostgrator(cfg, db, opts...)  → *Gostgrator
//	(*Gostgrator).Migrate(ctx, v)    → []Migration, error
//	(*Gostgrator).Down(ctx, n)       → []Migration, error
//	(*Gostgrator).Status(ctx)        → []MigrationStatus, error
//	(*Gostgrator).GetMigrations()    → []Migration, error
//	(*Gostgrator).GetDatabaseVersion(ctx) → int, error
//
// All database operations are context-aware.
package gostgrator
