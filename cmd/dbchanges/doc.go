// SPDX-License-Identifier: MIT

// Package main provides dbchanges, a command-line front end that runs the
// gostgrator migration engine over every project under a migrations root.
//
// # Install
//
//	go install github.com/bcomnes/dbchanges/cmd/dbchanges@latest
//
// # Synopsis
//
//	dbchanges [flags] <command> [project] [option]
//
// # Layout
//
// The migrations root (default ./db-changes) holds one directory per project.
// Each project carries a gostgrator.json and a migrations folder:
//
//	db-changes/
//	  orders/
//	    gostgrator.json
//	    migrations/001.do.create-orders.sql
//	    migrations/001.undo.create-orders.sql
//
// Files and hidden entries directly under the root are ignored.
//
// # Commands
//
//	up [project]             Apply pending migrations. Runs every project when none is named.
//	down <project>           Roll back the last applied migration.
//	status [project]         List applied and pending migrations. Runs every project when none is named.
//	config [project]         Print the resolved configuration with the password hidden.
//	create <project> [desc]  Scaffold a NNN.do/NNN.undo migration pair. Extra words form the description.
//	init <project>           Create the project directory with a default gostgrator.json
//	                         whose database is the project name.
//	dryrun <project> [x]     Apply migrations against the "dry_run" database on localhost,
//	                         or roll back the last one when a second argument is given.
//	                         The project config is restored afterwards.
//
// When several projects run, a failing project is logged and the rest still run.
//
// # Flags
//
//	--root string        Migrations root directory (default "db-changes").
//	--strict             Exit non-zero when anything fails.
//	--log-level string   debug, info, warn or error (default "info").
//	--timeout duration   Deadline for the whole invocation (default 10m).
//	--no-color           Disable coloured output.
//	--version            Print the dbchanges version.
//
// # Environment
//
// Every flag can be set with a DBCHANGES_ variable, for example
// DBCHANGES_ROOT=/srv/db-changes or DBCHANGES_STRICT=true. Flags given on the
// command line win.
//
// # Exit status
//
// dbchanges exits 0 even when commands fail, so existing scripts keep working.
// With --strict it exits 1 when an operation fails and 2 for usage errors such
// as an unknown command or a missing project name.
package main
