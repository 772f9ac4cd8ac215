// cli_integration_test.go
package integration

import (
	"bytes"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var cliBinary string

// Global variables for the PostgreSQL test databases.
var (
	testDBName = "dbchanges_cli_test"
	// dryRunDBName is the database dryrun points every PostgreSQL project at.
	dryRunDBName = "dry_run"
	// Base connection string for DSN-based connections used in TestMain.
	baseConnStr = "host=localhost port=5432 user=postgres sslmode=disable"
)

// TestMain sets up the test databases and builds the CLI binary before running
// tests, then cleans up afterward. It needs a local PostgreSQL server and only
// runs when DBCHANGES_PG_TESTS=1.
func TestMain(m *testing.M) {
	if os.Getenv("DBCHANGES_PG_TESTS") != "1" {
		fmt.Fprintln(os.Stderr, "skipping PostgreSQL integration tests; set DBCHANGES_PG_TESTS=1 to run them")
		os.Exit(0)
	}

	// === Set up Test Databases ===
	defaultConn := baseConnStr + " dbname=postgres"
	db, err := sql.Open("pgx", defaultConn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to postgres: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err = db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to ping postgres: %v\n", err)
		os.Exit(1)
	}
	for _, name := range []string{testDBName, dryRunDBName} {
		_, _ = db.Exec("DROP DATABASE IF EXISTS " + name)
		if _, err := db.Exec("CREATE DATABASE " + name); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create database %s: %v\n", name, err)
			os.Exit(1)
		}
	}

	// Wait briefly to ensure the new databases are ready.
	time.Sleep(1 * time.Second)

	// === Build CLI Binary ===
	binaryPath := filepath.Join(os.TempDir(), "dbchanges-integration")
	buildCmd := exec.Command("go", "build", "-o", binaryPath, "../")
	buildCmd.Stdout = os.Stdout
	buildCmd.Stderr = os.Stderr
	if err := buildCmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to build CLI binary: %v\n", err)
		os.Exit(1)
	}
	cliBinary = binaryPath

	// === Run Tests ===
	code := m.Run()

	// === Tear Down Test Databases ===
	for _, name := range []string{testDBName, dryRunDBName} {
		_, err = db.Exec(fmt.Sprintf("SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname='%s'", name))
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not terminate connections: %v\n", err)
		}
		if _, err := db.Exec("DROP DATABASE IF EXISTS " + name); err != nil {
			fmt.Fprintf(os.Stderr, "failed to drop database %s: %v\n", name, err)
		}
	}

	os.Remove(cliBinary)
	os.Exit(code)
}

// helperRun runs the built CLI binary with the provided arguments and extra environment variables.
func helperRun(args []string, extraEnv ...string) (string, error) {
	cmd := exec.Command(cliBinary, args...)
	cmd.Env = append(os.Environ(), "PGUSER=postgres")
	cmd.Env = append(cmd.Env, extraEnv...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// tableExists returns true if the given table exists in the named database.
func tableExists(t *testing.T, dbName, table string) bool {
	t.Helper()
	db, err := sql.Open("pgx", baseConnStr+" dbname="+dbName)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var exists bool
	q := `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)`
	if err := db.QueryRow(q, table).Scan(&exists); err != nil {
		t.Fatal(err)
	}
	return exists
}

// makeProject creates a PostgreSQL project with one migration pair under a fresh root.
func makeProject(t *testing.T) (root, cfgPath string) {
	t.Helper()
	root = t.TempDir()
	dir := filepath.Join(root, "orders")
	if err := os.MkdirAll(filepath.Join(dir, "migrations"), 0o755); err != nil {
		t.Fatal(err)
	}
	cfgPath = filepath.Join(dir, "gostgrator.json")
	cfg := `{
  "driver": "pg",
  "conn": "postgres://postgres@localhost:5432/?sslmode=disable",
  "database": "` + testDBName + `",
  "schemaTable": "schemaversion"
}
`
	files := map[string]string{
		cfgPath: cfg,
		filepath.Join(dir, "migrations", "001.do.create-users.sql"):   "CREATE TABLE users (id serial PRIMARY KEY, name text);",
		filepath.Join(dir, "migrations", "001.undo.create-users.sql"): "DROP TABLE users;",
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root, cfgPath
}

// TestCLIPostgresLifecycle runs dryrun, up, status and down against PostgreSQL.
func TestCLIPostgresLifecycle(t *testing.T) {
	root, cfgPath := makeProject(t)
	before, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatal(err)
	}

	out, err := helperRun([]string{"--strict", "--root", root, "dryrun", "orders"})
	if err != nil {
		t.Fatalf("dryrun failed: %v; output: %s", err, out)
	}
	after, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Errorf("expected config restored after dry run, got:\n%s", after)
	}
	if !tableExists(t, dryRunDBName, "users") {
		t.Errorf("expected dry run to migrate the %s database", dryRunDBName)
	}
	if tableExists(t, testDBName, "users") {
		t.Errorf("expected dry run to leave %s untouched", testDBName)
	}

	out, err = helperRun([]string{"--strict", "--root", root, "up"})
	if err != nil {
		t.Fatalf("up failed: %v; output: %s", err, out)
	}
	if !strings.Contains(out, "Migrated: 001.do.create-users.sql") {
		t.Errorf("expected migration output, got:\n%s", out)
	}
	if !tableExists(t, testDBName, "users") {
		t.Errorf("expected users table after up")
	}

	out, err = helperRun([]string{"--strict", "--root", root, "status"})
	if err != nil {
		t.Fatalf("status failed: %v; output: %s", err, out)
	}
	if !strings.Contains(out, "applied  001.do.create-users.sql") {
		t.Errorf("expected applied status, got:\n%s", out)
	}

	out, err = helperRun([]string{"--strict", "--root", root, "down", "orders"})
	if err != nil {
		t.Fatalf("down failed: %v; output: %s", err, out)
	}
	if !strings.Contains(out, "Migrated Down: 001.undo.create-users.sql") {
		t.Errorf("expected rollback output, got:\n%s", out)
	}
	if tableExists(t, testDBName, "users") {
		t.Errorf("expected users table dropped after down")
	}
}
