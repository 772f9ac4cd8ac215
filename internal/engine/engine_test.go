package engine

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcomnes/dbchanges/internal/project"
	"github.com/bcomnes/dbchanges/pkg/gostgrator"
)

func TestDataSource(t *testing.T) {
	cases := []struct {
		name       string
		cfg        gostgrator.Config
		wantDriver string
		wantDSN    string
	}{
		{
			name:       "pg url without database path",
			cfg:        gostgrator.Config{Driver: "pg", Conn: "postgres://localhost:5432/?sslmode=disable", Database: "orders"},
			wantDriver: "pgx",
			wantDSN:    "postgres://localhost:5432/orders?sslmode=disable",
		},
		{
			name:       "pg url with database path",
			cfg:        gostgrator.Config{Driver: "pg", Conn: "postgres://localhost/billing", Database: "orders"},
			wantDriver: "pgx",
			wantDSN:    "postgres://localhost/billing",
		},
		{
			name:       "pg key value",
			cfg:        gostgrator.Config{Driver: "pg", Conn: "host=localhost sslmode=disable", Database: "orders"},
			wantDriver: "pgx",
			wantDSN:    "host=localhost sslmode=disable dbname=orders",
		},
		{
			name:       "sqlite3 relative file",
			cfg:        gostgrator.Config{Driver: "sqlite3", Conn: "data/orders.db"},
			wantDriver: "sqlite3",
			wantDSN:    filepath.Join("/root/orders", "data/orders.db"),
		},
		{
			name:       "sqlite default file from database",
			cfg:        gostgrator.Config{Driver: "sqlite", Database: "orders"},
			wantDriver: "sqlite",
			wantDSN:    filepath.Join("/root/orders", "orders.db"),
		},
		{
			name:       "sqlite memory uri untouched",
			cfg:        gostgrator.Config{Driver: "sqlite3", Conn: "file:dry_run?mode=memory&cache=shared"},
			wantDriver: "sqlite3",
			wantDSN:    "file:dry_run?mode=memory&cache=shared",
		},
		{
			name:       "sqlite relative uri",
			cfg:        gostgrator.Config{Driver: "sqlite3", Conn: "file:data/orders.db?_fk=1"},
			wantDriver: "sqlite3",
			wantDSN:    "file:" + filepath.Join("/root/orders", "data/orders.db") + "?_fk=1",
		},
		{
			name:       "sqlite relative uri without parameters",
			cfg:        gostgrator.Config{Driver: "sqlite", Conn: "file:orders.db"},
			wantDriver: "sqlite",
			wantDSN:    "file:" + filepath.Join("/root/orders", "orders.db"),
		},
		{
			name:       "sqlite absolute uri untouched",
			cfg:        gostgrator.Config{Driver: "sqlite3", Conn: "file:/var/lib/orders.db?_fk=1"},
			wantDriver: "sqlite3",
			wantDSN:    "file:/var/lib/orders.db?_fk=1",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			driver, dsn, err := DataSource(tc.cfg, "/root/orders")
			require.NoError(t, err)
			assert.Equal(t, tc.wantDriver, driver)
			assert.Equal(t, tc.wantDSN, dsn)
		})
	}
}

func TestDataSourceErrors(t *testing.T) {
	for _, cfg := range []gostgrator.Config{
		{Driver: "pg"},
		{Driver: "sqlite3"},
		{Driver: "oracle", Conn: "x"},
	} {
		_, _, err := DataSource(cfg, "/root/orders")
		assert.Error(t, err, cfg.Driver)
	}
}

func TestRedact(t *testing.T) {
	cases := map[string]string{
		"postgres://app:secret@db:5432/orders":               "postgres://app:xxxxx@db:5432/orders",
		"postgres://db/orders":                               "postgres://db/orders",
		"postgres://db:5432/orders?user=app&password=secret": "postgres://db:5432/orders?password=xxxxx&user=app",
		"host=db user=app password=secret sslmode=disable":   "host=db user=app password=xxxxx sslmode=disable",
		"host=db password = 'se cret' dbname=orders":         "host=db password = xxxxx dbname=orders",
		"host=db sslpassword=keep":                           "host=db sslpassword=keep",
		"orders.db":                                          "orders.db",
	}
	for conn, want := range cases {
		got := Redact(conn)
		assert.Equal(t, want, got, conn)
		if strings.Contains(conn, "secret") {
			assert.NotContains(t, got, "secret", conn)
		}
	}
}

func TestReadConfigResolvesPattern(t *testing.T) {
	fs := afero.NewMemMapFs()
	p := project.Project{Name: "orders", Dir: "/root/orders"}
	require.NoError(t, afero.WriteFile(fs, p.ConfigPath(), []byte(`{"driver":"sqlite3"}`), 0o644))

	cfg, err := New(fs).ReadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, "/root/orders/migrations/*.sql", cfg.MigrationPattern)
}

func TestCreateScriptUsesProjectMode(t *testing.T) {
	fs := afero.NewMemMapFs()
	p := project.Project{Name: "orders", Dir: "/root/orders"}
	e := New(fs)
	require.NoError(t, e.InitConfig(p))

	created, err := e.CreateScript(p, "add users")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/root/orders/migrations/001.do.add-users.sql",
		"/root/orders/migrations/001.undo.add-users.sql",
	}, created)
}

func TestSqliteSession(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewOsFs()
	p := project.Project{Name: "orders", Dir: t.TempDir()}
	e := New(fs)

	require.NoError(t, afero.WriteFile(fs, p.ConfigPath(), []byte(`{"driver":"sqlite3","database":"orders"}`), 0o644))
	created, err := e.CreateScript(p, "create users")
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, created[0], []byte("CREATE TABLE users (id INTEGER PRIMARY KEY);"), 0o644))
	require.NoError(t, afero.WriteFile(fs, created[1], []byte("DROP TABLE users;"), 0o644))

	s, err := e.Connect(ctx, p)
	require.NoError(t, err)
	defer s.Close()

	applied, err := s.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"001.do.create-users.sql"}, applied)

	status, err := s.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status, 1)
	assert.True(t, status[0].Applied)

	reverted, err := s.Down(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"001.undo.create-users.sql"}, reverted)

	exists, err := afero.Exists(fs, filepath.Join(p.Dir, "orders.db"))
	require.NoError(t, err)
	assert.True(t, exists, "database file is created inside the project directory")
}
