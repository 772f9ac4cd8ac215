// Package dryrun points a project's engine configuration at a throwaway
// database for the duration of a migration run and restores it afterward.
package dryrun

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"
)

// BackupSuffix is appended to the config file name to form the backup path.
const BackupSuffix = ".orig"

// SentinelDatabase replaces the database name while patched.
const SentinelDatabase = "dry_run"

// ErrBackupExists is returned when a backup from an earlier run is still present.
var ErrBackupExists = errors.New("dry-run backup already exists")

// loopback holds the local connection address used per driver.
var loopback = map[string]string{
	"pg":      "postgres://localhost:5432/?sslmode=disable",
	"sqlite3": "file:" + SentinelDatabase + "?mode=memory&cache=shared",
	"sqlite":  "file:" + SentinelDatabase + "?mode=memory&cache=shared",
}

// LoopbackConn returns the connection address a dry run uses for driver.
func LoopbackConn(driver string) (string, error) {
	if driver == "" {
		driver = "pg"
	}
	conn, ok := loopback[strings.ToLower(driver)]
	if !ok {
		return "", fmt.Errorf("no dry-run connection for driver %q", driver)
	}
	return conn, nil
}

// Patch is an applied dry-run rewrite of a config file.
type Patch struct {
	fs       afero.Fs
	path     string
	backup   string
	restored bool
}

// Begin backs up the config file at path and rewrites its database and
// conn fields to dry-run values. Every other field is kept as raw JSON.
// Nothing is written if the file cannot be read or parsed.
func Begin(fs afero.Fs, path string) (*Patch, error) {
	backup := path + BackupSuffix
	exists, err := afero.Exists(fs, backup)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrBackupExists, backup)
	}

	info, err := fs.Stat(path)
	if err != nil {
		return nil, err
	}
	original, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	patched, err := patch(original)
	if err != nil {
		return nil, fmt.Errorf("patch %s: %w", path, err)
	}

	if err := afero.WriteFile(fs, backup, original, info.Mode().Perm()); err != nil {
		return nil, fmt.Errorf("write backup: %w", err)
	}
	p := &Patch{fs: fs, path: path, backup: backup}
	if err := afero.WriteFile(fs, path, patched, info.Mode().Perm()); err != nil {
		return nil, errors.Join(fmt.Errorf("write patched config: %w", err), p.Restore())
	}
	return p, nil
}

// Restore moves the backup over the config file, discarding anything written
// to it since Begin. Calling it again is a no-op.
func (p *Patch) Restore() error {
	if p.restored {
		return nil
	}
	if err := p.fs.Rename(p.backup, p.path); err != nil {
		return fmt.Errorf("restore %s from %s: %w", p.path, p.backup, err)
	}
	p.restored = true
	return nil
}

// Run patches the config file at path, calls fn and restores the original
// file on every exit path. If fn panics and the restore also fails, the
// re-raised panic value is an error carrying both.
func Run(ctx context.Context, fs afero.Fs, path string, fn func(context.Context) error) (err error) {
	p, err := Begin(fs, path)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			if rerr := p.Restore(); rerr != nil {
				panic(fmt.Errorf("%v: %w", r, rerr))
			}
			panic(r)
		}
		err = errors.Join(err, p.Restore())
	}()
	return fn(ctx)
}

func patch(data []byte) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("config is not a JSON object")
	}
	var driver string
	if raw, ok := fields["driver"]; ok {
		if err := json.Unmarshal(raw, &driver); err != nil {
			return nil, fmt.Errorf("driver: %w", err)
		}
	}
	conn, err := LoopbackConn(driver)
	if err != nil {
		return nil, err
	}
	if fields["database"], err = encode(SentinelDatabase); err != nil {
		return nil, err
	}
	if fields["conn"], err = encode(conn); err != nil {
		return nil, err
	}
	out, err := encode(fields)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, out, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// encode marshals v without escaping '&', '<' and '>' so connection URLs stay readable.
func encode(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
