// Package dispatch routes dbchanges commands to the migration engine, one
// project at a time.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/bcomnes/dbchanges/internal/dryrun"
	"github.com/bcomnes/dbchanges/internal/engine"
	"github.com/bcomnes/dbchanges/internal/project"
	"github.com/bcomnes/dbchanges/pkg/gostgrator"
)

// Invocation is one parsed command line.
type Invocation struct {
	// Command is the raw command name.
	Command string
	// Project names a project directory; empty means every project for
	// commands that fan out.
	Project string
	// Option is the migration description for create; any non-empty value
	// selects rollback for dryrun.
	Option string
}

type handler func(ctx context.Context, inv Invocation) error

// Dispatcher runs commands against the projects under a migrations root.
// Projects are processed sequentially.
type Dispatcher struct {
	fs       afero.Fs
	resolver *project.Resolver
	engine   engine.Engine
	log      *slog.Logger
	out      io.Writer
	handlers map[Command]handler
}

// New returns a Dispatcher. Results are written to out and diagnostics to log.
func New(fs afero.Fs, root string, eng engine.Engine, log *slog.Logger, out io.Writer) *Dispatcher {
	d := &Dispatcher{
		fs:       fs,
		resolver: project.NewResolver(fs, root),
		engine:   eng,
		log:      log,
		out:      out,
	}
	d.handlers = map[Command]handler{
		CommandUp:     d.up,
		CommandDown:   d.down,
		CommandStatus: d.status,
		CommandConfig: d.config,
		CommandCreate: d.create,
		CommandInit:   d.initProject,
		CommandDryRun: d.dryRun,
	}
	return d
}

// Dispatch runs inv. Failures of commands that fan out are logged per
// project and returned aggregated; every other failure is logged once here.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation) error {
	cmd, err := ParseCommand(inv.Command)
	if err != nil {
		d.log.Error("unknown command", "command", inv.Command, "allowed", Vocabulary())
		return err
	}
	if !cmd.FansOut() && inv.Project == "" {
		err := fmt.Errorf("%s: %w", cmd, project.ErrProjectRequired)
		d.log.Error("command failed", "command", cmd.String(), "error", err)
		return err
	}
	err = d.handlers[cmd](ctx, inv)
	if err != nil && !cmd.FansOut() {
		d.log.Error("command failed", "command", cmd.String(), "project", inv.Project, "error", err)
	}
	return err
}

// each runs fn for every resolved project, logging failures and continuing.
func (d *Dispatcher) each(ctx context.Context, name string, fn func(context.Context, project.Project) error) error {
	projects, err := d.resolver.Resolve(name)
	if err != nil {
		d.log.Error("resolve projects", "root", d.resolver.Root(), "error", err)
		return err
	}
	var result *multierror.Error
	for _, p := range projects {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, err)
			break
		}
		d.warnStaleBackup(p)
		if err := fn(ctx, p); err != nil {
			d.log.Error("project failed", "project", p.Name, "error", err)
			result = multierror.Append(result, fmt.Errorf("%s: %w", p.Name, err))
		}
	}
	return result.ErrorOrNil()
}

func (d *Dispatcher) up(ctx context.Context, inv Invocation) error {
	return d.each(ctx, inv.Project, d.runMigration)
}

func (d *Dispatcher) down(ctx context.Context, inv Invocation) error {
	p, err := d.resolver.Lookup(inv.Project)
	if err != nil {
		return err
	}
	d.warnStaleBackup(p)
	return d.rollback(ctx, p)
}

func (d *Dispatcher) status(ctx context.Context, inv Invocation) error {
	return d.each(ctx, inv.Project, d.showStatus)
}

func (d *Dispatcher) config(ctx context.Context, inv Invocation) error {
	return d.each(ctx, inv.Project, d.showConfig)
}

func (d *Dispatcher) create(ctx context.Context, inv Invocation) error {
	p, err := d.resolver.Lookup(inv.Project)
	if err != nil {
		return err
	}
	d.log.Info("creating new migration file", "project", p.Name, "dir", p.Dir)
	created, err := d.engine.CreateScript(p, inv.Option)
	if err != nil {
		return err
	}
	for _, f := range created {
		d.printf(color.FgGreen, "Created: %s\n", f)
	}
	return nil
}

func (d *Dispatcher) initProject(ctx context.Context, inv Invocation) error {
	p, err := d.resolver.Lookup(inv.Project)
	if err != nil {
		return err
	}
	exists, err := afero.Exists(d.fs, p.Dir)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrProjectExists, p.Dir)
	}
	d.log.Info("initializing configuration", "project", p.Name, "dir", p.Dir)
	if err := d.fs.MkdirAll(p.Dir, 0o755); err != nil {
		return err
	}
	if err := d.engine.InitConfig(p); err != nil {
		return err
	}

	info, err := d.fs.Stat(p.ConfigPath())
	if err != nil {
		return err
	}
	data, err := afero.ReadFile(d.fs, p.ConfigPath())
	if err != nil {
		return err
	}
	name, err := jsonString(p.Name)
	if err != nil {
		return err
	}
	data = []byte(strings.Replace(string(data), gostgrator.DatabasePlaceholder, name, 1))
	if err := afero.WriteFile(d.fs, p.ConfigPath(), data, info.Mode().Perm()); err != nil {
		return err
	}

	entries, err := afero.ReadDir(d.fs, p.Dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		d.printf(color.FgGreen, "Created: %s\n", filepath.Join(p.Dir, e.Name()))
	}
	return nil
}

func (d *Dispatcher) dryRun(ctx context.Context, inv Invocation) error {
	p, err := d.resolver.Lookup(inv.Project)
	if err != nil {
		return err
	}
	d.log.Info("dry running migrations", "project", p.Name, "dir", p.Dir, "rollback", inv.Option != "")
	return dryrun.Run(ctx, d.fs, p.ConfigPath(), func(ctx context.Context) error {
		if inv.Option != "" {
			return d.rollback(ctx, p)
		}
		return d.runMigration(ctx, p)
	})
}

func (d *Dispatcher) runMigration(ctx context.Context, p project.Project) error {
	d.log.Info("running migrations", "project", p.Name, "dir", p.Dir)
	s, err := d.engine.Connect(ctx, p)
	if err != nil {
		return err
	}
	defer d.close(p, s)

	applied, err := s.Up(ctx)
	for _, name := range applied {
		d.printf(color.FgGreen, "Migrated: %s\n", name)
	}
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		d.log.Info("no pending migrations", "project", p.Name)
	}
	return nil
}

func (d *Dispatcher) rollback(ctx context.Context, p project.Project) error {
	d.log.Info("rolling back last migration", "project", p.Name, "dir", p.Dir)
	s, err := d.engine.Connect(ctx, p)
	if err != nil {
		return err
	}
	defer d.close(p, s)

	reverted, err := s.Down(ctx)
	for _, name := range reverted {
		d.printf(color.FgYellow, "Migrated Down: %s\n", name)
	}
	if err != nil {
		return err
	}
	if len(reverted) == 0 {
		d.log.Info("nothing to roll back", "project", p.Name)
	}
	return nil
}

func (d *Dispatcher) showStatus(ctx context.Context, p project.Project) error {
	d.log.Debug("migration status", "project", p.Name, "dir", p.Dir)
	s, err := d.engine.Connect(ctx, p)
	if err != nil {
		return err
	}
	defer d.close(p, s)

	status, err := s.Status(ctx)
	if err != nil {
		return err
	}
	d.printf(color.Bold, "## %s ##\n", p.Name)
	if len(status) == 0 {
		fmt.Fprintln(d.out, "No migrations")
		return nil
	}
	for _, st := range status {
		if st.Applied {
			d.printf(color.FgGreen, "  applied  %s\n", filepath.Base(st.Filename))
		} else {
			d.printf(color.FgYellow, "  pending  %s\n", filepath.Base(st.Filename))
		}
	}
	return nil
}

func (d *Dispatcher) showConfig(_ context.Context, p project.Project) error {
	cfg, err := d.engine.ReadConfig(p)
	if err != nil {
		return err
	}
	cfg.Conn = engine.Redact(cfg.Conn)
	d.printf(color.Bold, "## %s ##\n", p.Name)
	enc := json.NewEncoder(d.out)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

// warnStaleBackup flags a project whose config was left patched by an
// interrupted dry run.
func (d *Dispatcher) warnStaleBackup(p project.Project) {
	backup := p.ConfigPath() + dryrun.BackupSuffix
	if ok, _ := afero.Exists(d.fs, backup); ok {
		d.log.Warn("dry-run backup found; config may still point at the dry-run database",
			"project", p.Name, "backup", backup)
	}
}

// jsonString returns s escaped for use inside a JSON string literal.
func jsonString(s string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return "", err
	}
	quoted := strings.TrimSpace(buf.String())
	return quoted[1 : len(quoted)-1], nil
}

func (d *Dispatcher) close(p project.Project, s engine.Session) {
	if err := s.Close(); err != nil {
		d.log.Warn("close database", "project", p.Name, "error", err)
	}
}

func (d *Dispatcher) printf(attr color.Attribute, format string, args ...any) {
	color.New(attr).Fprintf(d.out, format, args...)
}
