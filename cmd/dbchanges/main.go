package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/bcomnes/dbchanges/internal/config"
	"github.com/bcomnes/dbchanges/internal/dispatch"
	"github.com/bcomnes/dbchanges/internal/engine"
	"github.com/bcomnes/dbchanges/internal/logging"
	"github.com/bcomnes/dbchanges/pkg/gostgrator"
)

// Exit statuses used with --strict. Without it dbchanges always exits 0.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

var summaries = map[dispatch.Command]string{
	dispatch.CommandUp:     "Apply pending migrations for one project, or every project",
	dispatch.CommandDown:   "Roll back the last applied migration of a project",
	dispatch.CommandStatus: "Show applied and pending migrations for one project, or every project",
	dispatch.CommandConfig: "Print the resolved configuration for one project, or every project",
	dispatch.CommandCreate: "Scaffold a new migration pair in a project",
	dispatch.CommandInit:   "Create a project directory with a default configuration",
	dispatch.CommandDryRun: "Run a project's migrations against a throwaway database",
}

var usages = map[dispatch.Command]string{
	dispatch.CommandUp:     "up [project]",
	dispatch.CommandDown:   "down <project>",
	dispatch.CommandStatus: "status [project]",
	dispatch.CommandConfig: "config [project]",
	dispatch.CommandCreate: "create <project> [description...]",
	dispatch.CommandInit:   "init <project>",
	dispatch.CommandDryRun: "dryrun <project> [rollback]",
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type app struct {
	stdout io.Writer
	stderr io.Writer

	cfg    *config.Config
	d      *dispatch.Dispatcher
	cancel context.CancelFunc
	exit   int
}

// run executes one command line and returns the process exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if a.cancel != nil {
		a.cancel()
	}
	if err != nil {
		// Flag parsing and settings errors; dispatch failures are logged by the dispatcher.
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fmt.Fprintf(stderr, "Run '%s --help' for usage.\n", root.Name())
		strict, _ := root.PersistentFlags().GetBool("strict")
		if a.cfg != nil {
			strict = a.cfg.Strict
		}
		if strict {
			return exitUsage
		}
		return exitOK
	}
	return a.exit
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "dbchanges [command] [project] [option]",
		Short: "Run gostgrator migrations for every project under a migrations root",
		Long: `dbchanges manages one gostgrator project per directory under the migrations
root. up, status and config run against every project when none is named.

Commands: ` + dispatch.Vocabulary(),
		Version:           gostgrator.Version,
		Args:              cobra.ArbitraryArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) > 0 {
				name, args = args[0], args[1:]
			}
			return a.dispatch(cmd.Context(), invocation(name, args))
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	config.RegisterFlags(root.PersistentFlags())

	for _, c := range dispatch.Commands() {
		name := c.String()
		root.AddCommand(&cobra.Command{
			Use:   usages[c],
			Short: summaries[c],
			Args:  cobra.ArbitraryArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.dispatch(cmd.Context(), invocation(name, args))
			},
		})
	}
	return root
}

// setup loads settings and wires the dispatcher before any command runs.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg
	if cfg.NoColor {
		color.NoColor = true
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return fmt.Errorf("resolve migrations root: %w", err)
	}
	log := logging.New(a.stderr, cfg.LogLevel)
	fs := afero.NewOsFs()
	a.d = dispatch.New(fs, root, engine.New(fs), log, a.stdout)

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
	a.cancel = cancel
	cmd.SetContext(ctx)
	log.Debug("settings loaded", "root", root, "strict", cfg.Strict, "timeout", cfg.Timeout)
	return nil
}

func (a *app) dispatch(ctx context.Context, inv dispatch.Invocation) error {
	err := a.d.Dispatch(ctx, inv)
	if errors.Is(err, context.DeadlineExceeded) {
		fmt.Fprintf(a.stderr, "Error: timed out after %s\n", a.cfg.Timeout)
	}
	a.exit = exitCode(err, a.cfg.Strict)
	return nil
}

// invocation builds an Invocation from a command name and its positional
// arguments. Words after the project are joined into the option so that
// create accepts an unquoted description.
func invocation(name string, args []string) dispatch.Invocation {
	inv := dispatch.Invocation{Command: name}
	if len(args) > 0 {
		inv.Project = args[0]
	}
	if len(args) > 1 {
		inv.Option = strings.Join(args[1:], " ")
	}
	return inv
}

func exitCode(err error, strict bool) int {
	switch {
	case err == nil || !strict:
		return exitOK
	case dispatch.IsUsageError(err):
		return exitUsage
	default:
		return exitFailure
	}
}
