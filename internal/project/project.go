// Package project resolves the project directories a dbchanges invocation operates on.
package project

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/bcomnes/dbchanges/pkg/gostgrator"
)

var (
	// ErrProjectRequired is returned when a command needs an explicit project.
	ErrProjectRequired = errors.New("no database specified")

	// ErrInvalidProjectName is returned for names that would escape the migrations root.
	ErrInvalidProjectName = errors.New("invalid project name")
)

// Project is a directory under the migrations root holding a config file and migration scripts.
type Project struct {
	Name string
	Dir  string
}

// ConfigPath returns the path of the project's engine configuration file.
func (p Project) ConfigPath() string {
	return filepath.Join(p.Dir, gostgrator.ConfigFile)
}

func (p Project) String() string {
	return p.Name
}

// Resolver maps project names to directories under a migrations root.
type Resolver struct {
	fs   afero.Fs
	root string
}

// NewResolver returns a Resolver for the given migrations root.
func NewResolver(fs afero.Fs, root string) *Resolver {
	return &Resolver{fs: fs, root: root}
}

// Root returns the migrations root.
func (r *Resolver) Root() string {
	return r.root
}

// Lookup returns the named project. The directory is not required to exist.
func (r *Resolver) Lookup(name string) (Project, error) {
	if name == "" {
		return Project{}, ErrProjectRequired
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return Project{}, fmt.Errorf("%w: %q", ErrInvalidProjectName, name)
	}
	return Project{Name: name, Dir: filepath.Join(r.root, name)}, nil
}

// Resolve returns the named project, or every project directory under the
// root in listing order when name is empty. Files and hidden entries are skipped.
func (r *Resolver) Resolve(name string) ([]Project, error) {
	if name != "" {
		p, err := r.Lookup(name)
		if err != nil {
			return nil, err
		}
		return []Project{p}, nil
	}
	entries, err := afero.ReadDir(r.fs, r.root)
	if err != nil {
		return nil, fmt.Errorf("read migrations root: %w", err)
	}
	var projects []Project
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		projects = append(projects, Project{Name: e.Name(), Dir: filepath.Join(r.root, e.Name())})
	}
	return projects, nil
}
