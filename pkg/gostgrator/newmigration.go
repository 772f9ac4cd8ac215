package gostgrator

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
)

var nonAlnumRe = regexp.MustCompile("[^a-z0-9]+")

// CreateMigration creates a new pair of migration files (do/undo) and returns their paths.
// description: a human-readable description that will be kebab-cased for the filename.
// mode: "int" for integer increment (default) or "timestamp" to use the Unix timestamp.
func CreateMigration(fs afero.Fs, cfg Config, description string, mode string) ([]string, error) {
	migFolder := filepath.Dir(cfg.MigrationPattern)
	if err := fs.MkdirAll(migFolder, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create migration folder %s: %w", migFolder, err)
	}

	var nextNumber string
	if strings.ToLower(mode) == "timestamp" {
		nextNumber = strconv.FormatInt(time.Now().Unix(), 10)
	} else {
		files, err := afero.Glob(fs, cfg.MigrationPattern)
		if err != nil {
			return nil, fmt.Errorf("failed to scan migration files: %w", err)
		}
		max := 0
		for _, file := range files {
			parts := strings.Split(filepath.Base(file), ".")
			if len(parts) < 2 {
				continue
			}
			num, err := strconv.Atoi(parts[0])
			if err != nil {
				continue
			}
			if num > max {
				max = num
			}
		}
		// Use triple zero-padded integer.
		nextNumber = fmt.Sprintf("%03d", max+1)
	}

	suffix := ".sql"
	if kebab := kebabCase(description); kebab != "" {
		suffix = "." + kebab + ".sql"
	}
	doFilePath := filepath.Join(migFolder, nextNumber+".do"+suffix)
	undoFilePath := filepath.Join(migFolder, nextNumber+".undo"+suffix)

	for _, f := range []struct {
		path    string
		content string
	}{
		{doFilePath, "-- Write your migration SQL here\n"},
		{undoFilePath, "-- Write your rollback SQL here\n"},
	} {
		exists, err := afero.Exists(fs, f.path)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("migration file %s already exists", f.path)
		}
		if err := afero.WriteFile(fs, f.path, []byte(f.content), os.FileMode(0o644)); err != nil {
			return nil, fmt.Errorf("failed to create migration file %s: %w", f.path, err)
		}
	}
	return []string{doFilePath, undoFilePath}, nil
}

// kebabCase converts a string to kebab-case.
func kebabCase(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonAlnumRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
