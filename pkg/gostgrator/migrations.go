package gostgrator

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// Migration represents a single migration file.
type Migration struct {
	// Version of the migration.
	Version int

	// Action, e.g., "do" or "undo".
	Action string

	// Filename is the path to the migration file.
	Filename string

	// Name is an optional descriptive name of the migration.
	Name string

	// Md5 is the MD5 checksum of the migration file.
	Md5 string
}

// MigrationStatus reports whether a migration has been applied to the database.
type MigrationStatus struct {
	Version  int    `json:"version"`
	Name     string `json:"name"`
	Filename string `json:"fileName"`
	Applied  bool   `json:"applied"`
}

var newlineRe = regexp.MustCompile(`\r\n|\r|\n`)

// sortMigrationsAsc sorts migrations in ascending order based on version.
func sortMigrationsAsc(migs []Migration) {
	sort.SliceStable(migs, func(i, j int) bool {
		return migs[i].Version < migs[j].Version
	})
}

// sortMigrationsDesc sorts migrations in descending order based on version.
func sortMigrationsDesc(migs []Migration) {
	sort.SliceStable(migs, func(i, j int) bool {
		return migs[i].Version > migs[j].Version
	})
}

// convertLineEnding converts all newline variations in content to the target style.
func convertLineEnding(content, lineEnding string) (string, error) {
	var target string
	switch lineEnding {
	case "LF":
		target = "\n"
	case "CR":
		target = "\r"
	case "CRLF":
		target = "\r\n"
	default:
		return "", fmt.Errorf("newline must be one of: LF, CR, CRLF")
	}
	return newlineRe.ReplaceAllString(content, target), nil
}

// checksum computes the MD5 checksum of the content after converting line endings if set.
func checksum(content, lineEnding string) (string, error) {
	if lineEnding != "" {
		var err error
		content, err = convertLineEnding(content, lineEnding)
		if err != nil {
			return "", err
		}
	}
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:]), nil
}

// parseMigrationName splits "version.action[.name].sql".
func parseMigrationName(file string) (version int, action, name string, ok bool) {
	base := filepath.Base(file)
	if filepath.Ext(base) != ".sql" {
		return 0, "", "", false
	}
	parts := strings.Split(strings.TrimSuffix(base, ".sql"), ".")
	if len(parts) < 2 {
		return 0, "", "", false
	}
	version, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", "", false
	}
	if len(parts) > 2 {
		name = strings.Join(parts[2:], ".")
	}
	return version, parts[1], name, true
}

// GetMigrations scans for migration files matching the pattern and loads them.
func GetMigrations(fs afero.Fs, cfg Config) ([]Migration, error) {
	files, err := afero.Glob(fs, cfg.MigrationPattern)
	if err != nil {
		return nil, err
	}
	var migrations []Migration
	migrationKeys := make(map[string]struct{})
	for _, file := range files {
		version, action, name, ok := parseMigrationName(file)
		if !ok {
			continue
		}
		data, err := afero.ReadFile(fs, file)
		if err != nil {
			return nil, err
		}
		md5sum, err := checksum(string(data), cfg.Newline)
		if err != nil {
			return nil, err
		}
		mig := Migration{
			Version:  version,
			Action:   action,
			Filename: file,
			Name:     name,
			Md5:      md5sum,
		}
		key := fmt.Sprintf("%d:%s", mig.Version, mig.Action)
		if _, exists := migrationKeys[key]; exists {
			return nil, fmt.Errorf("duplicate migration for version %d and action %s", mig.Version, mig.Action)
		}
		migrationKeys[key] = struct{}{}
		migrations = append(migrations, mig)
	}
	sortMigrationsAsc(migrations)
	return migrations, nil
}
