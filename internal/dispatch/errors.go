package dispatch

import (
	"errors"

	"github.com/bcomnes/dbchanges/internal/project"
)

var (
	// ErrUnknownCommand is returned for a command outside the fixed vocabulary.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrProjectExists is returned by init when the project directory is already present.
	ErrProjectExists = errors.New("directory already exists")
)

// IsUsageError reports whether err stems from how the tool was invoked
// rather than from an operation failing.
func IsUsageError(err error) bool {
	return errors.Is(err, ErrUnknownCommand) ||
		errors.Is(err, project.ErrProjectRequired) ||
		errors.Is(err, project.ErrInvalidProjectName)
}
