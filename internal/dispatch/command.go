package dispatch

import (
	"fmt"
	"strings"
)

// Command is one of the fixed dbchanges subcommands.
type Command int

const (
	CommandUp Command = iota + 1
	CommandDown
	CommandStatus
	CommandConfig
	CommandCreate
	CommandInit
	CommandDryRun
)

// commands lists every command in usage order.
var commands = []Command{CommandUp, CommandDown, CommandStatus, CommandConfig, CommandCreate, CommandInit, CommandDryRun}

var commandNames = map[Command]string{
	CommandUp:     "up",
	CommandDown:   "down",
	CommandStatus: "status",
	CommandConfig: "config",
	CommandCreate: "create",
	CommandInit:   "init",
	CommandDryRun: "dryrun",
}

// Commands returns every command in usage order.
func Commands() []Command {
	return append([]Command(nil), commands...)
}

// ParseCommand maps a command name to a Command.
func ParseCommand(name string) (Command, error) {
	for c, n := range commandNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
}

func (c Command) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// FansOut reports whether the command runs over every project when none is named.
func (c Command) FansOut() bool {
	switch c {
	case CommandUp, CommandStatus, CommandConfig:
		return true
	}
	return false
}

// Vocabulary renders the allowed command names, e.g. "[ up | down | ... ]".
func Vocabulary() string {
	names := make([]string, 0, len(commands))
	for _, c := range commands {
		names = append(names, c.String())
	}
	return "[ " + strings.Join(names, " | ") + " ]"
}
