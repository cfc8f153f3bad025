// Package cli parses the ledger binary's subcommands.
package cli

import (
	"errors"
	"fmt"
	"strconv"
)

// Command names accepted by the ledger binary.
const (
	CmdServe   = "serve"
	CmdMigrate = "migrate"
	CmdJobs    = "jobs"
)

// Command is a parsed invocation.
type Command struct {
	Name string
	// Direction is "up" or "down" for migrate.
	Direction string
	Steps     int
	// Action is "trigger" or "stats" for jobs.
	Action string
	Target string
}

// ErrUsage is returned for malformed invocations.
var ErrUsage = errors.New(`usage: ledger [serve] | migrate [up|down N] | jobs trigger <task> | jobs stats [queue]`)

// Parse interprets os.Args[1:].
func Parse(args []string) (Command, error) {
	if len(args) == 0 {
		return Command{Name: CmdServe}, nil
	}
	switch args[0] {
	case CmdServe:
		if len(args) > 1 {
			return Command{}, ErrUsage
		}
		return Command{Name: CmdServe}, nil
	case CmdMigrate:
		return parseMigrate(args[1:])
	case CmdJobs:
		return parseJobs(args[1:])
	default:
		return Command{}, fmt.Errorf("unknown command %q: %w", args[0], ErrUsage)
	}
}

func parseMigrate(args []string) (Command, error) {
	cmd := Command{Name: CmdMigrate, Direction: "up"}
	if len(args) == 0 {
		return cmd, nil
	}
	switch args[0] {
	case "up":
		if len(args) > 1 {
			return Command{}, ErrUsage
		}
		return cmd, nil
	case "down":
		if len(args) != 2 {
			return Command{}, ErrUsage
		}
		steps, err := strconv.Atoi(args[1])
		if err != nil || steps <= 0 {
			return Command{}, fmt.Errorf("invalid step count %q: %w", args[1], ErrUsage)
		}
		cmd.Direction = "down"
		cmd.Steps = steps
		return cmd, nil
	default:
		return Command{}, ErrUsage
	}
}

func parseJobs(args []string) (Command, error) {
	if len(args) == 0 {
		return Command{}, ErrUsage
	}
	switch args[0] {
	case "trigger":
		if len(args) != 2 {
			return Command{}, ErrUsage
		}
		return Command{Name: CmdJobs, Action: "trigger", Target: args[1]}, nil
	case "stats":
		cmd := Command{Name: CmdJobs, Action: "stats"}
		if len(args) > 2 {
			return Command{}, ErrUsage
		}
		if len(args) == 2 {
			cmd.Target = args[1]
		}
		return cmd, nil
	default:
		return Command{}, ErrUsage
	}
}
