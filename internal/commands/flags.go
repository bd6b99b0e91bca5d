// Package commands holds the CLI subcommands and the shared flag state
// populated by the root command's lifecycle hooks.
package commands

import (
	"github.com/Hexidecibel/companion/internal/core/config"
)

type Flags struct {
	LogLevel   string
	LogFile    string
	ConfigPath string
	LogRoot    string

	// Config is loaded in the Before hook and available to all commands
	Config *config.Config
}
