// Package base carries the pieces shared by every CLI command.
package base

import (
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
)

// Command is embedded in every CLI command to provide the logger and UI.
type Command struct {
	Log hclog.Logger
	UI  cli.Ui
}

// NewCommand creates a base command.
func NewCommand(log hclog.Logger, ui cli.Ui) *Command {
	return &Command{
		Log: log,
		UI:  ui,
	}
}
