package cmd

import (
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/tildeworks/steward/internal/cmd/base"
	"github.com/tildeworks/steward/internal/cmd/commands/ensurekey"
	"github.com/tildeworks/steward/internal/cmd/commands/ensureuser"
	"github.com/tildeworks/steward/internal/cmd/commands/setup"
	versioncmd "github.com/tildeworks/steward/internal/cmd/commands/version"
)

// Commands is the mapping of all available CLI commands.
var Commands map[string]cli.CommandFactory

func initCommands(log hclog.Logger, ui cli.Ui) {
	baseCommand := base.NewCommand(log, ui)

	Commands = map[string]cli.CommandFactory{
		"ensure-key": func() (cli.Command, error) {
			return &ensurekey.Command{Command: baseCommand}, nil
		},
		"ensure-user": func() (cli.Command, error) {
			return &ensureuser.Command{Command: baseCommand}, nil
		},
		"setup": func() (cli.Command, error) {
			return &setup.Command{Command: baseCommand}, nil
		},
		"version": func() (cli.Command, error) {
			return &versioncmd.Command{Command: baseCommand}, nil
		},
	}
}
