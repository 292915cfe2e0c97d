package version

import (
	"github.com/tildeworks/steward/internal/cmd/base"
	"github.com/tildeworks/steward/internal/version"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Print the version"
}

func (c *Command) Help() string {
	return `Usage: steward version

  Prints the steward version.`
}

func (c *Command) Run(args []string) int {
	c.UI.Output(version.Version)
	return 0
}
