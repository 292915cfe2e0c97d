package ensureuser

import (
	"context"
	"flag"
	"fmt"

	"github.com/tildeworks/steward/internal/cmd/base"
	"github.com/tildeworks/steward/internal/config"
	"github.com/tildeworks/steward/pkg/identity"
)

type Command struct {
	*base.Command

	flagConfig   string
	flagUsername string
	flagPassword string
}

func (c *Command) Synopsis() string {
	return "Ensure a directory account exists and is provisioned"
}

func (c *Command) Help() string {
	return `Usage: steward ensure-user -config=<path> -username=<email> -password=<pw>

  Ensures an account exists for the username with the given password,
  granted every available role and tagged with the tenant attribute. When
  the credentials already log in, nothing is changed.

Options:

  -config=<path>     (Required) Path to the steward config file.
  -username=<email>  (Required) Login username (primary email).
  -password=<pw>     (Required) Password for the account.`
}

func (c *Command) flags() *flag.FlagSet {
	f := flag.NewFlagSet("ensure-user", flag.ContinueOnError)
	f.StringVar(&c.flagConfig, "config", "", "path to config file")
	f.StringVar(&c.flagUsername, "username", "", "login username")
	f.StringVar(&c.flagPassword, "password", "", "account password")
	return f
}

func (c *Command) Run(args []string) int {
	if err := c.flags().Parse(args); err != nil {
		return 1
	}
	if c.flagConfig == "" {
		c.UI.Error("config flag is required")
		return 1
	}
	if c.flagUsername == "" || c.flagPassword == "" {
		c.UI.Error("username and password flags are required")
		return 1
	}

	cfg, err := config.NewConfig(c.flagConfig)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error parsing config file: %v", err))
		return 1
	}

	log := c.Log.Named("identity")

	tokens, err := cfg.Identity.TokenSource(log)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error building token source: %v", err))
		return 1
	}

	provisioner, err := identity.NewProvisioner(identity.ProvisionerOptions{
		Config:   cfg.Identity.RemoteConfig(),
		TenantID: cfg.Identity.TenantID,
		Tokens:   tokens,
		Attributes: map[string]string{
			"tenant": cfg.Identity.TenantID,
		},
	}, log)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error creating provisioner: %v", err))
		return 1
	}

	result, err := provisioner.EnsureUser(context.Background(), c.flagUsername, c.flagPassword)
	if err != nil {
		c.UI.Error(fmt.Sprintf(
			"error provisioning user %s (progress: %s): %v",
			c.flagUsername, result.State, err,
		))
		return 1
	}

	if result.Provisioned {
		c.UI.Output(fmt.Sprintf("provisioned user %s (id %s)", c.flagUsername, result.UserID))
	} else {
		c.UI.Output(fmt.Sprintf("user %s already provisioned", c.flagUsername))
	}
	return 0
}
