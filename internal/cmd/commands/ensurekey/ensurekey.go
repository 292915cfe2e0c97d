package ensurekey

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"

	"github.com/tildeworks/steward/internal/cmd/base"
	"github.com/tildeworks/steward/internal/config"
	"github.com/tildeworks/steward/pkg/keyvault"
)

type Command struct {
	*base.Command

	flagConfig  string
	flagName    string
	flagPayload string
	flagFresh   bool
}

func (c *Command) Synopsis() string {
	return "Ensure a single live key exists under a name"
}

func (c *Command) Help() string {
	return `Usage: steward ensure-key -config=<path> -name=<name> [options]

  Reconciles the key service so exactly one key exists under the given
  name. Stale duplicates are deleted; the newest record wins. When no key
  exists, one is created from the payload.

Options:

  -config=<path>   (Required) Path to the steward config file.
  -name=<name>     (Required) Key name to reconcile.
  -payload=<json>  JSON payload for a newly created key.
  -fresh           Delete any existing key and create a new one.`
}

func (c *Command) flags() *flag.FlagSet {
	f := flag.NewFlagSet("ensure-key", flag.ContinueOnError)
	f.StringVar(&c.flagConfig, "config", "", "path to config file")
	f.StringVar(&c.flagName, "name", "", "key name")
	f.StringVar(&c.flagPayload, "payload", "{}", "JSON payload for a new key")
	f.BoolVar(&c.flagFresh, "fresh", false, "always create a fresh key")
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
	if c.flagName == "" {
		c.UI.Error("name flag is required")
		return 1
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(c.flagPayload), &payload); err != nil {
		c.UI.Error(fmt.Sprintf("payload is not valid JSON: %v", err))
		return 1
	}

	cfg, err := config.NewConfig(c.flagConfig)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error parsing config file: %v", err))
		return 1
	}

	ctx := context.Background()
	log := c.Log.Named("keyvault")

	tokens, err := cfg.Keyvault.TokenSource(log)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error building token source: %v", err))
		return 1
	}
	token, err := tokens.Token(ctx)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error acquiring key service token: %v", err))
		return 1
	}

	client, err := keyvault.NewClient(
		cfg.Keyvault.RemoteConfig().WithToken(token),
		cfg.Keyvault.InstanceID,
		log,
	)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error creating key service client: %v", err))
		return 1
	}

	manager := keyvault.NewManager(client, log)

	var id string
	if c.flagFresh {
		id, err = manager.CreateKey(ctx, c.flagName, payload)
	} else {
		id, err = manager.EnsureKey(ctx, c.flagName, payload)
	}
	if err != nil {
		c.UI.Error(fmt.Sprintf("error reconciling key %q: %v", c.flagName, err))
		return 1
	}

	c.UI.Output(id)
	return 0
}
