package setup

import (
	"context"
	"flag"
	"fmt"

	"github.com/tildeworks/steward/internal/cmd/base"
	"github.com/tildeworks/steward/internal/config"
	"github.com/tildeworks/steward/pkg/docstore"
)

type Command struct {
	*base.Command

	flagConfig   string
	flagDatabase string
}

func (c *Command) Synopsis() string {
	return "Bootstrap the document store for a tenant"
}

func (c *Command) Help() string {
	return `Usage: steward setup -config=<path> -database=<name>

  Creates the partitioned tenant database and its standard secondary
  indexes. Safe to re-run; existing databases and design documents are
  updated in place.

Options:

  -config=<path>    (Required) Path to the steward config file.
  -database=<name>  (Required) Database to create.`
}

func (c *Command) flags() *flag.FlagSet {
	f := flag.NewFlagSet("setup", flag.ContinueOnError)
	f.StringVar(&c.flagConfig, "config", "", "path to config file")
	f.StringVar(&c.flagDatabase, "database", "", "database name")
	return f
}

// standardViews are the secondary indexes every tenant database carries.
var standardViews = map[string]docstore.View{
	"by_name": {
		Map: "function(doc) { if (doc.name) { emit(doc.name, null); } }",
	},
	"by_type": {
		Map: "function(doc) { if (doc.type) { emit(doc.type, null); } }",
	},
}

func (c *Command) Run(args []string) int {
	if err := c.flags().Parse(args); err != nil {
		return 1
	}
	if c.flagConfig == "" {
		c.UI.Error("config flag is required")
		return 1
	}
	if c.flagDatabase == "" {
		c.UI.Error("database flag is required")
		return 1
	}

	cfg, err := config.NewConfig(c.flagConfig)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error parsing config file: %v", err))
		return 1
	}

	ctx := context.Background()
	log := c.Log.Named("docstore")

	tokens, err := cfg.Docstore.TokenSource(log)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error building token source: %v", err))
		return 1
	}
	token, err := tokens.Token(ctx)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error acquiring document store token: %v", err))
		return 1
	}

	client, err := docstore.NewClient(cfg.Docstore.RemoteConfig().WithToken(token), log)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error creating document store client: %v", err))
		return 1
	}

	if err := client.EnsureDatabase(ctx, c.flagDatabase); err != nil {
		c.UI.Error(fmt.Sprintf("error creating database %s: %v", c.flagDatabase, err))
		return 1
	}

	ddoc := docstore.DesignDocument{
		ID:    "_design/search",
		Views: standardViews,
	}
	ddoc.Options.Partitioned = true
	if err := client.EnsureDesignDocument(ctx, c.flagDatabase, ddoc); err != nil {
		c.UI.Error(fmt.Sprintf("error writing design document: %v", err))
		return 1
	}

	c.UI.Output(fmt.Sprintf("database %s ready", c.flagDatabase))
	return 0
}
