package main

import (
	"context"

	"github.com/urfave/cli/v3"
)

// Applicator defines the interface for the core application logic.
// This allows the CLI to be tested independently of the main app implementation.
type Applicator interface {
	Serve(ctx context.Context, cfgPath string) error
	Register(ctx context.Context, cfgPath, name, link string) error
	Sync(ctx context.Context, cfgPath, tenantName string, full bool) error
	Summary(ctx context.Context, cfgPath, tenantName string) error
}

// BuildCLI creates the full CLI command structure for the application.
// It injects the core application logic (the Applicator) into the command actions.
func BuildCLI(app Applicator) *cli.Command {
	// Define flags that are common across multiple commands.
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "config.yaml",
		Usage:   "path to the configuration file",
	}

	tenantFlag := &cli.StringFlag{
		Name:     "tenant",
		Aliases:  []string{"t"},
		Usage:    "the registered tenant name to operate on",
		Required: true,
	}

	// Define all application commands.
	serveCmd := &cli.Command{
		Name:  "serve",
		Usage: "Run the web server",
		Flags: []cli.Flag{configFlag},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.Serve(ctx, c.String("config"))
		},
	}

	registerCmd := &cli.Command{
		Name:  "register",
		Usage: "Register a tenant name with its Bitrix24 webhook link",
		Flags: []cli.Flag{
			configFlag,
			&cli.StringFlag{Name: "name", Usage: "the tenant name to register", Required: true},
			&cli.StringFlag{Name: "link", Usage: "the tenant's inbound webhook link", Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.Register(ctx, c.String("config"), c.String("name"), c.String("link"))
		},
	}

	syncCmd := &cli.Command{
		Name:  "sync",
		Usage: "Sync a tenant's contacts, companies and deals into the local mirror",
		Flags: []cli.Flag{
			configFlag,
			tenantFlag,
			&cli.BoolFlag{
				Name:  "full",
				Usage: "fetch everything instead of syncing incrementally from the local cursors",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.Sync(ctx, c.String("config"), c.String("tenant"), c.Bool("full"))
		},
	}

	summaryCmd := &cli.Command{
		Name:  "summary",
		Usage: "Print a tenant's summary aggregates",
		Flags: []cli.Flag{configFlag, tenantFlag},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.Summary(ctx, c.String("config"), c.String("tenant"))
		},
	}

	// Assemble the root command.
	rootCmd := &cli.Command{
		Name:     "gradation",
		Usage:    "A sync service mirroring Bitrix24 CRM data into a local database",
		Commands: []*cli.Command{serveCmd, registerCmd, syncCmd, summaryCmd},
	}

	return rootCmd
}
