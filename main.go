// ABOUTME: Entry point for the rolodex MCP server and CLI
// ABOUTME: Loads config, builds the app and routes to MCP, CLI or TUI commands
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/harperreed/rolodex/cli"
	"github.com/harperreed/rolodex/config"
	"github.com/harperreed/rolodex/logging"
)

const version = "0.1.0"

type command func(app *cli.App, args []string) error

var subcommands = map[string]map[string]command{
	"contacts": {
		"observe": cli.ObserveCommand,
		"list":    cli.ListContactsCommand,
		"show":    cli.ShowContactCommand,
		"delete":  cli.DeleteContactCommand,
	},
	"queue": {
		"list":           cli.QueueListCommand,
		"approve":        cli.ApproveCommand,
		"reject":         cli.RejectCommand,
		"modify":         cli.ModifyCommand,
		"approve-domain": cli.ApproveDomainCommand,
	},
	"sync": {
		"init":    cli.SyncInitCommand,
		"run":     cli.SyncRunCommand,
		"status":  cli.SyncStatusCommand,
		"history": cli.SyncHistoryCommand,
		"daemon":  cli.SyncDaemonCommand,
	},
}

func main() {
	// Global flags
	showVersion := flag.Bool("version", false, "Show version and exit")
	configPath := flag.String("config", "", "Config file (default: ~/.config/rolodex/config.json)")
	dbPath := flag.String("db-path", "", "Database path (default: ~/.local/share/rolodex/rolodex.db)")

	// Parse global flags but don't fail on unknown (for subcommands)
	_ = flag.CommandLine.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("rolodex version %s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(0)
	}

	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.DatabasePath = *dbPath
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	run, rest, ok := route(args)
	if !ok {
		printUsage()
		os.Exit(1)
	}

	app, err := cli.NewApp(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}

	err = run(app, rest)
	app.Close()
	if err != nil {
		exit(log, err)
	}
}

// route resolves args to a command and its remaining arguments.
func route(args []string) (command, []string, bool) {
	name, rest := args[0], args[1:]

	switch name {
	case "mcp":
		return func(app *cli.App, _ []string) error { return cli.MCPCommand(app) }, rest, true
	case "tui":
		return cli.TUICommand, rest, true
	case "dashboard":
		return cli.DashboardCommand, rest, true
	case "observe":
		return cli.ObserveCommand, rest, true
	}

	group, ok := subcommands[name]
	if !ok {
		fmt.Printf("Unknown command: %s\n\n", name)
		return nil, nil, false
	}
	if len(rest) == 0 {
		fmt.Printf("Error: %s requires a subcommand\n\n", name)
		return nil, nil, false
	}
	run, ok := group[rest[0]]
	if !ok {
		fmt.Printf("Unknown %s command: %s\n\n", name, rest[0])
		return nil, nil, false
	}
	return run, rest[1:], true
}

func exit(log zerolog.Logger, err error) {
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	log.Debug().Err(err).Msg("command failed")
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func printUsage() {
	fmt.Printf(`rolodex v%s - Contact identity resolution and directory sync

USAGE:
  rolodex [global flags] <command> [subcommand] [flags]

GLOBAL FLAGS:
  --version              Show version and exit
  --config <path>        Config file (default: ~/.config/rolodex/config.json)
  --db-path <path>       Database path (default: ~/.local/share/rolodex/rolodex.db)

COMMANDS:
  mcp                    Start MCP server over stdio
  tui                    Interactive review queue, contacts and sync
  dashboard              Summary of contacts, review queue and sync
  observe                Shorthand for 'contacts observe'
  contacts               Contact commands
  queue                  Verification queue commands
  sync                   Directory sync commands

CONTACT COMMANDS:
  rolodex contacts observe   Record one sighting of a sender
    --email <email>            Sender address (required)
    --name <name>              Display name
    --org <org>                Organization
    --phone <list>             Phone numbers (comma separated)
    --subject <text>           Message subject
    --signature <text>         Signature block
    --message-id <id>          Message id; repeats are counted once
    --at <time>                Observed time (RFC3339, default: now)

  rolodex contacts list      List contacts
    --query <text>             Search email, name or organization
    --domain <domain>          Filter by domain
    --status <status>          unverified, pending, verified or rejected
    --type <type>              Filter by source type
    --limit <n>                Max results (default: 50)

  rolodex contacts show <id>    Show one contact and its directory links
  rolodex contacts delete <id>  Delete a contact

QUEUE COMMANDS:
  rolodex queue list         List queue items
    --status <status>          pending (default), approved, rejected, modified or all
    --domain <domain>          Filter by sender domain

  rolodex queue approve <queue-id> <contact-id>   Accept a suggestion
  rolodex queue reject <queue-id>                 Dismiss a suggestion
  rolodex queue modify [flags] <queue-id> <contact-id>
    --type <type>              Source type to apply
    --tags <list>              Tags to apply (comma separated)
    --reason <text>            Reasoning to record
    --confidence <n>           Confidence between 0 and 1
    Note: flags must come before the IDs

  rolodex queue approve-domain <domain>   Approve every pending item from a domain

SYNC COMMANDS:
  rolodex sync init --account <email>     Authorize a Google account
  rolodex sync run --account <list>       Sync now (full or incremental)
  rolodex sync status                     Show per-account sync state
  rolodex sync history --account <email>  Show recorded state transitions
  rolodex sync daemon --account <list>    Sync on an interval
    --interval <duration>      Time between syncs (default: 15m, min: 5m)

EXAMPLES:
  # Start MCP server for Claude Desktop
  rolodex mcp

  # Record a sender seen in an inbound message
  rolodex observe --email coach@teamsnap.com --name "Coach Sam" --message-id "<abc@mail>"

  # Review and approve everything from one school
  rolodex queue list --domain school.org
  rolodex queue approve-domain school.org

  # Authorize and sync a Google account
  rolodex sync init --account me@gmail.com
  rolodex sync run --account me@gmail.com

`, version)
}
