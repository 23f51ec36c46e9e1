// ABOUTME: Launches the full-screen review interface
// ABOUTME: Falls back to the plain queue listing when stdout is not a terminal
package cli

import (
	"flag"
	"os"

	"golang.org/x/term"

	"github.com/harperreed/rolodex/tui"
)

// TUICommand opens the review queue, contacts and sync tabs.
func TUICommand(app *App, args []string) error {
	fs := flag.NewFlagSet("tui", flag.ContinueOnError)
	fs.SetOutput(app.out())
	accountsFlag := fs.String("accounts", "", "Accounts to show in the sync tab (comma separated)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return QueueListCommand(app, nil)
	}

	app.Log.Debug().Msg("starting tui")
	return tui.Run(app.Service, app.Engine, app.owner(), parseAccounts(*accountsFlag))
}
