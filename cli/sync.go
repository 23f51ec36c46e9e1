// ABOUTME: Directory sync CLI commands
// ABOUTME: OAuth setup per account, one-shot and scheduled syncs, state and history
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/oauth2"

	"github.com/harperreed/rolodex/apperr"
	"github.com/harperreed/rolodex/models"
)

// minDaemonInterval keeps scheduled syncs from hammering the People API.
const minDaemonInterval = 5 * time.Minute

// SyncInitCommand runs the OAuth flow for one account and stores its token.
func SyncInitCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("sync init", flag.ContinueOnError)
	fs.SetOutput(app.out())
	account := fs.String("account", "", "Google account email (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	accountEmail, err := models.ValidateEmail(*account)
	if err != nil {
		return fmt.Errorf("--account: %w", err)
	}
	if app.OAuth == nil || app.OAuth.ClientID == "" || app.OAuth.ClientSecret == "" {
		return fmt.Errorf("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set")
	}

	ctx := context.Background()
	state := ulid.Make().String()
	authURL := app.OAuth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("login_hint", accountEmail))

	app.printf("Opening browser for Google OAuth...\n")
	app.printf("\nIf browser doesn't open, visit this URL:\n%s\n\n", authURL)
	_ = openBrowser(authURL)

	token, err := awaitOAuthCallback(ctx, app.OAuth, state)
	if err != nil {
		return fmt.Errorf("OAuth flow failed: %w", err)
	}

	if err := app.Tokens.Save(app.owner(), accountEmail, token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	app.printf("\n✓ Authenticated %s\n", accountEmail)
	app.printf("✓ Token saved to %s\n\n", app.Tokens.Path(app.owner(), accountEmail))
	app.printf("Ready to sync! Run 'rolodex sync run --account %s' to import contacts.\n", accountEmail)
	return nil
}

// awaitOAuthCallback serves the redirect URL until the provider calls back
// with a code, then exchanges it.
func awaitOAuthCallback(ctx context.Context, config *oauth2.Config, state string) (*oauth2.Token, error) {
	redirect, err := url.Parse(config.RedirectURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URL: %w", err)
	}

	tokenChan := make(chan *oauth2.Token, 1)
	errChan := make(chan error, 1)
	fail := func(err error) {
		select {
		case errChan <- err:
		default:
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc(redirect.Path, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			fail(fmt.Errorf("state mismatch in OAuth callback"))
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			fail(fmt.Errorf("no authorization code received"))
			return
		}

		token, err := config.Exchange(ctx, code)
		if err != nil {
			http.Error(w, "exchange failed", http.StatusBadGateway)
			fail(fmt.Errorf("failed to exchange code: %w", err))
			return
		}

		select {
		case tokenChan <- token:
		default:
		}
		_, _ = fmt.Fprintf(w, "Authorization successful! You can close this window.")
	})

	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", redirect.Host, err)
	}
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fail(err)
		}
	}()
	defer func() { _ = server.Shutdown(context.WithoutCancel(ctx)) }()

	select {
	case token := <-tokenChan:
		return token, nil
	case err := <-errChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SyncRunCommand syncs one or more accounts once.
func SyncRunCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("sync run", flag.ContinueOnError)
	fs.SetOutput(app.out())
	accounts := fs.String("account", "", "Account email, or several comma separated (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	list := parseAccounts(*accounts)
	if len(list) == 0 {
		return fmt.Errorf("--account is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	failed := 0
	for _, account := range list {
		if !app.syncAccount(ctx, account) {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d account(s) failed to sync", failed, len(list))
	}
	return nil
}

// syncAccount runs one sync and reports it. It returns false on failure.
func (a *App) syncAccount(ctx context.Context, account string) bool {
	a.printf("Syncing %s...\n", account)
	res, err := a.Engine.Sync(ctx, a.owner(), account)
	if err != nil {
		a.printf("  ✗ %v\n", err)
		return false
	}

	a.printf("  → %s sync, %d page(s), %d record(s)\n", res.Mode, res.Pages, res.Fetched)
	a.printf("  created %d, updated %d, unchanged %d, removed %d, skipped %d\n",
		res.Created, res.Updated, res.Unchanged, res.Removed, res.Skipped)
	if res.Status != models.SyncCompleted {
		a.printf("  ✗ %s: %s\n", res.Status, res.Error)
		if res.Code == apperr.CodeCursorInvalidated {
			a.printf("  → Sync token expired; the next run will do a full sync\n")
		}
		return false
	}
	a.printf("  ✓ completed in %s\n", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	return true
}

// SyncStatusCommand shows the sync state of every account.
func SyncStatusCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("sync status", flag.ContinueOnError)
	fs.SetOutput(app.out())
	if err := fs.Parse(args); err != nil {
		return err
	}

	states, err := app.Engine.ListSyncStates(context.Background(), app.owner())
	if err != nil {
		return fmt.Errorf("failed to load sync state: %w", err)
	}
	if len(states) == 0 {
		app.printf("No accounts synced yet. Run 'rolodex sync init --account <email>' first.\n")
		return nil
	}

	w := app.table()
	_, _ = fmt.Fprintln(w, "ACCOUNT\tSTATUS\tCURSOR\tLAST FULL\tLAST INCREMENTAL\tERROR")
	_, _ = fmt.Fprintln(w, "-------\t------\t------\t---------\t----------------\t-----")
	for _, s := range states {
		cursor := "no"
		if s.SyncToken != nil && *s.SyncToken != "" {
			cursor = "yes"
		}
		errMsg := ""
		if s.ErrorMessage != nil {
			errMsg = *s.ErrorMessage
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.AccountEmail, s.SyncStatus, cursor, formatTime(s.LastFullSyncAt), formatTime(s.LastIncrementalSyncAt), dash(errMsg))
	}
	_ = w.Flush()
	return nil
}

// SyncHistoryCommand lists the state transitions of one account.
func SyncHistoryCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("sync history", flag.ContinueOnError)
	fs.SetOutput(app.out())
	account := fs.String("account", "", "Account email (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *account == "" {
		return fmt.Errorf("--account is required")
	}

	history, err := app.Engine.History(context.Background(), app.owner(), *account)
	if err != nil {
		return fmt.Errorf("failed to load sync history: %w", err)
	}
	if len(history) == 0 {
		app.printf("No sync history for %s\n", *account)
		return nil
	}

	w := app.table()
	_, _ = fmt.Fprintln(w, "TIME\tRUN\tMODE\tFROM\tTO\tERROR")
	_, _ = fmt.Fprintln(w, "----\t---\t----\t----\t--\t-----")
	for _, h := range history {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			h.CreatedAt.Local().Format("2006-01-02 15:04:05"), h.RunID, dash(string(h.Mode)), h.FromStatus, h.ToStatus, dash(h.ErrorMessage))
	}
	_ = w.Flush()
	return nil
}

// SyncDaemonCommand syncs accounts on an interval until interrupted.
func SyncDaemonCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("sync daemon", flag.ContinueOnError)
	fs.SetOutput(app.out())
	accounts := fs.String("account", "", "Account email, or several comma separated (required)")
	interval := fs.Duration("interval", 15*time.Minute, "Time between syncs (minimum 5m)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	list := parseAccounts(*accounts)
	if len(list) == 0 {
		return fmt.Errorf("--account is required")
	}
	if err := validateInterval(*interval); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.printf("Syncing %s every %s (Ctrl+C to stop)\n", strings.Join(list, ", "), *interval)
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	runDaemon(ctx, app, list, ticker.C)
	app.printf("\n✓ Sync daemon stopped\n")
	return nil
}

// runDaemon syncs immediately and then on every tick until ctx is done.
func runDaemon(ctx context.Context, app *App, accounts []string, ticks <-chan time.Time) {
	syncAll := func() {
		for _, account := range accounts {
			if ctx.Err() != nil {
				return
			}
			app.syncAccount(ctx, account)
		}
	}

	syncAll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			syncAll()
		}
	}
}

func validateInterval(d time.Duration) error {
	if d < minDaemonInterval {
		return fmt.Errorf("interval must be at least %s, got %s", minDaemonInterval, d)
	}
	return nil
}

// parseAccounts splits a comma separated list and drops invalid addresses.
func parseAccounts(s string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, part := range splitList(s) {
		email, err := models.ValidateEmail(part)
		if err != nil || seen[email] {
			continue
		}
		seen[email] = true
		out = append(out, email)
	}
	return out
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// openBrowser attempts to open URL in default browser
func openBrowser(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start", url}
	default:
		cmd = "xdg-open"
		args = []string{url}
	}

	return exec.Command(cmd, args...).Start()
}
