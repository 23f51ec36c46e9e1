// ABOUTME: Shared dependencies for CLI commands
// ABOUTME: Bundles config, database, services and the output writer
package cli

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/harperreed/rolodex/classify"
	"github.com/harperreed/rolodex/config"
	"github.com/harperreed/rolodex/db"
	"github.com/harperreed/rolodex/directory"
	"github.com/harperreed/rolodex/identity"
)

// App is what every command runs against. main builds one per process.
type App struct {
	Config  *config.Config
	DB      *sql.DB
	Service *identity.Service
	Engine  *directory.Engine
	Tokens  *directory.TokenStore
	OAuth   *oauth2.Config
	Log     zerolog.Logger
	Out     io.Writer

	closers []func()
}

// NewApp opens the database and wires the classifier, identity service and
// directory engine from cfg. Close releases everything it started.
func NewApp(cfg *config.Config, log zerolog.Logger) (*App, error) {
	database, err := db.OpenDatabase(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	app := &App{Config: cfg, DB: database, Log: log}
	app.closers = append(app.closers, func() { _ = database.Close() })

	var model classify.ModelClassifier
	var memo *classify.Memo
	if cfg.AIEnabled() {
		ai, err := classify.NewAIClassifier(
			classify.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL),
			classify.AIConfig{Model: cfg.LLMModel, Timeout: cfg.LLMTimeout, MaxInputChars: cfg.LLMMaxInputChars},
			log,
		)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to create AI classifier: %w", err)
		}
		model = ai
		memo = classify.NewMemo(cfg.ClassificationTTL, cfg.ClassificationMaxItems)
		go memo.Start()
		app.closers = append(app.closers, memo.Stop)
	} else {
		log.Debug().Msg("no OpenAI key configured, using quick classifier only")
	}

	pipeline := classify.NewPipeline(model, memo, log)
	app.Service = identity.NewService(database, pipeline, identity.Options{BatchConcurrency: cfg.BatchConcurrency}, log)

	app.OAuth = directory.NewOAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	app.Tokens = directory.NewTokenStore(cfg.TokenDir)

	opts := directory.Options{LeaseTTL: cfg.SyncLeaseTTL}
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(redisOpts)
		app.closers = append(app.closers, func() { _ = client.Close() })
		opts.Locker = directory.NewRedisLocker(client, "")
	}
	connector := directory.NewGoogleConnector(app.OAuth, app.Tokens, log)
	app.Engine = directory.NewEngine(database, connector, opts, log)

	return app, nil
}

// Close stops background work and closes connections in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) out() io.Writer {
	if a.Out == nil {
		return os.Stdout
	}
	return a.Out
}

func (a *App) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.out(), format, args...)
}

func (a *App) table() *tabwriter.Writer {
	return tabwriter.NewWriter(a.out(), 0, 0, 2, ' ', 0)
}

func (a *App) owner() string {
	return a.Config.OwnerID
}

// parseUUID accepts a full id argument.
func parseUUID(what, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", what, err)
	}
	return id, nil
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
