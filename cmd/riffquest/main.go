// Command riffquest runs the RiffQuest artist search web application.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/justestif/riffquest/internal/auth"
	"github.com/justestif/riffquest/internal/catalog"
	"github.com/justestif/riffquest/internal/config"
	"github.com/justestif/riffquest/internal/db"
	"github.com/justestif/riffquest/internal/logger"
	"github.com/justestif/riffquest/internal/spotify"
	"github.com/justestif/riffquest/internal/web"
	webfs "github.com/justestif/riffquest/web"
)

var (
	app        = kingpin.New("riffquest", "RiffQuest artist search")
	configPath = app.Flag("config", "Path to config file").Default("config.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{Output: "stdout", Level: "info"}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	log, err := logger.Init(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: initializing logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		zlog.Error().Err(err).Msg("Server error")
		os.Exit(1)
	}
}

// run wires the application and serves until ctx is cancelled. Kept apart
// from main so deferred cleanup runs before exit.
func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	exchanger, err := auth.NewClientCredentials(cfg.Spotify.ClientID, cfg.Spotify.ClientSecret)
	if err != nil {
		return err
	}
	tokens := auth.NewManager(exchanger,
		auth.WithLogger(log),
		auth.WithRetryDelays(cfg.Token.RetryDelays),
	)

	client := spotify.New()
	aggregator := catalog.New(client,
		catalog.WithMarket(cfg.Spotify.Market),
		catalog.WithConcurrency(cfg.Spotify.AlbumConcurrency),
		catalog.WithLogger(log),
	)

	var database *db.DB
	if cfg.Database.URL != "" {
		database, err = db.New(ctx, cfg.Database.URL)
		if err != nil {
			return errors.Wrap(err, "connecting to database")
		}
		defer database.Close()

		if err := database.Migrate(ctx); err != nil {
			return err
		}
		log.Info().Msg("Using database-backed sessions")
	} else {
		log.Warn().Msg("DATABASE_URL not set; sessions are kept in memory and users are not stored")
	}

	// Create sub-filesystems for templates and static files
	templates, err := fs.Sub(webfs.TemplatesFS, "templates")
	if err != nil {
		return errors.Wrap(err, "creating templates filesystem")
	}
	static, err := fs.Sub(webfs.StaticFS, "static")
	if err != nil {
		return errors.Wrap(err, "creating static filesystem")
	}

	server, err := web.NewServer(web.ServerConfig{
		Config:      cfg,
		TemplatesFS: templates,
		StaticFS:    static,
		Tokens:      tokens,
		Catalog:     aggregator,
		Profiles:    client,
		Database:    database,
		Logger:      log,
	})
	if err != nil {
		return errors.Wrap(err, "creating server")
	}

	return server.Run(ctx)
}
