package commands

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fatih/color"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/entityroutes/examples/blog"
	"github.com/conduit-lang/entityroutes/internal/app"
	"github.com/conduit-lang/entityroutes/internal/config"
	"github.com/conduit-lang/entityroutes/internal/logging"
	"github.com/conduit-lang/entityroutes/internal/web/server"
)

var (
	servePort    int
	serveMigrate bool
)

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the blog entities over HTTP",
		Long: `Start the HTTP server exposing the blog entities (users, roles, categories,
images and articles).

Examples:
  entityroutes serve
  entityroutes serve --port 8080
  ENTITYROUTES_DATABASE_DRIVER=sqlite3 ENTITYROUTES_DATABASE_URL=file:blog.db entityroutes serve --migrate`,
		RunE: runServe,
	}

	cmd.Flags().IntVarP(&servePort, "port", "p", 3000, "Port to run the server on")
	cmd.Flags().BoolVar(&serveMigrate, "migrate", false, "Create the blog tables before serving")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}

	if serveMigrate {
		if err := blog.Migrate(ctx, db, cfg.Database.Driver, logger.Named("migrate")); err != nil {
			db.Close()
			return err
		}
		logger.Info("blog tables ready", zap.String("driver", cfg.Database.Driver))
	}

	a, err := app.New(ctx, cfg, db, logger, blog.Register)
	if err != nil {
		db.Close()
		return err
	}

	srvConfig := server.DefaultConfig(a.Router)
	srvConfig.Address = cfg.Server.Address()
	srvConfig.Logger = logger.Named("server")
	srvConfig.Database = &server.DatabaseConfig{
		DB:              db,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}

	srv, err := server.New(srvConfig)
	if err != nil {
		a.Close()
		db.Close()
		return err
	}

	gs := server.NewGracefulShutdown(srv, &server.ShutdownConfig{
		Timeout: cfg.Server.ShutdownTimeout,
		Logger:  logger.Named("shutdown"),
	})
	gs.RegisterHook(func(ctx context.Context) error { return a.Close() })
	gs.RegisterHook(func(ctx context.Context) error { return db.Close() })

	out := cmd.OutOrStdout()
	successColor := color.New(color.FgGreen, color.Bold)
	if noColor {
		successColor.DisableColor()
	}
	successColor.Fprintf(out, "Serving %d routes on http://%s%s\n", len(a.Router.Routes()), srvConfig.Address, cfg.Server.APIPrefix)

	return gs.Run(ctx)
}

// openDatabase opens the configured database. The sqlite3 driver defaults to a
// local file with foreign keys enforced.
func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	url := cfg.URL
	if url == "" {
		if cfg.Driver != "sqlite3" {
			return nil, fmt.Errorf("database.url is required for driver %s", cfg.Driver)
		}
		url = "file:entityroutes.db?_foreign_keys=on"
	}

	db, err := sql.Open(cfg.Driver, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}
