package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/entityroutes/examples/blog"
	"github.com/conduit-lang/entityroutes/internal/cli/ui"
	"github.com/conduit-lang/entityroutes/internal/logging"
	"github.com/conduit-lang/entityroutes/internal/orm/migrate"
	"github.com/conduit-lang/entityroutes/internal/orm/query"
)

// NewMigrateCommand creates the migrate command and its up, down and status subcommands
func NewMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the blog tables",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, func(ctx context.Context, runner *migrate.Runner, migrations []*migrate.Migration) error {
				applied, err := runner.MigrateUp(ctx, migrations)
				if err != nil {
					return err
				}
				printSuccess(cmd, fmt.Sprintf("Applied %d migration(s)", applied))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the last applied migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, func(ctx context.Context, runner *migrate.Runner, _ []*migrate.Migration) error {
				if err := runner.MigrateDown(ctx); err != nil {
					return err
				}
				printSuccess(cmd, "Rolled back the last migration")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, func(ctx context.Context, runner *migrate.Runner, migrations []*migrate.Migration) error {
				status, err := runner.Status(ctx, migrations)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				table := ui.NewTable(out, []string{"VERSION", "NAME", "STATUS"}, &ui.TableOptions{NoColor: noColor})
				for _, m := range status.Applied {
					table.AddRow(fmt.Sprint(m.Version), m.Name, "applied "+m.AppliedAt.Format("2006-01-02 15:04:05"))
				}
				for _, m := range status.Pending {
					table.AddRow(fmt.Sprint(m.Version), m.Name, "pending")
				}
				table.Render()
				fmt.Fprintln(out, status.Summary())
				return nil
			})
		},
	})

	return cmd
}

// withRunner opens the configured database and runs fn with a migration runner over it
func withRunner(cmd *cobra.Command, fn func(context.Context, *migrate.Runner, []*migrate.Migration) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	migrations, err := blog.Migrations(cfg.Database.Driver)
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	runner := migrate.NewRunner(db, query.DialectFor(cfg.Database.Driver), logger.Named("migrate"))
	return fn(ctx, runner, migrations)
}

func printSuccess(cmd *cobra.Command, msg string) {
	fmt.Fprintln(cmd.OutOrStdout(), ui.FormatSuccess(msg, noColor))
}
