package commands

import (
	"fmt"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/entityroutes/internal/cli/ui"
	"github.com/conduit-lang/entityroutes/internal/config"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

var (
	configPath string
	noColor    bool
)

// FormattedError carries an error already rendered for the terminal
type FormattedError struct {
	Text string
	Err  error
}

func (e *FormattedError) Error() string { return e.Err.Error() }

func (e *FormattedError) Unwrap() error { return e.Err }

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "entityroutes",
		Short: "Metadata-driven REST API over SQL entities",
		Long: color.CyanString(`entityroutes - REST routes generated from entity metadata

Every registered entity gets list, create, details, update and delete routes,
plus nested subresource routes. What each route reads and accepts is driven by
the entity's exposure groups.`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./entityroutes.yml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewRoutesCommand())
	rootCmd.AddCommand(NewMappingCommand())
	rootCmd.AddCommand(NewMigrateCommand())

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			goVer := GoVersion
			if goVer == "unknown" {
				goVer = runtime.Version()
			}

			table := ui.NewKeyValueTable(cmd.OutOrStdout(), noColor)
			table.AddRow("entityroutes version", Version)
			table.AddRow("Git commit", GitCommit)
			table.AddRow("Build date", BuildDate)
			table.AddRow("Go version", goVer)
			table.Render()
		},
	}
}

// loadConfig loads the configuration named by --config, rendering failures for the terminal
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, &FormattedError{
			Text: ui.ConfigError(err.Error(), noColor),
			Err:  fmt.Errorf("failed to load config: %w", err),
		}
	}
	return cfg, nil
}
