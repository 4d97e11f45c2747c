package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/entityroutes/examples/blog"
	"github.com/conduit-lang/entityroutes/internal/app"
	"github.com/conduit-lang/entityroutes/internal/cli/ui"
	"github.com/conduit-lang/entityroutes/internal/web/router"
)

var (
	routesFormat string
	routesEntity string
	routesMethod string
)

// NewRoutesCommand creates the routes command
func NewRoutesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "List the generated routes",
		Long: `List every route generated from the blog entities, subresources included.

Examples:
  entityroutes routes
  entityroutes routes --entity Article
  entityroutes routes --method DELETE --format json`,
		RunE: runRoutes,
	}

	cmd.Flags().StringVar(&routesFormat, "format", "table", "Output format: table or json")
	cmd.Flags().StringVar(&routesEntity, "entity", "", "Only list the routes of this entity")
	cmd.Flags().StringVar(&routesMethod, "method", "", "Only list routes with this HTTP method")

	return cmd
}

func runRoutes(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.New(context.Background(), cfg, nil, nil, blog.Register)
	if err != nil {
		return err
	}
	defer a.Close()

	var routes []*router.RouteInfo
	for _, route := range a.Router.Routes() {
		if routesEntity != "" && !strings.EqualFold(route.Entity, routesEntity) {
			continue
		}
		if routesMethod != "" && !strings.EqualFold(route.Method, routesMethod) {
			continue
		}
		routes = append(routes, route)
	}

	out := cmd.OutOrStdout()
	switch routesFormat {
	case "json":
		data, err := json.MarshalIndent(routes, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	case "table":
		table := ui.NewTable(out, []string{"METHOD", "PATTERN", "ENTITY", "OPERATION", "SUBRESOURCE"}, &ui.TableOptions{
			NoColor: noColor,
			CellColor: func(column int, cell string) *color.Color {
				if column == 0 {
					return ui.MethodColor(cell)
				}
				return nil
			},
		})
		for _, route := range routes {
			table.AddRow(route.Method, route.Pattern, route.Entity, route.Operation, route.Subresource)
		}
		table.Render()
	default:
		return fmt.Errorf("unknown format %q, expected table or json", routesFormat)
	}
	return nil
}
