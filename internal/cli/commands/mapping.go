package commands

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conduit-lang/entityroutes/examples/blog"
	"github.com/conduit-lang/entityroutes/internal/app"
	"github.com/conduit-lang/entityroutes/internal/cli/ui"
	"github.com/conduit-lang/entityroutes/internal/orm/groups"
	"github.com/conduit-lang/entityroutes/internal/orm/mapping"
)

var mappingFormat string

// NewMappingCommand creates the mapping command
func NewMappingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapping <entity> <operation>",
		Short: "Show what an operation reads and accepts",
		Long: `Show the prettified mapping of an entity for an operation: exposed columns
with their type, id-only relations as "@id" (or "@id[]"), nested relations as objects.

Examples:
  entityroutes mapping User details
  entityroutes mapping Article create --format yaml`,
		Args: cobra.ExactArgs(2),
		RunE: runMapping,
	}

	cmd.Flags().StringVar(&mappingFormat, "format", "json", "Output format: json or yaml")

	return cmd
}

func runMapping(cmd *cobra.Command, args []string) error {
	entity, operation := args[0], args[1]

	if !isOperation(operation) {
		return fmt.Errorf("unknown operation %q, expected one of %v", operation, groups.All)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	registry, g, err := app.Metadata(blog.Register)
	if err != nil {
		return err
	}

	meta, ok := registry.Get(entity)
	if !ok {
		var names []string
		for _, m := range registry.All() {
			names = append(names, m.Name)
		}
		return &FormattedError{
			Text: ui.EntityNotFoundError(entity, ui.FindSimilar(entity, names), noColor),
			Err:  fmt.Errorf("unknown entity %q", entity),
		}
	}

	pretty := mapping.Prettify(mapping.NewManager(g).Make(meta, operation, cfg.Mapping))

	var data []byte
	switch mappingFormat {
	case "json":
		data, err = json.MarshalIndent(pretty, "", "  ")
		data = append(data, '\n')
	case "yaml":
		data, err = yaml.Marshal(pretty)
	default:
		return fmt.Errorf("unknown format %q, expected json or yaml", mappingFormat)
	}
	if err != nil {
		return err
	}

	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func isOperation(op string) bool {
	for _, o := range groups.All {
		if o == op {
			return true
		}
	}
	return false
}
