package relation

import (
	"github.com/conduit-lang/entityroutes/internal/orm/schema"
)

// HardMaxDepthLvl stops the recursion on cyclic exposure when no max depth rule is enabled
const HardMaxDepthLvl = 8

// MaxDepthOptions are the global max depth settings
type MaxDepthOptions struct {
	IsMaxDepthEnabledByDefault          bool `mapstructure:"max_depth_enabled_by_default"`
	DefaultMaxDepthLvl                  int  `mapstructure:"default_max_depth_lvl"`
	ShouldMaxDepthReturnRelationPropsID bool `mapstructure:"should_max_depth_return_relation_props_id"`
}

// DefaultMaxDepthOptions returns the settings used when none are configured
func DefaultMaxDepthOptions() MaxDepthOptions {
	return MaxDepthOptions{
		IsMaxDepthEnabledByDefault:          true,
		DefaultMaxDepthLvl:                  2,
		ShouldMaxDepthReturnRelationPropsID: true,
	}
}

// CircularProp describes where the recursion was cut
type CircularProp struct {
	Metadata *schema.EntityMetadata
	Prop     string
	Depth    int
}

// IsRelationPropCircular reports whether entering meta through rel at currentPath goes too deep.
//
// currentPath holds the table names visited from the root, the one being entered last.
// The depth is the number of times meta's table was already visited.
func IsRelationPropCircular(currentPath []string, meta *schema.EntityMetadata, rel *schema.RelationMetadata, opts MaxDepthOptions) *CircularProp {
	depth := countTable(currentPath, meta.TableName) - 1
	if depth < 2 {
		return nil
	}

	maxDepthLvl := opts.DefaultMaxDepthLvl
	classEnabled := false
	propOverride := false

	if md := meta.MaxDepth; md != nil {
		classEnabled = md.Enabled
		if md.DepthLvl > 0 {
			maxDepthLvl = md.DepthLvl
		}
		if lvl, ok := md.Fields[rel.InverseSidePropertyPath]; ok && rel.InverseSidePropertyPath != "" {
			maxDepthLvl = lvl
			propOverride = true
		}
	}

	reached := depth >= maxDepthLvl
	if (opts.IsMaxDepthEnabledByDefault && reached) || (classEnabled && reached) || (propOverride && reached) || depth >= HardMaxDepthLvl {
		return &CircularProp{Metadata: meta, Prop: rel.PropertyName, Depth: depth}
	}
	return nil
}

func countTable(path []string, table string) int {
	n := 0
	for _, seg := range path {
		if seg == table {
			n++
		}
	}
	return n
}
