package mapping

import (
	"github.com/conduit-lang/entityroutes/internal/orm/groups"
)

// Prettify turns a mapping into a plain object for documentation: columns map to
// their type name, id-only relations to "@id" or "@id[]", other relations nest.
func Prettify(item *Item) map[string]interface{} {
	result := make(map[string]interface{}, len(item.ExposedProps)+len(item.ComputedProps))

	for _, prop := range item.ExposedProps {
		if col := item.Metadata.FindColumn(prop); col != nil {
			result[prop] = col.Type.DisplayName()
			continue
		}

		rel := item.Metadata.FindRelation(prop)
		if rel == nil {
			continue
		}
		child := item.Mapping[prop]

		var value interface{}
		if child == nil || child.IsIDOnly() {
			value = "@id"
		} else {
			value = Prettify(child)
		}
		if rel.IsToMany() {
			if s, ok := value.(string); ok {
				value = s + "[]"
			} else {
				value = []interface{}{value}
			}
		}
		result[prop] = value
	}

	for _, name := range item.ComputedProps {
		method, _, _ := groups.ParseComputedProp(name)
		returnType := "Computed"
		if computed := item.Metadata.FindComputed(method); computed != nil && computed.ReturnType != "" {
			returnType = computed.ReturnType
		}
		result[groups.ComputedPropKey(name)] = returnType
	}

	return result
}
