package relation

import (
	"fmt"

	"github.com/conduit-lang/entityroutes/internal/orm/query"
	"github.com/conduit-lang/entityroutes/internal/orm/schema"
)

// AliasResult is the alias of a relation join
type AliasResult struct {
	Alias             string
	IsJoinAlreadyMade bool
}

type aliasKey struct {
	owner string
	prop  string
}

// AliasHandler allocates collision-free join aliases for one query build.
// It is not safe for concurrent use; create one per query.
type AliasHandler struct {
	aliases  map[aliasKey]string
	counters map[string]int
}

// NewAliasHandler creates an empty alias handler
func NewAliasHandler() *AliasHandler {
	return &AliasHandler{
		aliases:  make(map[aliasKey]string),
		counters: make(map[string]int),
	}
}

// GetAliasForRelation returns the alias of rel joined from prevAlias (or from its owner table).
// The first call for a key allocates "<ownerTable>_<relation>_<n>".
func (h *AliasHandler) GetAliasForRelation(qb query.Builder, rel *schema.RelationMetadata, prevAlias string) AliasResult {
	owner := prevAlias
	if owner == "" {
		owner = rel.Entity.TableName
	}
	key := aliasKey{owner: owner, prop: rel.PropertyName}

	if alias, ok := h.aliases[key]; ok {
		return AliasResult{Alias: alias, IsJoinAlreadyMade: true}
	}

	base := rel.Entity.TableName + "_" + rel.PropertyName
	h.counters[base]++
	alias := fmt.Sprintf("%s_%d", base, h.counters[base])
	h.aliases[key] = alias

	return AliasResult{
		Alias:             alias,
		IsJoinAlreadyMade: qb != nil && qb.HasJoin(alias),
	}
}
