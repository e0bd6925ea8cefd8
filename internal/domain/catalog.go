package domain

import "context"

// ItemDefinition describes a kind of item. Instances reference it by ID.
type ItemDefinition struct {
	ID       string
	Name     string
	Category string
	Tradable bool
}

// ItemCatalog resolves item definitions.
type ItemCatalog interface {
	GetDefinition(ctx context.Context, id string) (ItemDefinition, error)
}

// ItemDefinitionCache provides fast definition lookups in front of the catalog store.
type ItemDefinitionCache interface {
	Set(ctx context.Context, def ItemDefinition) error
	Get(ctx context.Context, id string) (ItemDefinition, error)
	Invalidate(ctx context.Context, id string) error
}
