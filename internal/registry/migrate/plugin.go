package migrate

import (
	"context"
	"fmt"
	"sort"
)

// Migrator brings one store backend's schema up to date: the memory tables
// plus whatever vector storage the backend needs.
type Migrator interface {
	Name() string
	Migrate(ctx context.Context) error
}

// Plugin is a registered migrator; Order fixes the execution sequence.
type Plugin struct {
	Order    int
	Migrator Migrator
}

var plugins []Plugin

// Register adds a migration plugin. Store backends call this from init().
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// RunAll executes every registered migrator in order. The serve and migrate
// commands both go through here before touching the store.
func RunAll(ctx context.Context) error {
	sorted := make([]Plugin, len(plugins))
	copy(sorted, plugins)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	for _, p := range sorted {
		if err := p.Migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", p.Migrator.Name(), err)
		}
	}
	return nil
}
