package narrator

import (
	"context"
	"fmt"

	"github.com/fableforge/chronicle/internal/narrative"
)

// Narrator is the narrative-generation service: prompt text in, tagged result
// out. Providers return the structured variant when they can guarantee a JSON
// payload and the raw variant otherwise; callers run the fallback parse chain.
type Narrator interface {
	Generate(ctx context.Context, prompt string) (narrative.Result, error)
	ModelName() string
}

// Loader creates a Narrator from config.
type Loader func(ctx context.Context) (Narrator, error)

// Plugin represents a narrator plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a narrator plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered narrator plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named narrator plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown narrator %q; valid: %v", name, Names())
}
