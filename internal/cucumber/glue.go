// Package cucumber embeds the godog BDD runner: it executes the fetched
// feature tree against registered step definitions and parses the cucumber
// JSON report into the test outcome.
package cucumber

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cucumber/godog"
)

// GlueInitializer registers step definitions on a scenario context. User
// step packages export one initializer each and register it by name; the
// directive's userGluePackages field selects which ones a run loads.
type GlueInitializer func(*godog.ScenarioContext)

// GlueRegistry maps glue package names to their step initializers.
type GlueRegistry struct {
	mu           sync.RWMutex
	initializers map[string]GlueInitializer
}

// NewGlueRegistry creates an empty glue registry.
func NewGlueRegistry() *GlueRegistry {
	return &GlueRegistry{initializers: make(map[string]GlueInitializer)}
}

// Register installs an initializer under a glue package name. Registering
// the same name twice replaces the earlier initializer.
func (g *GlueRegistry) Register(name string, init GlueInitializer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initializers[name] = init
}

// Resolve returns the initializers for the requested glue packages, in
// request order. An unknown name is an error naming the missing package.
func (g *GlueRegistry) Resolve(names []string) ([]GlueInitializer, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	resolved := make([]GlueInitializer, 0, len(names))
	for _, name := range names {
		init, ok := g.initializers[name]
		if !ok {
			return nil, fmt.Errorf("glue package %q is not registered (known: %v)", name, g.known())
		}
		resolved = append(resolved, init)
	}
	return resolved, nil
}

func (g *GlueRegistry) known() []string {
	names := make([]string, 0, len(g.initializers))
	for name := range g.initializers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
