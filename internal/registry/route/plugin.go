package route

import (
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
)

// RouterLoader mounts a group of routes on the gin engine.
type RouterLoader func(r *gin.Engine) error

// RouteType says which listener a plugin's routes belong to.
type RouteType int

const (
	// RouteTypeMain carries the memory API: sessions, episodes, world
	// canon, snapshots, settings.
	RouteTypeMain RouteType = iota
	// RouteTypeManagement carries health, readiness, and metrics. Without
	// a dedicated management port these land on the main listener.
	RouteTypeManagement
)

// Plugin is a registered route group; Order fixes the mount sequence.
type Plugin struct {
	Order  int
	Type   RouteType
	Loader RouterLoader
}

var (
	plugins  []Plugin
	sortOnce sync.Once
)

// Register adds a route plugin. Route packages call this from init().
func Register(p Plugin) {
	plugins = append(plugins, p)
}

func sorted() []Plugin {
	sortOnce.Do(func() {
		sort.Slice(plugins, func(i, j int) bool { return plugins[i].Order < plugins[j].Order })
	})
	return plugins
}

// MainRouteLoaders returns the memory API loaders in mount order.
func MainRouteLoaders() []RouterLoader {
	var loaders []RouterLoader
	for _, p := range sorted() {
		if p.Type == RouteTypeMain {
			loaders = append(loaders, p.Loader)
		}
	}
	return loaders
}

// ManagementRouteLoaders returns the health/metrics loaders in mount order.
func ManagementRouteLoaders() []RouterLoader {
	var loaders []RouterLoader
	for _, p := range sorted() {
		if p.Type == RouteTypeManagement {
			loaders = append(loaders, p.Loader)
		}
	}
	return loaders
}
