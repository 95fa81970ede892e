// Package route collects route mounters contributed by plugin packages so the
// server can bring up its endpoints in one deterministic sweep.
package route

import (
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
)

// Mounter attaches a plugin's routes to the gin engine.
type Mounter func(r *gin.Engine) error

// RouteType says which surface a mounter serves.
type RouteType int

const (
	// RouteAPI mounts on the memory API surface.
	RouteAPI RouteType = iota
	// RouteOps mounts the operational endpoints (health, ready, metrics).
	// Without a dedicated management port they share the API listener.
	RouteOps
)

// Plugin pairs a mounter with an order so mount sequence is stable across
// builds.
type Plugin struct {
	Order int
	Type  RouteType
	Mount Mounter
}

var (
	plugins  []Plugin
	sortOnce sync.Once
)

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

func sorted() []Plugin {
	sortOnce.Do(func() {
		sort.Slice(plugins, func(i, j int) bool { return plugins[i].Order < plugins[j].Order })
	})
	return plugins
}

// APIMounters returns the RouteAPI mounters in mount order.
func APIMounters() []Mounter {
	return mounters(RouteAPI)
}

// OpsMounters returns the RouteOps mounters in mount order.
func OpsMounters() []Mounter {
	return mounters(RouteOps)
}

func mounters(t RouteType) []Mounter {
	var out []Mounter
	for _, p := range sorted() {
		if p.Type == t {
			out = append(out, p.Mount)
		}
	}
	return out
}
