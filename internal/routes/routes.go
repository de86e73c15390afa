// (C) 2025 GoodData Corporation

// Package routes holds user-declared method+pattern handlers. A matching
// custom route serves the response directly, ahead of replay storage and
// upstream forwarding.
package routes

import (
	"context"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"mockpilot/internal/pattern"
	"mockpilot/internal/types"
)

// Input is what a route handler receives.
type Input struct {
	Params  map[string]string
	Query   map[string]string
	Headers map[string]string
	Body    *types.Body
	Request *types.RequestRecord
}

// Result is what a route handler returns. A zero Status means 200.
type Result struct {
	Status  int
	Headers map[string]string
	Body    any
}

// Handler serves a custom route. Handlers may block; the engine threads
// the request context through.
type Handler func(ctx context.Context, in *Input) (*Result, error)

// Route is one registered handler.
type Route struct {
	ID       int64
	Method   string
	Pattern  *pattern.Pattern
	Priority int
	Enabled  bool
	Handler  Handler
	seq      int
}

// Registry holds custom routes. Registration is chainable:
//
//	reg.Get("/api/data", h).Post("/api/data", h2)
type Registry struct {
	mu     sync.RWMutex
	routes []*Route
	nextID int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers an enabled route with priority 0. Method "*" matches any
// method. Invalid patterns are logged and dropped; use AddWithPriority for
// the error.
func (r *Registry) Add(method, pathPattern string, h Handler) *Registry {
	if _, err := r.AddWithPriority(method, pathPattern, 0, h); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"method": method, "pattern": pathPattern,
		}).Error("dropping route with invalid pattern")
	}
	return r
}

// AddWithPriority registers an enabled route and returns it.
func (r *Registry) AddWithPriority(method, pathPattern string, priority int, h Handler) (*Route, error) {
	p, err := pattern.Compile(pathPattern)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	route := &Route{
		ID:       r.nextID,
		Method:   method,
		Pattern:  p,
		Priority: priority,
		Enabled:  true,
		Handler:  h,
		seq:      len(r.routes),
	}
	r.routes = append(r.routes, route)
	return route, nil
}

// Get registers a GET route.
func (r *Registry) Get(pathPattern string, h Handler) *Registry {
	return r.Add("GET", pathPattern, h)
}

// Post registers a POST route.
func (r *Registry) Post(pathPattern string, h Handler) *Registry {
	return r.Add("POST", pathPattern, h)
}

// Put registers a PUT route.
func (r *Registry) Put(pathPattern string, h Handler) *Registry {
	return r.Add("PUT", pathPattern, h)
}

// Delete registers a DELETE route.
func (r *Registry) Delete(pathPattern string, h Handler) *Registry {
	return r.Add("DELETE", pathPattern, h)
}

// Any registers a route matching every method.
func (r *Registry) Any(pathPattern string, h Handler) *Registry {
	return r.Add("*", pathPattern, h)
}

// SetEnabled toggles a route by id.
func (r *Registry) SetEnabled(id int64, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, route := range r.routes {
		if route.ID == id {
			route.Enabled = enabled
			return true
		}
	}
	return false
}

// Len returns the number of registered routes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

// Lookup returns the enabled route matching (method, path) with the
// highest priority, stable on equal priority, plus path captures.
func (r *Registry) Lookup(method, path string) (*Route, map[string]string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type candidate struct {
		route  *Route
		params map[string]string
	}
	var candidates []candidate
	for _, route := range r.routes {
		if !route.Enabled {
			continue
		}
		if route.Method != "*" && route.Method != method {
			continue
		}
		params, ok := route.Pattern.Params(path)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{route: route, params: params})
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].route.Priority > candidates[j].route.Priority
	})
	return candidates[0].route, candidates[0].params
}
