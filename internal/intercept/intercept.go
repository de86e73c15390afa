// (C) 2025 GoodData Corporation

// Package intercept holds ordered response-transform rules keyed by
// method + path pattern. A matched rule rewrites the upstream response
// before it is emitted to the client and before it is persisted.
package intercept

import (
	"context"
	"sync"
	"time"

	"mockpilot/internal/pattern"
	"mockpilot/internal/types"
)

// RuleContext carries request-side data into a handler.
type RuleContext struct {
	Request *types.RequestRecord
	// Params holds the ":name" captures of the rule's path pattern.
	Params map[string]string
	Query  map[string]string
}

// Handler transforms a response. Handlers may block (the engine threads the
// request context through) and return the replacement response.
type Handler func(ctx context.Context, resp types.ResponseRecord, rc *RuleContext) (types.ResponseRecord, error)

// Rule is one registered transform.
type Rule struct {
	ID       int64
	Method   string
	Pattern  *pattern.Pattern
	Priority int
	Enabled  bool
	Handler  Handler
	// seq is the insertion index, the tiebreaker on equal priority.
	seq int
}

// Registry holds intercept rules. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	rules  []*Rule
	nextID int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers an enabled rule. Method "*" matches any method.
func (r *Registry) Add(method, pathPattern string, priority int, h Handler) (*Rule, error) {
	p, err := pattern.Compile(pathPattern)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	rule := &Rule{
		ID:       r.nextID,
		Method:   method,
		Pattern:  p,
		Priority: priority,
		Enabled:  true,
		Handler:  h,
		seq:      len(r.rules),
	}
	r.rules = append(r.rules, rule)
	return rule, nil
}

// SetEnabled toggles a rule by id.
func (r *Registry) SetEnabled(id int64, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rule := range r.rules {
		if rule.ID == id {
			rule.Enabled = enabled
			return true
		}
	}
	return false
}

// Remove deletes a rule by id.
func (r *Registry) Remove(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, rule := range r.rules {
		if rule.ID == id {
			r.rules = append(r.rules[:i], r.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// Lookup returns the enabled rule matching (method, path) with the highest
// priority, breaking ties by insertion order, plus the path captures.
func (r *Registry) Lookup(method, path string) (*Rule, map[string]string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Rule
	var bestParams map[string]string
	for _, rule := range r.rules {
		if !rule.Enabled {
			continue
		}
		if rule.Method != "*" && rule.Method != method {
			continue
		}
		params, ok := rule.Pattern.Params(path)
		if !ok {
			continue
		}
		if best == nil || rule.Priority > best.Priority {
			best = rule
			bestParams = params
		}
	}
	return best, bestParams
}

// Delay returns a handler that waits ms milliseconds (interruptible) and
// passes the response through.
func Delay(ms int64) Handler {
	return func(ctx context.Context, resp types.ResponseRecord, _ *RuleContext) (types.ResponseRecord, error) {
		timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
		return resp, nil
	}
}

// ReplaceBody returns a handler that swaps the body for the given JSON
// value.
func ReplaceBody(value any) Handler {
	return func(_ context.Context, resp types.ResponseRecord, _ *RuleContext) (types.ResponseRecord, error) {
		resp.Body = types.JSONBody(value)
		return resp, nil
	}
}

// ModifyBody returns a handler that rewrites the decoded body value.
func ModifyBody(fn func(any) any) Handler {
	return func(_ context.Context, resp types.ResponseRecord, _ *RuleContext) (types.ResponseRecord, error) {
		resp.Body = types.JSONBody(fn(resp.Body.Value()))
		return resp, nil
	}
}

// SetStatus returns a handler that overrides the status code.
func SetStatus(code int) Handler {
	return func(_ context.Context, resp types.ResponseRecord, _ *RuleContext) (types.ResponseRecord, error) {
		resp.Status = code
		return resp, nil
	}
}

// MergeHeaders returns a handler that merges the given headers into the
// response, overwriting on key collision.
func MergeHeaders(headers map[string]string) Handler {
	return func(_ context.Context, resp types.ResponseRecord, _ *RuleContext) (types.ResponseRecord, error) {
		merged := make(map[string]string, len(resp.Headers)+len(headers))
		for k, v := range resp.Headers {
			merged[k] = v
		}
		for k, v := range headers {
			merged[k] = v
		}
		resp.Headers = merged
		return resp, nil
	}
}

// SyntheticError returns a handler that replaces the response with an
// error body in the injected-error shape.
func SyntheticError(status int, message string) Handler {
	return func(_ context.Context, _ types.ResponseRecord, _ *RuleContext) (types.ResponseRecord, error) {
		return types.ResponseRecord{
			Status:  status,
			Headers: map[string]string{"content-type": "application/json"},
			Body: types.JSONBody(map[string]any{
				"error":   types.StatusText(status),
				"message": message,
			}),
			Timestamp: time.Now().UnixMilli(),
		}, nil
	}
}

// Chain composes handlers left to right, threading the response. The chain
// stops at the first handler error.
func Chain(handlers ...Handler) Handler {
	return func(ctx context.Context, resp types.ResponseRecord, rc *RuleContext) (types.ResponseRecord, error) {
		var err error
		for _, h := range handlers {
			resp, err = h(ctx, resp, rc)
			if err != nil {
				return resp, err
			}
		}
		return resp, nil
	}
}
