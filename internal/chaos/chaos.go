// (C) 2025 GoodData Corporation

// Package chaos adds per-request latency and probabilistic synthetic
// errors. Latency and error injection are orthogonal: each has an optional
// default config plus ordered rules; the first enabled rule matching
// (method, path) wins, otherwise the default applies.
package chaos

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"mockpilot/internal/pattern"
	"mockpilot/internal/types"
)

// Stats is a snapshot of the injector counters.
type Stats struct {
	RequestsProcessed   int64   `json:"requestsProcessed"`
	ErrorsInjected      int64   `json:"errorsInjected"`
	TotalLatencyAddedMS int64   `json:"totalLatencyAddedMs"`
	AverageLatencyMS    float64 `json:"averageLatencyMs"`
}

type latencyRule struct {
	id      int64
	method  string
	pattern *pattern.Pattern
	enabled bool
	config  types.LatencyConfig
}

type errorRule struct {
	id      int64
	method  string
	pattern *pattern.Pattern
	enabled bool
	config  types.ErrorInjectionConfig
}

// Injector applies the chaos layer. Safe for concurrent use: rules are
// read-many/write-rare behind an RWMutex, counters are atomic.
type Injector struct {
	mu             sync.RWMutex
	enabled        bool
	defaultLatency *types.LatencyConfig
	defaultError   *types.ErrorInjectionConfig
	latencyRules   []latencyRule
	errorRules     []errorRule
	nextRuleID     atomic.Int64

	processed    atomic.Int64
	injected     atomic.Int64
	totalLatency atomic.Int64

	rngMu sync.Mutex
	rng   *rand.Rand

	validate *validator.Validate
}

// New creates a disabled injector with no defaults and no rules.
func New() *Injector {
	return &Injector{
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		validate: validator.New(),
	}
}

// SetEnabled flips the injector. When disabled, Apply is a no-op and stats
// are not incremented.
func (in *Injector) SetEnabled(enabled bool) {
	in.mu.Lock()
	in.enabled = enabled
	in.mu.Unlock()
}

// Enabled reports the current enable flag.
func (in *Injector) Enabled() bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.enabled
}

// SetDefaultLatency sets the fallback latency config; nil removes it.
func (in *Injector) SetDefaultLatency(cfg *types.LatencyConfig) error {
	if cfg != nil {
		if err := in.validateLatency(*cfg); err != nil {
			return err
		}
	}
	in.mu.Lock()
	in.defaultLatency = cfg
	in.mu.Unlock()
	return nil
}

// SetDefaultError sets the fallback error-injection config; nil removes it.
func (in *Injector) SetDefaultError(cfg *types.ErrorInjectionConfig) error {
	if cfg != nil {
		if err := in.validateError(*cfg); err != nil {
			return err
		}
	}
	in.mu.Lock()
	in.defaultError = cfg
	in.mu.Unlock()
	return nil
}

// AddLatencyRule appends an enabled latency rule and returns its id.
func (in *Injector) AddLatencyRule(method, pathPattern string, cfg types.LatencyConfig) (int64, error) {
	if err := in.validateLatency(cfg); err != nil {
		return 0, err
	}
	p, err := pattern.Compile(pathPattern)
	if err != nil {
		return 0, err
	}
	id := in.nextRuleID.Add(1)
	in.mu.Lock()
	in.latencyRules = append(in.latencyRules, latencyRule{
		id: id, method: method, pattern: p, enabled: true, config: cfg,
	})
	in.mu.Unlock()
	return id, nil
}

// AddErrorRule appends an enabled error-injection rule and returns its id.
func (in *Injector) AddErrorRule(method, pathPattern string, cfg types.ErrorInjectionConfig) (int64, error) {
	if err := in.validateError(cfg); err != nil {
		return 0, err
	}
	p, err := pattern.Compile(pathPattern)
	if err != nil {
		return 0, err
	}
	id := in.nextRuleID.Add(1)
	in.mu.Lock()
	in.errorRules = append(in.errorRules, errorRule{
		id: id, method: method, pattern: p, enabled: true, config: cfg,
	})
	in.mu.Unlock()
	return id, nil
}

// SetRuleEnabled toggles a rule by id, in either sub-engine.
func (in *Injector) SetRuleEnabled(id int64, enabled bool) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	for i := range in.latencyRules {
		if in.latencyRules[i].id == id {
			in.latencyRules[i].enabled = enabled
			return true
		}
	}
	for i := range in.errorRules {
		if in.errorRules[i].id == id {
			in.errorRules[i].enabled = enabled
			return true
		}
	}
	return false
}

func (in *Injector) validateLatency(cfg types.LatencyConfig) error {
	if err := in.validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid latency config: %w", err)
	}
	return nil
}

func (in *Injector) validateError(cfg types.ErrorInjectionConfig) error {
	if err := in.validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid error injection config: %w", err)
	}
	return nil
}

// Apply runs the chaos gate for one request: sleeps the drawn latency
// (interruptible by ctx) and decides whether to inject an error. The
// returned delay is the applied latency in milliseconds; the returned
// response is non-nil when a synthetic error should be emitted.
func (in *Injector) Apply(ctx context.Context, method, path string) (int64, *types.ResponseRecord) {
	in.mu.RLock()
	if !in.enabled {
		in.mu.RUnlock()
		return 0, nil
	}
	latencyCfg := in.matchLatencyLocked(method, path)
	errorCfg := in.matchErrorLocked(method, path)
	in.mu.RUnlock()

	in.processed.Add(1)

	var delay int64
	if latencyCfg != nil {
		delay = in.drawLatency(*latencyCfg)
		if delay > 0 {
			in.sleep(ctx, delay)
		}
		in.totalLatency.Add(delay)
	}

	if errorCfg != nil && in.drawSample() < errorCfg.Rate {
		in.injected.Add(1)
		return delay, syntheticError(*errorCfg)
	}
	return delay, nil
}

func (in *Injector) matchLatencyLocked(method, path string) *types.LatencyConfig {
	for i := range in.latencyRules {
		r := &in.latencyRules[i]
		if r.enabled && methodMatches(r.method, method) && r.pattern.Match(path) {
			cfg := r.config
			return &cfg
		}
	}
	if in.defaultLatency != nil {
		cfg := *in.defaultLatency
		return &cfg
	}
	return nil
}

func (in *Injector) matchErrorLocked(method, path string) *types.ErrorInjectionConfig {
	for i := range in.errorRules {
		r := &in.errorRules[i]
		if r.enabled && methodMatches(r.method, method) && r.pattern.Match(path) {
			cfg := r.config
			return &cfg
		}
	}
	if in.defaultError != nil {
		cfg := *in.defaultError
		return &cfg
	}
	return nil
}

func methodMatches(ruleMethod, method string) bool {
	return ruleMethod == "*" || ruleMethod == "" || ruleMethod == method
}

// drawLatency picks a uniform integer in [Min, Max] inclusive.
func (in *Injector) drawLatency(cfg types.LatencyConfig) int64 {
	if cfg.Max <= cfg.Min {
		return cfg.Min
	}
	in.rngMu.Lock()
	defer in.rngMu.Unlock()
	return cfg.Min + in.rng.Int63n(cfg.Max-cfg.Min+1)
}

// drawSample picks a uniform float in [0, 100).
func (in *Injector) drawSample() float64 {
	in.rngMu.Lock()
	defer in.rngMu.Unlock()
	return in.rng.Float64() * 100
}

func (in *Injector) sleep(ctx context.Context, ms int64) {
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// syntheticError builds the injected error response.
func syntheticError(cfg types.ErrorInjectionConfig) *types.ResponseRecord {
	body := map[string]any{
		"error":    types.StatusText(cfg.Status),
		"message":  cfg.Message,
		"injected": true,
	}
	if cfg.Details != nil {
		body["details"] = cfg.Details
	}
	return &types.ResponseRecord{
		Status:    cfg.Status,
		Headers:   map[string]string{"content-type": "application/json"},
		Body:      types.JSONBody(body),
		Timestamp: time.Now().UnixMilli(),
	}
}

// Stats returns a snapshot of the counters.
func (in *Injector) Stats() Stats {
	processed := in.processed.Load()
	total := in.totalLatency.Load()
	s := Stats{
		RequestsProcessed:   processed,
		ErrorsInjected:      in.injected.Load(),
		TotalLatencyAddedMS: total,
	}
	if processed > 0 {
		s.AverageLatencyMS = float64(total) / float64(processed)
	}
	return s
}
