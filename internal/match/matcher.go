// (C) 2025 GoodData Corporation

// Package match scores recorded entries against a live request and picks
// the best replay candidate. Matching tolerates identifier drift in URL
// paths: "/api/users/123" recorded once can answer "/api/users/999".
package match

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"mockpilot/internal/types"
)

// Strategy selects how paths are compared.
type Strategy string

const (
	// StrategyExact requires identical method and path.
	StrategyExact Strategy = "exact"
	// StrategySmart allows ID-like segments to differ.
	StrategySmart Strategy = "smart"
	// StrategyFuzzy scores paths by the fraction of equal segments.
	StrategyFuzzy Strategy = "fuzzy"
)

// DefaultIgnoredHeaders are excluded from header scoring unless overridden.
var DefaultIgnoredHeaders = []string{
	"authorization", "cookie", "x-request-id", "x-correlation-id",
	"date", "user-agent", "host", "content-length", "connection",
	"accept-encoding",
}

// Config controls matcher behavior. Header and query ignore lists are
// case-insensitive.
type Config struct {
	Strategy           Strategy
	IgnoredHeaders     []string
	IgnoredQueryParams []string
}

// DefaultConfig returns the smart strategy with the default ignore set.
func DefaultConfig() Config {
	return Config{
		Strategy:       StrategySmart,
		IgnoredHeaders: DefaultIgnoredHeaders,
	}
}

// Matcher scores candidates. Safe for concurrent use; configuration may be
// swapped at runtime.
type Matcher struct {
	mu            sync.RWMutex
	cfg           Config
	ignoredHeader map[string]struct{}
	ignoredQuery  map[string]struct{}
}

// New creates a matcher, rejecting unknown strategies.
func New(cfg Config) (*Matcher, error) {
	m := &Matcher{}
	if err := m.SetConfig(cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// SetConfig replaces the matcher configuration atomically.
func (m *Matcher) SetConfig(cfg Config) error {
	switch cfg.Strategy {
	case StrategyExact, StrategySmart, StrategyFuzzy:
	case "":
		cfg.Strategy = StrategySmart
	default:
		return fmt.Errorf("unknown matching strategy %q", cfg.Strategy)
	}
	ignoredHeader := foldSet(cfg.IgnoredHeaders)
	ignoredQuery := foldSet(cfg.IgnoredQueryParams)

	m.mu.Lock()
	m.cfg = cfg
	m.ignoredHeader = ignoredHeader
	m.ignoredQuery = ignoredQuery
	m.mu.Unlock()
	return nil
}

// Config returns a snapshot of the current configuration.
func (m *Matcher) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Scored pairs a candidate entry with its accumulated score.
type Scored struct {
	Entry *types.RecordedEntry
	Score float64
}

// Match returns the single best candidate, or nil when no candidate
// qualifies or entries is empty. Ties preserve input order, so callers
// wanting most-recent-wins should pass entries sorted by CreatedAt
// descending (storage List does).
func (m *Matcher) Match(live types.RequestRecord, entries []*types.RecordedEntry) *Scored {
	ranked := m.Rank(live, entries)
	if len(ranked) == 0 {
		return nil
	}
	return &ranked[0]
}

// Rank returns all qualifying candidates ordered by descending score,
// stable on ties.
func (m *Matcher) Rank(live types.RequestRecord, entries []*types.RecordedEntry) []Scored {
	m.mu.RLock()
	strategy := m.cfg.Strategy
	ignoredHeader := m.ignoredHeader
	ignoredQuery := m.ignoredQuery
	m.mu.RUnlock()

	var ranked []Scored
	for _, entry := range entries {
		score, ok := scoreCandidate(live, entry.Request, strategy, ignoredHeader, ignoredQuery)
		if !ok {
			continue
		}
		ranked = append(ranked, Scored{Entry: entry, Score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// contribution is one scoring dimension's verdict: either disqualify the
// candidate or add points.
type contribution struct {
	disqualify bool
	points     float64
}

func add(points float64) contribution { return contribution{points: points} }

var disqualified = contribution{disqualify: true}

// scoreCandidate folds the per-dimension contributions. A disqualified
// candidate is never returned regardless of other dimensions.
func scoreCandidate(live, cand types.RequestRecord, strategy Strategy, ignoredHeader, ignoredQuery map[string]struct{}) (float64, bool) {
	contributions := []contribution{
		methodContribution(live, cand),
		pathContribution(live, cand, strategy),
		queryContribution(live, cand, ignoredQuery),
		headerContribution(live, cand, ignoredHeader),
		bodyContribution(live, cand),
	}

	var total float64
	for _, c := range contributions {
		if c.disqualify {
			return 0, false
		}
		total += c.points
	}
	return total, true
}

func methodContribution(live, cand types.RequestRecord) contribution {
	if live.Method != cand.Method {
		return disqualified
	}
	return add(100)
}

func pathContribution(live, cand types.RequestRecord, strategy Strategy) contribution {
	if live.Path == cand.Path {
		return add(100)
	}

	switch strategy {
	case StrategyExact:
		return disqualified

	case StrategySmart:
		liveSegs := pathSegments(live.Path)
		candSegs := pathSegments(cand.Path)
		if len(liveSegs) != len(candSegs) {
			return disqualified
		}
		for i := range liveSegs {
			if liveSegs[i] == candSegs[i] {
				continue
			}
			if !LooksLikeID(liveSegs[i]) || !LooksLikeID(candSegs[i]) {
				return disqualified
			}
		}
		return add(90)

	case StrategyFuzzy:
		liveSegs := pathSegments(live.Path)
		candSegs := pathSegments(cand.Path)
		if len(liveSegs) != len(candSegs) || len(liveSegs) == 0 {
			return disqualified
		}
		matched := 0
		for i := range liveSegs {
			if liveSegs[i] == candSegs[i] {
				matched++
				continue
			}
			if !LooksLikeID(liveSegs[i]) && !LooksLikeID(candSegs[i]) {
				return disqualified
			}
		}
		return add(float64(matched) / float64(len(liveSegs)) * 80)
	}
	return disqualified
}

func queryContribution(live, cand types.RequestRecord, ignored map[string]struct{}) contribution {
	liveQ := withoutIgnored(live.Query, ignored)
	candQ := withoutIgnored(cand.Query, ignored)

	union := make(map[string]struct{}, len(liveQ)+len(candQ))
	for k := range liveQ {
		union[k] = struct{}{}
	}
	for k := range candQ {
		union[k] = struct{}{}
	}
	if len(union) == 0 {
		// Both sides agree on having no scorable parameters.
		return add(50)
	}

	matching := 0
	for k, v := range liveQ {
		if cv, ok := candQ[k]; ok && cv == v {
			matching++
		}
	}
	return add(float64(matching) / float64(len(union)) * 50)
}

func headerContribution(live, cand types.RequestRecord, ignored map[string]struct{}) contribution {
	liveH := foldedWithoutIgnored(live.Headers, ignored)
	candH := foldedWithoutIgnored(cand.Headers, ignored)

	union := make(map[string]struct{}, len(liveH)+len(candH))
	for k := range liveH {
		union[k] = struct{}{}
	}
	for k := range candH {
		union[k] = struct{}{}
	}
	if len(union) == 0 {
		return add(30)
	}

	matching := 0
	for k, v := range liveH {
		if cv, ok := candH[k]; ok && cv == v {
			matching++
		}
	}
	return add(float64(matching) / float64(len(union)) * 30)
}

func bodyContribution(live, cand types.RequestRecord) contribution {
	switch live.Method {
	case "POST", "PUT", "PATCH":
	default:
		return add(0)
	}

	if live.Body.Equal(cand.Body) {
		return add(50)
	}

	liveObj := live.Body.Object()
	candObj := cand.Body.Object()
	if liveObj == nil || candObj == nil {
		return add(0)
	}

	maxKeys := len(liveObj)
	if len(candObj) > maxKeys {
		maxKeys = len(candObj)
	}
	if maxKeys == 0 {
		return add(0)
	}
	common := 0
	for k := range liveObj {
		if _, ok := candObj[k]; ok {
			common++
		}
	}
	return add(float64(common) / float64(maxKeys) * 30)
}

var (
	allDigitsRe = regexp.MustCompile(`^[0-9]+$`)
	uuidRe      = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	hex24Re     = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)
	nanoidRe    = regexp.MustCompile(`^[A-Za-z0-9_-]{21}$`)
)

// LooksLikeID reports whether a path segment is a plausible identifier:
// all digits, a canonical UUID, a 24-hex ObjectId, or a 21-character
// nanoid-style token.
func LooksLikeID(segment string) bool {
	return allDigitsRe.MatchString(segment) ||
		uuidRe.MatchString(segment) ||
		hex24Re.MatchString(segment) ||
		nanoidRe.MatchString(segment)
}

func pathSegments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func foldSet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[strings.ToLower(k)] = struct{}{}
	}
	return set
}

func withoutIgnored(m map[string]string, ignored map[string]struct{}) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if _, skip := ignored[strings.ToLower(k)]; skip {
			continue
		}
		out[k] = v
	}
	return out
}

func foldedWithoutIgnored(m map[string]string, ignored map[string]struct{}) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		lk := strings.ToLower(k)
		if _, skip := ignored[lk]; skip {
			continue
		}
		out[lk] = v
	}
	return out
}
