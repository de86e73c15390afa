package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mockpilot/internal/types"
)

func TestLooksLikeID(t *testing.T) {
	tests := []struct {
		segment string
		want    bool
	}{
		{"123", true},
		{"0", true},
		{"550e8400-e29b-41d4-a716-446655440000", true},
		{"507f1f77bcf86cd799439011", true},          // 24 hex
		{"V1StGXR8_Z5jdHi6B-myT", true},             // 21-char nanoid
		{"hello", false},
		{"users", false},
		{"123abc", false},
		{"550e8400-e29b-41d4-a716", false},          // truncated uuid
		{"V1StGXR8_Z5jdHi6B-myT9", false},           // 22 chars
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.segment, func(t *testing.T) {
			assert.Equal(t, tt.want, LooksLikeID(tt.segment))
		})
	}
}

func entry(method, path string) *types.RecordedEntry {
	return &types.RecordedEntry{
		ID: path,
		Request: types.RequestRecord{
			Method: method,
			Path:   path,
		},
	}
}

func newMatcher(t *testing.T, strategy Strategy) *Matcher {
	t.Helper()
	m, err := New(Config{Strategy: strategy, IgnoredHeaders: DefaultIgnoredHeaders})
	require.NoError(t, err)
	return m
}

func TestMethodDisqualifies(t *testing.T) {
	live := types.RequestRecord{Method: "GET", Path: "/api/users"}
	entries := []*types.RecordedEntry{entry("POST", "/api/users")}

	for _, strategy := range []Strategy{StrategyExact, StrategySmart, StrategyFuzzy} {
		m := newMatcher(t, strategy)
		assert.Nil(t, m.Match(live, entries), "strategy %s", strategy)
	}
}

func TestExactStrategyMinimality(t *testing.T) {
	m := newMatcher(t, StrategyExact)
	live := types.RequestRecord{Method: "GET", Path: "/api/users/999"}

	// ID drift is not tolerated under exact.
	assert.Nil(t, m.Match(live, []*types.RecordedEntry{entry("GET", "/api/users/123")}))

	got := m.Match(live, []*types.RecordedEntry{entry("GET", "/api/users/999")})
	require.NotNil(t, got)
	assert.Equal(t, "/api/users/999", got.Entry.Request.Path)
}

func TestSmartPathIDDrift(t *testing.T) {
	m := newMatcher(t, StrategySmart)
	live := types.RequestRecord{Method: "GET", Path: "/api/users/999"}

	got := m.Match(live, []*types.RecordedEntry{entry("GET", "/api/users/123")})
	require.NotNil(t, got)
	assert.Equal(t, "/api/users/123", got.Entry.Request.Path)

	// A non-ID segment difference disqualifies.
	assert.Nil(t, m.Match(live, []*types.RecordedEntry{entry("GET", "/api/orders/123")}))
	// So does a segment-count difference.
	assert.Nil(t, m.Match(live, []*types.RecordedEntry{entry("GET", "/api/users/123/x")}))
}

func TestExactPathBeatsIDDrift(t *testing.T) {
	m := newMatcher(t, StrategySmart)
	live := types.RequestRecord{Method: "GET", Path: "/api/users/999"}
	entries := []*types.RecordedEntry{
		entry("GET", "/api/users/123"),
		entry("GET", "/api/users/999"),
	}
	got := m.Match(live, entries)
	require.NotNil(t, got)
	assert.Equal(t, "/api/users/999", got.Entry.Request.Path)
}

func TestFuzzySegmentRatio(t *testing.T) {
	m := newMatcher(t, StrategyFuzzy)
	live := types.RequestRecord{Method: "GET", Path: "/api/users/999"}

	got := m.Match(live, []*types.RecordedEntry{entry("GET", "/api/users/123")})
	require.NotNil(t, got)
	// method 100 + path (2/3)*80 + query 50 + headers 30
	assert.InDelta(t, 100+(2.0/3.0)*80+50+30, got.Score, 0.001)

	// Fuzzy still disqualifies when a mismatching segment is ID-like on
	// neither side.
	assert.Nil(t, m.Match(live, []*types.RecordedEntry{entry("GET", "/api/orders/999")}))
}

func TestQueryScoring(t *testing.T) {
	m := newMatcher(t, StrategySmart)
	live := types.RequestRecord{
		Method: "GET", Path: "/api/users",
		Query: map[string]string{"page": "1", "limit": "10"},
	}
	candidate := entry("GET", "/api/users")
	candidate.Request.Query = map[string]string{"page": "1", "sort": "asc"}

	got := m.Match(live, []*types.RecordedEntry{candidate})
	require.NotNil(t, got)
	// method 100 + path 100 + query (1/3)*50 + headers 30
	assert.InDelta(t, 100+100+(1.0/3.0)*50+30, got.Score, 0.001)
}

func TestIgnoredQueryParams(t *testing.T) {
	m, err := New(Config{Strategy: StrategySmart, IgnoredQueryParams: []string{"ts"}})
	require.NoError(t, err)

	live := types.RequestRecord{
		Method: "GET", Path: "/api/users",
		Query: map[string]string{"ts": "1700000000"},
	}
	got := m.Match(live, []*types.RecordedEntry{entry("GET", "/api/users")})
	require.NotNil(t, got)
	// Ignored params do not dilute the score.
	assert.InDelta(t, 100+100+50+30, got.Score, 0.001)
}

func TestHeaderScoringIsCaseFolded(t *testing.T) {
	m := newMatcher(t, StrategySmart)
	live := types.RequestRecord{
		Method: "GET", Path: "/api/users",
		Headers: map[string]string{"X-Tenant": "acme", "authorization": "Bearer xyz"},
	}
	candidate := entry("GET", "/api/users")
	candidate.Request.Headers = map[string]string{"x-tenant": "acme"}

	got := m.Match(live, []*types.RecordedEntry{candidate})
	require.NotNil(t, got)
	// authorization is in the default ignore set; x-tenant matches fully.
	assert.InDelta(t, 100+100+50+30, got.Score, 0.001)
}

func TestBodyScoring(t *testing.T) {
	m := newMatcher(t, StrategySmart)

	live := types.RequestRecord{
		Method: "POST", Path: "/api/users",
		Body: types.JSONBody(map[string]any{"name": "Ann", "role": "admin"}),
	}

	equal := entry("POST", "/api/users")
	equal.Request.Body = types.JSONBody(map[string]any{"name": "Ann", "role": "admin"})

	overlap := entry("POST", "/api/users")
	overlap.Request.Body = types.JSONBody(map[string]any{"name": "Bob", "role": "admin", "age": float64(3)})

	gotEqual := m.Match(live, []*types.RecordedEntry{equal})
	require.NotNil(t, gotEqual)
	gotOverlap := m.Match(live, []*types.RecordedEntry{overlap})
	require.NotNil(t, gotOverlap)

	// Deep equality is worth 50; two common keys over max three is (2/3)*30.
	assert.InDelta(t, 50, gotEqual.Score-gotOverlap.Score+(2.0/3.0)*30, 0.001)

	// GET requests score no body contribution at all.
	liveGet := live
	liveGet.Method = "GET"
	getCandidate := entry("GET", "/api/users")
	getCandidate.Request.Body = types.JSONBody(map[string]any{"other": true})
	gotGet := m.Match(liveGet, []*types.RecordedEntry{getCandidate})
	require.NotNil(t, gotGet)
	assert.InDelta(t, 100+100+50+30, gotGet.Score, 0.001)
}

func TestTiePreservesInputOrder(t *testing.T) {
	m := newMatcher(t, StrategySmart)
	live := types.RequestRecord{Method: "GET", Path: "/api/users/999"}
	first := entry("GET", "/api/users/111")
	second := entry("GET", "/api/users/222")

	got := m.Match(live, []*types.RecordedEntry{first, second})
	require.NotNil(t, got)
	assert.Same(t, first, got.Entry)
}

func TestEmptyInputReturnsNone(t *testing.T) {
	m := newMatcher(t, StrategySmart)
	assert.Nil(t, m.Match(types.RequestRecord{Method: "GET", Path: "/x"}, nil))
}

func TestRankOrdersByScore(t *testing.T) {
	m := newMatcher(t, StrategySmart)
	live := types.RequestRecord{Method: "GET", Path: "/api/users/999"}
	drifted := entry("GET", "/api/users/123")
	exact := entry("GET", "/api/users/999")

	ranked := m.Rank(live, []*types.RecordedEntry{drifted, exact})
	require.Len(t, ranked, 2)
	assert.Same(t, exact, ranked[0].Entry)
	assert.Same(t, drifted, ranked[1].Entry)
	assert.Greater(t, ranked[0].Score, ranked[1].Score)
}

func TestUnknownStrategyRejected(t *testing.T) {
	_, err := New(Config{Strategy: "psychic"})
	assert.Error(t, err)
}
