package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		path    string
		want    bool
	}{
		{"literal match", "/api/users", "/api/users", true},
		{"literal mismatch", "/api/users", "/api/orders", false},
		{"literal length mismatch", "/api/users", "/api/users/1", false},
		{"capture matches one segment", "/api/users/:id", "/api/users/123", true},
		{"capture needs a segment", "/api/users/:id", "/api/users", false},
		{"capture is single-segment", "/api/users/:id", "/api/users/1/posts", false},
		{"segment wildcard", "/api/*/detail", "/api/users/detail", true},
		{"suffix wildcard takes rest", "/api/users/*", "/api/users/1/posts/2", true},
		{"suffix wildcard allows empty rest", "/api/users/*", "/api/users", true},
		{"suffix wildcard prefix must match", "/api/users/*", "/api/orders/1", false},
		{"bare star matches anything", "*", "/anything/at/all", true},
		{"root pattern", "/", "/", true},
		{"regex metacharacters are literal", "/api/v1.0/users+admins", "/api/v1.0/users+admins", true},
		{"dot does not match any char", "/api/v1.0", "/api/v1x0", false},
		{"trailing slash ignored", "/api/users", "/api/users/", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Match(tt.path))
		})
	}
}

func TestParams(t *testing.T) {
	p := MustCompile("/api/:resource/:id/detail")
	params, ok := p.Params("/api/users/42/detail")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"resource": "users", "id": "42"}, params)

	_, ok = p.Params("/api/users/42/summary")
	assert.False(t, ok)
}

func TestParamsWithSuffixWildcard(t *testing.T) {
	p := MustCompile("/files/:bucket/*")
	params, ok := p.Params("/files/images/2024/cat.png")
	require.True(t, ok)
	assert.Equal(t, "images", params["bucket"])
}

func TestCompileErrors(t *testing.T) {
	for _, raw := range []string{"", "api/users", "/api/:"} {
		_, err := Compile(raw)
		assert.Error(t, err, "pattern %q", raw)
	}
}
