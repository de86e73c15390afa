package storage

import (
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mockpilot/internal/types"
)

// storeUnderTest runs the shared contract tests against both backings.
func storeUnderTest(t *testing.T, name string) Store {
	t.Helper()
	dir := t.TempDir()
	var store Store
	switch name {
	case "journal":
		store = NewJournalStore(filepath.Join(dir, "mocks", "db.json"))
	case "sqlite":
		store = NewSQLiteStore(filepath.Join(dir, "mocks", "db.sqlite"))
	default:
		t.Fatalf("unknown backing %s", name)
	}
	require.NoError(t, store.Init())
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRequest(method, path string) types.RequestRecord {
	return types.RequestRecord{
		Method:  method,
		URL:     path,
		Path:    path,
		Query:   map[string]string{"page": "1"},
		Headers: map[string]string{"content-type": "application/json"},
		Body:    types.JSONBody(map[string]any{"name": "Ann"}),
	}
}

func sampleResponse(status int) types.ResponseRecord {
	return types.ResponseRecord{
		Status:  status,
		Headers: map[string]string{"content-type": "application/json"},
		Body:    types.JSONBody(map[string]any{"ok": true}),
	}
}

func TestStoreContract(t *testing.T) {
	for _, backing := range []string{"journal", "sqlite"} {
		t.Run(backing, func(t *testing.T) {
			t.Run("round trip", func(t *testing.T) {
				store := storeUnderTest(t, backing)
				saved, err := store.Save(sampleRequest("GET", "/api/users"), sampleResponse(200))
				require.NoError(t, err)
				require.NotEmpty(t, saved.ID)

				got, err := store.FindByID(saved.ID)
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.Equal(t, "GET", got.Request.Method)
				assert.Equal(t, "/api/users", got.Request.Path)
				assert.Equal(t, map[string]string{"page": "1"}, got.Request.Query)
				assert.Equal(t, 200, got.Response.Status)
				assert.True(t, got.Request.Body.Equal(types.JSONBody(map[string]any{"name": "Ann"})))
			})

			t.Run("absent body stays absent", func(t *testing.T) {
				store := storeUnderTest(t, backing)
				req := sampleRequest("DELETE", "/api/users/1")
				req.Body = nil
				resp := sampleResponse(204)
				resp.Body = nil
				saved, err := store.Save(req, resp)
				require.NoError(t, err)

				got, err := store.FindByID(saved.ID)
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.Nil(t, got.Request.Body)
				assert.Nil(t, got.Response.Body)
			})

			t.Run("null body stays present", func(t *testing.T) {
				store := storeUnderTest(t, backing)
				req := sampleRequest("POST", "/api/users")
				req.Body = types.JSONBody(nil)
				saved, err := store.Save(req, sampleResponse(200))
				require.NoError(t, err)

				got, err := store.FindByID(saved.ID)
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.NotNil(t, got.Request.Body)
			})

			t.Run("find returns most recent for method and path", func(t *testing.T) {
				store := storeUnderTest(t, backing)
				_, err := store.Save(sampleRequest("GET", "/api/users"), sampleResponse(200))
				require.NoError(t, err)
				second, err := store.Save(sampleRequest("GET", "/api/users"), sampleResponse(201))
				require.NoError(t, err)
				_, err = store.Save(sampleRequest("POST", "/api/users"), sampleResponse(500))
				require.NoError(t, err)

				got, err := store.Find(types.RequestRecord{Method: "GET", Path: "/api/users"})
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.Equal(t, second.ID, got.ID)

				miss, err := store.Find(types.RequestRecord{Method: "GET", Path: "/api/missing"})
				require.NoError(t, err)
				assert.Nil(t, miss)
			})

			t.Run("list is most recent first and count agrees", func(t *testing.T) {
				store := storeUnderTest(t, backing)
				for _, path := range []string{"/a", "/b", "/c"} {
					_, err := store.Save(sampleRequest("GET", path), sampleResponse(200))
					require.NoError(t, err)
				}
				entries, err := store.List()
				require.NoError(t, err)
				require.Len(t, entries, 3)
				assert.Equal(t, "/c", entries[0].Request.Path)
				assert.Equal(t, "/a", entries[2].Request.Path)

				count, err := store.Count()
				require.NoError(t, err)
				assert.Equal(t, len(entries), count)
			})

			t.Run("delete then find by id returns none", func(t *testing.T) {
				store := storeUnderTest(t, backing)
				saved, err := store.Save(sampleRequest("GET", "/x"), sampleResponse(200))
				require.NoError(t, err)

				deleted, err := store.Delete(saved.ID)
				require.NoError(t, err)
				assert.True(t, deleted)

				got, err := store.FindByID(saved.ID)
				require.NoError(t, err)
				assert.Nil(t, got)

				deleted, err = store.Delete(saved.ID)
				require.NoError(t, err)
				assert.False(t, deleted)
			})

			t.Run("clear is idempotent", func(t *testing.T) {
				store := storeUnderTest(t, backing)
				_, err := store.Save(sampleRequest("GET", "/x"), sampleResponse(200))
				require.NoError(t, err)

				require.NoError(t, store.Clear())
				require.NoError(t, store.Clear())

				count, err := store.Count()
				require.NoError(t, err)
				assert.Equal(t, 0, count)
				entries, err := store.List()
				require.NoError(t, err)
				assert.Empty(t, entries)
			})

			t.Run("search with glob", func(t *testing.T) {
				store := storeUnderTest(t, backing)
				for _, path := range []string{"/api/users/1", "/api/users/2", "/api/orders/1"} {
					_, err := store.Save(sampleRequest("GET", path), sampleResponse(200))
					require.NoError(t, err)
				}
				_, err := store.Save(sampleRequest("POST", "/api/users/1"), sampleResponse(201))
				require.NoError(t, err)

				users, err := store.Search("", "/api/users/*")
				require.NoError(t, err)
				assert.Len(t, users, 3)

				getUsers, err := store.Search("GET", "/api/users/*")
				require.NoError(t, err)
				assert.Len(t, getUsers, 2)
			})

			t.Run("range filters by creation time", func(t *testing.T) {
				store := storeUnderTest(t, backing)
				saved, err := store.Save(sampleRequest("GET", "/x"), sampleResponse(200))
				require.NoError(t, err)

				within, err := store.Range(saved.CreatedAt-1000, saved.CreatedAt+1000)
				require.NoError(t, err)
				assert.Len(t, within, 1)

				outside, err := store.Range(saved.CreatedAt+1000, saved.CreatedAt+2000)
				require.NoError(t, err)
				assert.Empty(t, outside)
			})

			t.Run("operations after close fail", func(t *testing.T) {
				store := storeUnderTest(t, backing)
				require.NoError(t, store.Close())

				_, err := store.Save(sampleRequest("GET", "/x"), sampleResponse(200))
				assert.ErrorIs(t, err, ErrClosed)
				_, err = store.List()
				assert.ErrorIs(t, err, ErrClosed)
				_, err = store.Count()
				assert.ErrorIs(t, err, ErrClosed)
			})

			t.Run("concurrent saves and lists", func(t *testing.T) {
				store := storeUnderTest(t, backing)
				var wg sync.WaitGroup
				for i := 0; i < 8; i++ {
					wg.Add(2)
					go func() {
						defer wg.Done()
						_, err := store.Save(sampleRequest("GET", "/api/users"), sampleResponse(200))
						assert.NoError(t, err)
					}()
					go func() {
						defer wg.Done()
						_, err := store.List()
						assert.NoError(t, err)
					}()
				}
				wg.Wait()

				count, err := store.Count()
				require.NoError(t, err)
				assert.Equal(t, 8, count)
			})
		})
	}
}

func TestJournalPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")

	store := NewJournalStore(path)
	require.NoError(t, store.Init())
	saved, err := store.Save(sampleRequest("GET", "/api/users"), sampleResponse(200))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened := NewJournalStore(path)
	require.NoError(t, reopened.Init())
	defer reopened.Close()

	got, err := reopened.FindByID(saved.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "/api/users", got.Request.Path)
}

func TestGenerateIDOrderAndUniqueness(t *testing.T) {
	ids := make([]string, 200)
	seen := make(map[string]struct{}, len(ids))
	for i := range ids {
		ids[i] = GenerateID()
		_, dup := seen[ids[i]]
		require.False(t, dup, "duplicate id %s", ids[i])
		seen[ids[i]] = struct{}{}
	}
	assert.True(t, sort.StringsAreSorted(ids), "ids must sort in insertion order")
}

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		glob string
		s    string
		want bool
	}{
		{"", "/anything", true},
		{"*", "/anything", true},
		{"/api/users/*", "/api/users/1", true},
		{"/api/users/*", "/api/orders/1", false},
		{"/api/*/detail", "/api/users/detail", true},
		{"/api/users", "/api/users", true},
		{"/api/users", "/api/users/1", false},
		{"*users*", "/api/users/1", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, globMatch(tt.glob, tt.s), "glob %q vs %q", tt.glob, tt.s)
	}
}
