// (C) 2025 GoodData Corporation

// Package storage persists recorded request/response pairs. Two backings
// implement the same contract: a JSON file journal for development-sized
// corpora, and an embedded sqlite database.
package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mockpilot/internal/types"
)

// ErrClosed is returned by any operation on a closed store.
var ErrClosed = errors.New("storage: store is closed")

// Store is the contract consumed by replay lookup, record-on-forward, the
// admin endpoints, and the CLI. All operations are safe under concurrent
// callers; each operation is its own transaction.
type Store interface {
	// Init prepares the backing: parent directories, journal file, or
	// relational schema and indexes.
	Init() error
	// Save persists a new entry with a fresh id and CreatedAt = now.
	Save(req types.RequestRecord, resp types.ResponseRecord) (*types.RecordedEntry, error)
	// Find returns the most recently created entry with identical method
	// and path, or nil. Approximate matching iterates over List instead.
	Find(req types.RequestRecord) (*types.RecordedEntry, error)
	FindByID(id string) (*types.RecordedEntry, error)
	// List returns all entries, most recent first.
	List() ([]*types.RecordedEntry, error)
	Delete(id string) (bool, error)
	Clear() error
	Count() (int, error)
	// Search filters by method (empty = any) and a path glob where '*'
	// matches any run of characters.
	Search(method, pathGlob string) ([]*types.RecordedEntry, error)
	// Range returns entries created within [start, end] epoch millis.
	Range(start, end int64) ([]*types.RecordedEntry, error)
	Close() error
}

// idSeq disambiguates ids generated within the same millisecond.
var idSeq atomic.Uint32

// GenerateID returns a unique entry id with a monotonic prefix, so that
// insertion order is recoverable by lexicographic sort. The zero-padded
// millisecond prefix plus a process-wide sequence keeps rapid successive
// ids ordered; the uuid suffix guards against collisions across processes.
func GenerateID() string {
	millis := time.Now().UnixMilli()
	seq := idSeq.Add(1)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%013d-%08x-%s", millis, seq, suffix)
}

// globMatch matches s against a glob where '*' matches any run of
// characters. Used by Search on both backings.
func globMatch(glob, s string) bool {
	if glob == "" || glob == "*" {
		return true
	}
	parts := strings.Split(glob, "*")
	if len(parts) == 1 {
		return glob == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}

// sortMostRecentFirst orders entries by CreatedAt descending, breaking ties
// by id descending (ids carry a monotonic prefix).
func sortMostRecentFirst(entries []*types.RecordedEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAt != entries[j].CreatedAt {
			return entries[i].CreatedAt > entries[j].CreatedAt
		}
		return entries[i].ID > entries[j].ID
	})
}
