// (C) 2025 GoodData Corporation
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mockpilot/internal/types"
)

// journalDocument is the on-disk shape of the file journal.
type journalDocument struct {
	Entries []*types.RecordedEntry `json:"entries"`
}

// JournalStore keeps all entries in one JSON document, read into memory on
// Init and flushed on every mutation. Mutations hold a single writer lock
// around the read-modify-write of the journal; reads take snapshots under a
// read lock.
type JournalStore struct {
	path string

	mu      sync.RWMutex
	entries []*types.RecordedEntry
	closed  bool
}

// NewJournalStore creates a journal store backed by the JSON document at
// path. Call Init before use.
func NewJournalStore(path string) *JournalStore {
	return &JournalStore{path: path}
}

// Init creates parent directories and loads the journal if it exists.
func (s *JournalStore) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating journal directory: %w", err)
		}
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.entries = make([]*types.RecordedEntry, 0)
		return s.flushLocked()
	}
	if err != nil {
		return fmt.Errorf("reading journal %s: %w", s.path, err)
	}

	var doc journalDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing journal %s: %w", s.path, err)
	}
	s.entries = doc.Entries
	if s.entries == nil {
		s.entries = make([]*types.RecordedEntry, 0)
	}
	return nil
}

// flushLocked writes the journal to disk. Callers hold the write lock.
func (s *JournalStore) flushLocked() error {
	doc := journalDocument{Entries: s.entries}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding journal: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing journal %s: %w", s.path, err)
	}
	return nil
}

func (s *JournalStore) Save(req types.RequestRecord, resp types.ResponseRecord) (*types.RecordedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	entry := &types.RecordedEntry{
		ID:        GenerateID(),
		Request:   req,
		Response:  resp,
		CreatedAt: time.Now().UnixMilli(),
	}
	s.entries = append(s.entries, entry)
	if err := s.flushLocked(); err != nil {
		// Roll the in-memory view back so it never diverges from disk.
		s.entries = s.entries[:len(s.entries)-1]
		return nil, err
	}
	return entry, nil
}

func (s *JournalStore) Find(req types.RequestRecord) (*types.RecordedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var best *types.RecordedEntry
	for _, e := range s.entries {
		if e.Request.Method != req.Method || e.Request.Path != req.Path {
			continue
		}
		if best == nil || e.CreatedAt > best.CreatedAt ||
			(e.CreatedAt == best.CreatedAt && e.ID > best.ID) {
			best = e
		}
	}
	return best, nil
}

func (s *JournalStore) FindByID(id string) (*types.RecordedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	for _, e := range s.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, nil
}

func (s *JournalStore) List() ([]*types.RecordedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]*types.RecordedEntry, len(s.entries))
	copy(out, s.entries)
	sortMostRecentFirst(out)
	return out, nil
}

func (s *JournalStore) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	for i, e := range s.entries {
		if e.ID == id {
			removed := e
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			if err := s.flushLocked(); err != nil {
				s.entries = append(s.entries[:i], append([]*types.RecordedEntry{removed}, s.entries[i:]...)...)
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

func (s *JournalStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	previous := s.entries
	s.entries = make([]*types.RecordedEntry, 0)
	if err := s.flushLocked(); err != nil {
		s.entries = previous
		return err
	}
	return nil
}

func (s *JournalStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return len(s.entries), nil
}

func (s *JournalStore) Search(method, pathGlob string) ([]*types.RecordedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]*types.RecordedEntry, 0)
	for _, e := range s.entries {
		if method != "" && e.Request.Method != method {
			continue
		}
		if !globMatch(pathGlob, e.Request.Path) {
			continue
		}
		out = append(out, e)
	}
	sortMostRecentFirst(out)
	return out, nil
}

func (s *JournalStore) Range(start, end int64) ([]*types.RecordedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]*types.RecordedEntry, 0)
	for _, e := range s.entries {
		if e.CreatedAt >= start && e.CreatedAt <= end {
			out = append(out, e)
		}
	}
	sortMostRecentFirst(out)
	return out, nil
}

func (s *JournalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
