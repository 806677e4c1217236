package history

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/unkn0wn-root/restrun/internal/errdef"
)

const DefaultMaxEntries = 200

// Entry records one request execution. Failed executions are kept too.
type Entry struct {
	ID          string        `json:"id"`
	ExecutedAt  time.Time     `json:"executedAt"`
	RunID       string        `json:"runId,omitempty"`
	ProjectID   string        `json:"projectId,omitempty"`
	Environment string        `json:"environment,omitempty"`
	RequestID   string        `json:"requestId"`
	RequestName string        `json:"requestName"`
	Method      string        `json:"method"`
	URL         string        `json:"url"`
	Status      string        `json:"status,omitempty"`
	StatusCode  int           `json:"statusCode,omitempty"`
	Duration    time.Duration `json:"duration"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	ScriptError string        `json:"scriptError,omitempty"`
	PassedTests int           `json:"passedTests"`
	FailedTests int           `json:"failedTests"`
	BodySnippet string        `json:"bodySnippet,omitempty"`
}

type Store struct {
	path       string
	maxEntries int
	entries    []Entry
	mu         sync.RWMutex
	loaded     bool
}

func NewStore(path string, maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Store{path: path, maxEntries: maxEntries}
}

func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLoadedLocked()
}

func (s *Store) Append(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}

	s.entries = append([]Entry{entry}, s.entries...)
	s.sortEntriesLocked()
	if len(s.entries) > s.maxEntries {
		s.entries = s.entries[:s.maxEntries]
	}
	return s.persist()
}

func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copies := make([]Entry, len(s.entries))
	copy(copies, s.entries)
	return copies
}

func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoadedLocked(); err != nil {
		return false, err
	}

	idx := -1
	for i, entry := range s.entries {
		if entry.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false, nil
	}

	copy(s.entries[idx:], s.entries[idx+1:])
	s.entries = s.entries[:len(s.entries)-1]
	if err := s.persist(); err != nil {
		return false, err
	}
	return true, nil
}

// Clear drops every entry and rewrites the file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = []Entry{}
	s.loaded = true
	return s.persist()
}

// ByRequest matches on request id or name.
func (s *Store) ByRequest(identifier string) []Entry {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return s.Entries()
	}
	return s.filter(func(e Entry) bool {
		return e.RequestID == identifier || e.RequestName == identifier
	})
}

func (s *Store) ByProject(projectID string) []Entry {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil
	}
	return s.filter(func(e Entry) bool { return e.ProjectID == projectID })
}

func (s *Store) ByRun(runID string) []Entry {
	if runID == "" {
		return nil
	}
	return s.filter(func(e Entry) bool { return e.RunID == runID })
}

// Search keeps entries whose name, method or URL contain every word of
// query, ignoring case. A blank query returns everything.
func (s *Store) Search(query string) []Entry {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return s.Entries()
	}
	return s.filter(func(e Entry) bool {
		text := strings.ToLower(e.RequestName + " " + e.Method + " " + e.URL)
		for _, token := range tokens {
			if !strings.Contains(text, token) {
				return false
			}
		}
		return true
	})
}

func (s *Store) filter(keep func(Entry) bool) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []Entry
	for _, entry := range s.entries {
		if keep(entry) {
			matched = append(matched, entry)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return newerFirst(matched[i], matched[j])
	})
	return matched
}

func (s *Store) persist() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errdef.Wrap(errdef.CodeFilesystem, err, "create history dir")
	}

	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return errdef.Wrap(errdef.CodeHistory, err, "encode history")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errdef.Wrap(errdef.CodeFilesystem, err, "write history tmp")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errdef.Wrap(errdef.CodeFilesystem, err, "replace history file")
	}
	return nil
}

func (s *Store) sortEntriesLocked() {
	if len(s.entries) < 2 {
		return
	}
	sort.SliceStable(s.entries, func(i, j int) bool {
		return newerFirst(s.entries[i], s.entries[j])
	})
}

func (s *Store) ensureLoadedLocked() error {
	if s.loaded {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.entries = []Entry{}
			s.loaded = true
			return nil
		}
		return errdef.Wrap(errdef.CodeHistory, err, "read history")
	}

	if len(data) == 0 {
		s.entries = []Entry{}
		s.loaded = true
		return nil
	}

	if err := json.Unmarshal(data, &s.entries); err != nil {
		return errdef.Wrap(errdef.CodeHistory, err, "parse history")
	}

	s.sortEntriesLocked()
	s.loaded = true
	return nil
}

func newerFirst(a, b Entry) bool {
	ai := a.ExecutedAt
	bi := b.ExecutedAt
	switch {
	case ai.IsZero() && bi.IsZero():
		return a.ID > b.ID
	case ai.IsZero():
		return false
	case bi.IsZero():
		return true
	case ai.Equal(bi):
		return a.ID > b.ID
	default:
		return ai.After(bi)
	}
}

// Snippet trims a response body for storage.
func Snippet(body []byte, limit int) string {
	if limit <= 0 || len(body) <= limit {
		return string(body)
	}
	cut := limit
	for cut > 0 && !isRuneStart(body[cut]) {
		cut--
	}
	return string(body[:cut]) + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
