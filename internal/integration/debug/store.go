package debug

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ChangeKind says what part of the Store changed.
type ChangeKind int

const (
	// ChangeSource means the breakpoints of Change.Path were edited and
	// must be re-sent.
	ChangeSource ChangeKind = iota
	// ChangeFunctions means the function breakpoints were edited.
	ChangeFunctions
	// ChangeExceptions means the exception filter choices were edited.
	ChangeExceptions
	// ChangeStatus means adapter feedback updated breakpoints of
	// Change.Path. Nothing needs re-sending.
	ChangeStatus
	// ChangeWatches means the watch expressions were edited.
	ChangeWatches
)

// Change describes one Store mutation.
type Change struct {
	Kind ChangeKind
	Path string
}

// Store is the process-wide debugger state that outlives sessions:
// breakpoints, exception filter choices and watch expressions.
// It is safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	// All breakpoints by ID
	breakpoints map[int]*Breakpoint

	// Source breakpoints grouped by file path, in send order
	byPath map[string][]*Breakpoint

	functionBreakpoints []*Breakpoint

	// Exception filters last reported by an adapter, and the user's
	// choices, which persist across sessions.
	filters    []ExceptionFilter
	exceptions map[string]bool

	watches []string

	nextID int

	persistPath string

	subscribers map[int]func(Change)
	nextSub     int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		breakpoints: make(map[int]*Breakpoint),
		byPath:      make(map[string][]*Breakpoint),
		exceptions:  make(map[string]bool),
		nextID:      1,
		subscribers: make(map[int]func(Change)),
	}
}

// Subscribe registers fn to be called after every change. fn runs on the
// goroutine that made the change and must not call back into the Store
// synchronously. The returned function unsubscribes.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	s.mu.RLock()
	ids := make([]int, 0, len(s.subscribers))
	for id := range s.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subscribers[id])
	}
	s.mu.RUnlock()

	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
	}
}

// SetPersistPath sets the file used by Save and Load.
func (s *Store) SetPersistPath(path string) {
	s.mu.Lock()
	s.persistPath = path
	s.mu.Unlock()
}

// persistedStore is the on-disk format.
type persistedStore struct {
	Version     int             `json:"version"`
	Breakpoints []*Breakpoint   `json:"breakpoints"`
	Exceptions  map[string]bool `json:"exceptions,omitempty"`
	Watches     []string        `json:"watches,omitempty"`
}

// Save writes breakpoints, exception choices and watches to disk.
func (s *Store) Save() error {
	s.mu.RLock()
	path := s.persistPath
	data := persistedStore{
		Version:     2,
		Breakpoints: make([]*Breakpoint, 0, len(s.breakpoints)),
		Exceptions:  make(map[string]bool, len(s.exceptions)),
		Watches:     append([]string(nil), s.watches...),
	}
	for _, bp := range s.sortedLocked() {
		data.Breakpoints = append(data.Breakpoints, bp)
	}
	for k, v := range s.exceptions {
		data.Exceptions[k] = v
	}
	content, err := json.MarshalIndent(data, "", "  ")
	s.mu.RUnlock()

	if path == "" {
		return fmt.Errorf("persist path not set")
	}
	if err != nil {
		return fmt.Errorf("marshal breakpoints: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// Load replaces the store contents with what Save wrote. A missing file is
// not an error.
func (s *Store) Load() error {
	s.mu.Lock()
	if s.persistPath == "" {
		s.mu.Unlock()
		return fmt.Errorf("persist path not set")
	}

	content, err := os.ReadFile(s.persistPath)
	if err != nil {
		s.mu.Unlock()
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read file: %w", err)
	}

	var data persistedStore
	if err := json.Unmarshal(content, &data); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("unmarshal breakpoints: %w", err)
	}

	var changes []Change
	for path := range s.byPath {
		changes = append(changes, Change{Kind: ChangeSource, Path: path})
	}

	s.breakpoints = make(map[int]*Breakpoint)
	s.byPath = make(map[string][]*Breakpoint)
	s.functionBreakpoints = nil

	maxID := 0
	for _, bp := range data.Breakpoints {
		if bp == nil {
			continue
		}
		if bp.ID > maxID {
			maxID = bp.ID
		}
		bp.Acks = nil
		switch bp.Type {
		case BreakpointTypeFunction:
			s.breakpoints[bp.ID] = bp
			s.functionBreakpoints = append(s.functionBreakpoints, bp)
		default:
			if s.atLocked(bp.Path, bp.Line) != nil {
				continue
			}
			s.breakpoints[bp.ID] = bp
			s.byPath[bp.Path] = append(s.byPath[bp.Path], bp)
			changes = append(changes, Change{Kind: ChangeSource, Path: bp.Path})
		}
	}
	s.nextID = maxID + 1

	s.exceptions = make(map[string]bool, len(data.Exceptions))
	for k, v := range data.Exceptions {
		s.exceptions[k] = v
	}
	s.watches = append([]string(nil), data.Watches...)
	s.mu.Unlock()

	changes = append(changes,
		Change{Kind: ChangeFunctions},
		Change{Kind: ChangeExceptions},
		Change{Kind: ChangeWatches},
	)
	s.notify(dedupe(changes)...)
	return nil
}

func dedupe(changes []Change) []Change {
	seen := make(map[Change]bool, len(changes))
	out := changes[:0]
	for _, c := range changes {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func (s *Store) sortedLocked() []*Breakpoint {
	out := make([]*Breakpoint, 0, len(s.breakpoints))
	for _, bp := range s.breakpoints {
		out = append(out, bp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
