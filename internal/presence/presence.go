package presence

import (
	"sort"
	"sync"
)

// CursorRange is a selection in the document's linear text projection.
// From <= To is not enforced.
type CursorRange struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

type DisplayInfo struct {
	Name string
}

// Entry is one user's visible presence in a document. Several connections of
// the same user collapse into a single entry.
type Entry struct {
	UserID      uint64       `json:"userId"`
	Name        string       `json:"name"`
	Cursor      *CursorRange `json:"cursorRange"`
	Connections int          `json:"connections"`
}

type userState struct {
	name   string
	cursor *CursorRange
	conns  map[string]struct{}
}

type shard struct {
	mu     sync.Mutex
	users  map[uint64]*userState
	byConn map[string]uint64
}

// Table is the process-wide presence store, sharded by document. Shards
// are created on first join and dropped when their last user leaves.
type Table struct {
	mu     sync.Mutex
	shards map[string]*shard
}

func NewTable() *Table {
	return &Table{shards: make(map[string]*shard)}
}

// lock returns the document's shard with its lock held, or nil when the
// document has no shard and create is false.
func (t *Table) lock(documentID string, create bool) *shard {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.shards[documentID]
	if !ok {
		if !create {
			return nil
		}
		s = &shard{
			users:  make(map[uint64]*userState),
			byConn: make(map[string]uint64),
		}
		t.shards[documentID] = s
	}
	s.mu.Lock()
	return s
}

// dropIfEmpty forgets an empty shard. The shard lock must not be held.
func (t *Table) dropIfEmpty(documentID string, s *shard) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s.mu.Lock()
	empty := len(s.users) == 0
	s.mu.Unlock()
	if empty && t.shards[documentID] == s {
		delete(t.shards, documentID)
	}
}

// Add registers connectionID for userID in the document. It reports whether
// the visible entry list changed, which is only the case when this is the
// user's first connection in the document.
func (t *Table) Add(documentID string, userID uint64, connectionID string, info DisplayInfo) bool {
	s := t.lock(documentID, true)
	defer s.mu.Unlock()

	if _, ok := s.byConn[connectionID]; ok {
		return false
	}
	s.byConn[connectionID] = userID

	u, ok := s.users[userID]
	if !ok {
		s.users[userID] = &userState{
			name:  info.Name,
			conns: map[string]struct{}{connectionID: {}},
		}
		return true
	}
	u.conns[connectionID] = struct{}{}
	return false
}

// Remove drops connectionID from the document. The user's entry disappears
// with its last connection; only then does Remove report a change.
func (t *Table) Remove(documentID, connectionID string) bool {
	s := t.lock(documentID, false)
	if s == nil {
		return false
	}
	userID, ok := s.byConn[connectionID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.byConn, connectionID)

	changed := false
	if u := s.users[userID]; u != nil {
		delete(u.conns, connectionID)
		if len(u.conns) == 0 {
			delete(s.users, userID)
			changed = true
		}
	}
	s.mu.Unlock()

	if changed {
		t.dropIfEmpty(documentID, s)
	}
	return changed
}

// UpdateCursor moves the cursor of userID's own entry. A user without an
// entry in the document is ignored.
func (t *Table) UpdateCursor(documentID string, userID uint64, cursor *CursorRange) bool {
	s := t.lock(documentID, false)
	if s == nil {
		return false
	}
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return false
	}
	if sameCursor(u.cursor, cursor) {
		return false
	}
	if cursor == nil {
		u.cursor = nil
	} else {
		c := *cursor
		u.cursor = &c
	}
	return true
}

func (t *Table) List(documentID string) []Entry {
	s := t.lock(documentID, false)
	if s == nil {
		return []Entry{}
	}
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.users))
	for id, u := range s.users {
		e := Entry{UserID: id, Name: u.name, Connections: len(u.conns)}
		if u.cursor != nil {
			c := *u.cursor
			e.Cursor = &c
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func sameCursor(a, b *CursorRange) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
