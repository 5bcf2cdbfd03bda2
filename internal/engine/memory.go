package engine

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Each document has its own lock, so
// commits to different documents never contend.
type MemoryStore[C any] struct {
	mu   sync.RWMutex
	docs map[string]*memoryDoc[C]
}

type memoryDoc[C any] struct {
	mu  sync.Mutex
	doc Document[C]
}

func NewMemoryStore[C any]() *MemoryStore[C] {
	return &MemoryStore[C]{docs: make(map[string]*memoryDoc[C])}
}

// Create stores a new document at version 0.
func (s *MemoryStore[C]) Create(id, title string, ownerID uint64, content C, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] = &memoryDoc[C]{doc: Document[C]{
		ID:           id,
		Title:        title,
		Content:      content,
		OwnerID:      ownerID,
		LastModified: now,
	}}
}

func (s *MemoryStore[C]) entry(id string) (*memoryDoc[C], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore[C]) Get(_ context.Context, id string) (*Document[C], error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	doc := e.doc
	doc.Collaborators = slices.Clone(e.doc.Collaborators)
	return &doc, nil
}

func (s *MemoryStore[C]) ConditionalCommit(_ context.Context, id string, baseVersion uint64, content C, now time.Time) (CommitResult[C], error) {
	e, err := s.entry(id)
	if err != nil {
		return CommitResult[C]{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.doc.Version != baseVersion {
		return CommitResult[C]{Committed: false, Current: e.doc.Snapshot()}, nil
	}
	e.doc.Content = content
	e.doc.Version++
	e.doc.LastModified = now
	return CommitResult[C]{Committed: true, Current: e.doc.Snapshot()}, nil
}

func (s *MemoryStore[C]) GrantCollaborator(_ context.Context, id string, userID uint64) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.doc.OwnerID == userID || slices.Contains(e.doc.Collaborators, userID) {
		return nil
	}
	e.doc.Collaborators = append(e.doc.Collaborators, userID)
	return nil
}

var _ Store[string] = (*MemoryStore[string])(nil)
