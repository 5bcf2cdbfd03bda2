package engine

import (
	"context"
	"time"
)

// Document is the durable record the engine arbitrates. C is the opaque
// content snapshot; the engine never looks inside it.
type Document[C any] struct {
	ID            string
	Title         string
	Content       C
	Version       uint64
	LastModified  time.Time
	OwnerID       uint64
	Collaborators []uint64
}

// Snapshot returns the externally visible state of the document.
func (d *Document[C]) Snapshot() Snapshot[C] {
	return Snapshot[C]{
		DocumentID:   d.ID,
		Title:        d.Title,
		Content:      d.Content,
		Version:      d.Version,
		LastModified: d.LastModified,
	}
}

// Snapshot is the authoritative {title, content, version, lastModified}
// tuple sent on join, commit, broadcast and rejection.
type Snapshot[C any] struct {
	DocumentID   string    `json:"documentId"`
	Title        string    `json:"title"`
	Content      C         `json:"content"`
	Version      uint64    `json:"version"`
	LastModified time.Time `json:"lastModified"`
}

// CommitResult is what a conditional commit reports. When Committed is
// false, Current holds the state that made the base version stale, read in
// the same atomic step as the failed check.
type CommitResult[C any] struct {
	Committed bool
	Current   Snapshot[C]
}

// Store is the snapshot store the engine commits against.
//
// ConditionalCommit must compare baseVersion with the stored version and,
// only when they are equal, replace the content, increment the version by
// exactly one and stamp lastModified, as one atomic step per document. An
// error means nothing became visible.
type Store[C any] interface {
	Get(ctx context.Context, documentID string) (*Document[C], error)
	ConditionalCommit(ctx context.Context, documentID string, baseVersion uint64, content C, now time.Time) (CommitResult[C], error)
	GrantCollaborator(ctx context.Context, documentID string, userID uint64) error
}

// Access is a user's standing on a document.
type Access int

const (
	AccessNone Access = iota
	AccessCollaborator
	AccessOwner
)

func (a Access) String() string {
	switch a {
	case AccessOwner:
		return "owner"
	case AccessCollaborator:
		return "collaborator"
	default:
		return "none"
	}
}

// ResolveAccess reports how userID relates to doc. It has no side effects.
func ResolveAccess[C any](doc *Document[C], userID uint64) Access {
	if doc == nil || userID == 0 {
		return AccessNone
	}
	if doc.OwnerID == userID {
		return AccessOwner
	}
	for _, id := range doc.Collaborators {
		if id == userID {
			return AccessCollaborator
		}
	}
	return AccessNone
}
