package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"collaborative-doc-sync/internal/telemetry"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// Result is the outcome of a proposal that reached the store. Committed
// results carry the new state; rejections carry the authoritative current
// state the proposer must resync to.
type Result[C any] struct {
	Committed bool
	Snapshot  Snapshot[C]
}

// Engine arbitrates concurrent whole-snapshot edits with optimistic
// concurrency on the document version. It holds no per-document state of
// its own: the store's conditional commit is the only serialization point.
type Engine[C any] struct {
	store Store[C]
	now   func() time.Time
}

type Option[C any] func(*Engine[C])

// WithClock overrides the time source used for lastModified.
func WithClock[C any](now func() time.Time) Option[C] {
	return func(e *Engine[C]) { e.now = now }
}

func New[C any](store Store[C], opts ...Option[C]) *Engine[C] {
	e := &Engine[C]{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProposeEdit tries to replace the document content with content, based on
// baseVersion. Exactly one proposal per base version can commit; every other
// one gets a rejection carrying the post-commit state. Access is checked but
// never granted here.
func (e *Engine[C]) ProposeEdit(ctx context.Context, documentID string, content C, baseVersion uint64, requesterID uint64) (Result[C], error) {
	if documentID == "" || requesterID == 0 {
		return Result[C]{}, ErrInvalidProposal
	}

	ctx, span := telemetry.StartSpan(ctx, "Engine.ProposeEdit",
		attribute.String("document.id", documentID),
		attribute.Int64("document.base_version", int64(baseVersion)),
	)
	defer span.End()

	doc, err := e.store.Get(ctx, documentID)
	if err != nil {
		telemetry.AddSpanError(ctx, err)
		return Result[C]{}, err
	}
	if ResolveAccess(doc, requesterID) == AccessNone {
		return Result[C]{}, ErrForbidden
	}

	res, err := e.store.ConditionalCommit(ctx, documentID, baseVersion, content, e.now())
	if err != nil {
		telemetry.AddSpanError(ctx, err)
		if errors.Is(err, ErrNotFound) {
			return Result[C]{}, err
		}
		return Result[C]{}, fmt.Errorf("commit document %s: %w", documentID, err)
	}

	span.SetAttributes(
		attribute.Bool("document.committed", res.Committed),
		attribute.Int64("document.version", int64(res.Current.Version)),
	)

	if !res.Committed {
		log.Debug().
			Str("document_id", documentID).
			Uint64("base_version", baseVersion).
			Uint64("current_version", res.Current.Version).
			Uint64("user_id", requesterID).
			Msg("stale proposal rejected")
		return Result[C]{Committed: false, Snapshot: res.Current}, nil
	}

	log.Debug().
		Str("document_id", documentID).
		Uint64("version", res.Current.Version).
		Uint64("user_id", requesterID).
		Msg("proposal committed")
	return Result[C]{Committed: true, Snapshot: res.Current}, nil
}

// Join returns the authoritative state for a joiner, granting collaborator
// access first when the user has none. This is the only place access is
// granted implicitly.
func (e *Engine[C]) Join(ctx context.Context, documentID string, userID uint64) (Snapshot[C], Access, error) {
	if documentID == "" || userID == 0 {
		return Snapshot[C]{}, AccessNone, ErrInvalidProposal
	}

	doc, err := e.store.Get(ctx, documentID)
	if err != nil {
		return Snapshot[C]{}, AccessNone, err
	}

	access := ResolveAccess(doc, userID)
	if access == AccessNone {
		if err := e.store.GrantCollaborator(ctx, documentID, userID); err != nil {
			return Snapshot[C]{}, AccessNone, fmt.Errorf("grant collaborator on %s: %w", documentID, err)
		}
		log.Info().Str("document_id", documentID).Uint64("user_id", userID).Msg("collaborator granted on join")
		access = AccessCollaborator
	}

	return doc.Snapshot(), access, nil
}

// Current returns the stored state of the document without any access check.
func (e *Engine[C]) Current(ctx context.Context, documentID string) (Snapshot[C], error) {
	doc, err := e.store.Get(ctx, documentID)
	if err != nil {
		return Snapshot[C]{}, err
	}
	return doc.Snapshot(), nil
}
