package document

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"collaborative-doc-sync/internal/domain"
	"collaborative-doc-sync/internal/engine"
	"collaborative-doc-sync/internal/errors"
	"collaborative-doc-sync/internal/presence"
	"collaborative-doc-sync/internal/worker"
	"collaborative-doc-sync/redis"

	"github.com/rs/zerolog/log"
)

type Service interface {
	CreateUserDocument(ctx context.Context, userID uint64, document *domain.Document) error
	GetUserDocuments(ctx context.Context, userID uint64, page, pageSize int) (*PaginatedDocuments, error)
	GetDocumentByID(ctx context.Context, docID string, userID uint64) (*DocumentResponse, error)
	RenameDocument(ctx context.Context, docID string, userID uint64, title string) (*DocumentResponse, error)
	SaveDocument(ctx context.Context, docID string, userID uint64, content json.RawMessage, baseVersion uint64) (*engine.Snapshot[json.RawMessage], error)
	ListCollaborators(ctx context.Context, docID string, userID uint64) ([]DocumentCollaboratorDTO, error)
	GetPresence(ctx context.Context, docID string, userID uint64) ([]presence.Entry, error)
	GetDocumentState(ctx context.Context, docID string) (*engine.Snapshot[json.RawMessage], error)
	FetchUserRole(ctx context.Context, docID string, userID uint64) (string, error)
	InvalidateMembers(docID string)
}

// Syncer is the realtime side: saves and renames must reach connected
// editors in order with their websocket edits.
type Syncer interface {
	ProposeEdit(ctx context.Context, docID string, userID uint64, content json.RawMessage, baseVersion uint64) (engine.Result[json.RawMessage], error)
	BroadcastTitle(docID, title string)
	Presence(docID string) []presence.Entry
}

type DefaultService struct {
	repository DocumentRepository
	syncer     Syncer
	cache      *redis.Cache
	pool       *worker.WorkerPool
	cacheTTL   time.Duration
}

func NewService(
	repository DocumentRepository,
	syncer Syncer,
	cache *redis.Cache,
	pool *worker.WorkerPool,
	cacheTTL time.Duration,
) *DefaultService {
	return &DefaultService{
		repository: repository,
		syncer:     syncer,
		cache:      cache,
		pool:       pool,
		cacheTTL:   cacheTTL,
	}
}

// DocumentResponse is the full document as seen by one user.
type DocumentResponse struct {
	engine.Snapshot[json.RawMessage]
	OwnerID uint64 `json:"ownerId"`
	Role    string `json:"role"`
}

func newResponse(doc *engine.Document[json.RawMessage], access engine.Access) *DocumentResponse {
	return &DocumentResponse{
		Snapshot: doc.Snapshot(),
		OwnerID:  doc.OwnerID,
		Role:     access.String(),
	}
}

func versionKey(userID uint64) string {
	return fmt.Sprintf("user:%d:docs:version", userID)
}

func (s *DefaultService) CreateUserDocument(ctx context.Context, userID uint64, document *domain.Document) error {
	if err := s.repository.Create(ctx, userID, document); err != nil {
		return errors.Internal(err)
	}
	// increase cache key, so any new fetch will get new version
	s.cache.IncrementVersion(ctx, versionKey(userID))
	return nil
}

func (s *DefaultService) GetUserDocuments(ctx context.Context, userID uint64, page, pageSize int) (*PaginatedDocuments, error) {
	v := s.cache.GetVersion(ctx, versionKey(userID))
	cacheKey := fmt.Sprintf("docs:u:%d:v:%d:p:%d:ps:%d", userID, v, page, pageSize)

	var result PaginatedDocuments
	if found, err := s.cache.Get(ctx, cacheKey, &result); err != nil {
		log.Warn().Err(err).Str("key", cacheKey).Msg("cache read failed")
	} else if found {
		return &result, nil
	}

	documents, meta, err := s.repository.ListByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, errors.Internal(err)
	}
	result = PaginatedDocuments{Data: documents, Meta: meta}

	if s.cache.Enabled() {
		s.pool.Submit("cache documents page", func(ctx context.Context) error {
			return s.cache.Set(ctx, cacheKey, result, s.cacheTTL)
		})
	}
	return &result, nil
}

// authorize loads the document and checks access without granting any.
func (s *DefaultService) authorize(ctx context.Context, docID string, userID uint64) (*engine.Document[json.RawMessage], engine.Access, error) {
	doc, err := s.repository.Get(ctx, docID)
	if err != nil {
		return nil, engine.AccessNone, errors.FromEngine(err)
	}
	access := engine.ResolveAccess(doc, userID)
	if access == engine.AccessNone {
		return nil, engine.AccessNone, errors.FromEngine(engine.ErrForbidden)
	}
	return doc, access, nil
}

func (s *DefaultService) GetDocumentByID(ctx context.Context, docID string, userID uint64) (*DocumentResponse, error) {
	doc, access, err := s.authorize(ctx, docID, userID)
	if err != nil {
		return nil, err
	}
	return newResponse(doc, access), nil
}

// RenameDocument changes the title only. The version stays put; connected
// editors get doc:title.
func (s *DefaultService) RenameDocument(ctx context.Context, docID string, userID uint64, title string) (*DocumentResponse, error) {
	if title == "" {
		return nil, errors.BadRequest("Title cannot be empty", nil)
	}
	_, access, err := s.authorize(ctx, docID, userID)
	if err != nil {
		return nil, err
	}

	updated, err := s.repository.UpdateTitle(ctx, docID, title)
	if err != nil {
		return nil, errors.FromEngine(err)
	}

	s.syncer.BroadcastTitle(docID, updated.Title)
	s.InvalidateMembers(docID)

	return &DocumentResponse{
		Snapshot: engine.Snapshot[json.RawMessage]{
			DocumentID:   updated.ID,
			Title:        updated.Title,
			Content:      updated.Content,
			Version:      updated.Version,
			LastModified: updated.LastModified,
		},
		OwnerID: updated.OwnerID,
		Role:    access.String(),
	}, nil
}

// SaveDocument proposes content on behalf of a REST caller. A stale base
// version answers 409 with the current state attached.
func (s *DefaultService) SaveDocument(ctx context.Context, docID string, userID uint64, content json.RawMessage, baseVersion uint64) (*engine.Snapshot[json.RawMessage], error) {
	res, err := s.syncer.ProposeEdit(ctx, docID, userID, content, baseVersion)
	if err != nil {
		return nil, errors.FromEngine(err)
	}
	if !res.Committed {
		return nil, errors.Stale(res.Snapshot)
	}
	return &res.Snapshot, nil
}

func (s *DefaultService) ListCollaborators(ctx context.Context, docID string, userID uint64) ([]DocumentCollaboratorDTO, error) {
	if _, _, err := s.authorize(ctx, docID, userID); err != nil {
		return nil, err
	}
	collaborators, err := s.repository.ListCollaborators(ctx, docID)
	if err != nil {
		return nil, errors.Internal(err)
	}
	return collaborators, nil
}

func (s *DefaultService) GetPresence(ctx context.Context, docID string, userID uint64) ([]presence.Entry, error) {
	if _, _, err := s.authorize(ctx, docID, userID); err != nil {
		return nil, err
	}
	return s.syncer.Presence(docID), nil
}

// GetDocumentState returns the stored snapshot with no access check. It
// backs the internal API only.
func (s *DefaultService) GetDocumentState(ctx context.Context, docID string) (*engine.Snapshot[json.RawMessage], error) {
	doc, err := s.repository.Get(ctx, docID)
	if err != nil {
		return nil, errors.FromEngine(err)
	}
	snap := doc.Snapshot()
	return &snap, nil
}

func (s *DefaultService) FetchUserRole(ctx context.Context, docID string, userID uint64) (string, error) {
	doc, err := s.repository.Get(ctx, docID)
	if err != nil {
		return "", errors.FromEngine(err)
	}
	return engine.ResolveAccess(doc, userID).String(), nil
}

// InvalidateMembers bumps the list cache version of everyone with access to
// the document, in the background.
func (s *DefaultService) InvalidateMembers(docID string) {
	if !s.cache.Enabled() {
		return
	}
	s.pool.Submit("invalidate document lists", func(ctx context.Context) error {
		ids, err := s.repository.MemberIDs(ctx, docID)
		if err != nil {
			return fmt.Errorf("members of %s: %w", docID, err)
		}
		for _, id := range ids {
			s.cache.IncrementVersion(ctx, versionKey(id))
		}
		return nil
	})
}
