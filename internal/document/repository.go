package document

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"collaborative-doc-sync/internal/domain"
	"collaborative-doc-sync/internal/engine"
	"collaborative-doc-sync/internal/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentRepository is the postgres snapshot store plus the queries the
// REST layer needs.
type DocumentRepository interface {
	engine.Store[json.RawMessage]

	Create(ctx context.Context, userID uint64, document *domain.Document) error
	FindByID(ctx context.Context, id string) (*domain.Document, error)
	ListByUserID(ctx context.Context, userID uint64, page, pageSize int) ([]DocumentSummary, DocumentsMeta, error)
	UpdateTitle(ctx context.Context, id, title string) (*domain.Document, error)
	ListCollaborators(ctx context.Context, id string) ([]DocumentCollaboratorDTO, error)
	MemberIDs(ctx context.Context, id string) ([]uint64, error)
}

type DocumentRepositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) DocumentRepository {
	return &DocumentRepositoryImpl{db: db}
}

// Create stores a new document at version 0 with the creator as owner.
func (r *DocumentRepositoryImpl) Create(ctx context.Context, userID uint64, document *domain.Document) error {
	now := time.Now().UTC()
	document.OwnerID = userID
	document.Version = 0
	document.LastModified = now
	document.Collaborators = []domain.DocumentCollaborator{
		{
			UserID:  userID,
			Role:    domain.RoleOwner,
			AddedAt: now,
		},
	}
	return r.db.WithContext(ctx).Create(document).Error
}

func (r *DocumentRepositoryImpl) FindByID(ctx context.Context, id string) (*domain.Document, error) {
	var doc domain.Document
	err := r.db.WithContext(ctx).
		Preload("Collaborators", "role <> ?", domain.RoleOwner).
		Where("id = ?", id).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func toEngine(doc *domain.Document) *engine.Document[json.RawMessage] {
	return &engine.Document[json.RawMessage]{
		ID:            doc.ID,
		Title:         doc.Title,
		Content:       doc.Content,
		Version:       doc.Version,
		LastModified:  doc.LastModified,
		OwnerID:       doc.OwnerID,
		Collaborators: doc.CollaboratorIDs(),
	}
}

func (r *DocumentRepositoryImpl) Get(ctx context.Context, id string) (*engine.Document[json.RawMessage], error) {
	doc, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return toEngine(doc), nil
}

// ConditionalCommit bumps the version only when it still equals
// baseVersion. The WHERE clause on version makes check and increment a
// single statement; the row read afterwards in the same transaction is
// what a rejected proposer resyncs to.
func (r *DocumentRepositoryImpl) ConditionalCommit(ctx context.Context, id string, baseVersion uint64, content json.RawMessage, now time.Time) (engine.CommitResult[json.RawMessage], error) {
	var result engine.CommitResult[json.RawMessage]

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Document{}).
			Where("id = ? AND version = ?", id, baseVersion).
			Updates(map[string]any{
				"content":       content,
				"version":       gorm.Expr("version + 1"),
				"last_modified": now,
				"updated_at":    now,
			})
		if res.Error != nil {
			return res.Error
		}

		var doc domain.Document
		if err := tx.Where("id = ?", id).First(&doc).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return engine.ErrNotFound
			}
			return err
		}

		result = engine.CommitResult[json.RawMessage]{
			Committed: res.RowsAffected == 1,
			Current:   toEngine(&doc).Snapshot(),
		}
		return nil
	})
	if err != nil {
		return engine.CommitResult[json.RawMessage]{}, err
	}
	return result, nil
}

// GrantCollaborator is idempotent.
func (r *DocumentRepositoryImpl) GrantCollaborator(ctx context.Context, id string, userID uint64) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.DocumentCollaborator{
			DocumentID: id,
			UserID:     userID,
			Role:       domain.RoleCollaborator,
			AddedAt:    time.Now().UTC(),
		}).Error
}

// ListByUserID lists documents the user owns or collaborates on, most
// recently modified first.
func (r *DocumentRepositoryImpl) ListByUserID(ctx context.Context, userID uint64, page, pageSize int) ([]DocumentSummary, DocumentsMeta, error) {
	var totalRecords int64
	documents := []DocumentSummary{}

	base := r.db.WithContext(ctx).
		Table("documents").
		Joins("JOIN document_collaborators dc ON dc.document_id = documents.id AND dc.user_id = ?", userID)

	if err := base.Session(&gorm.Session{}).Count(&totalRecords).Error; err != nil {
		return documents, DocumentsMeta{}, err
	}

	err := base.Session(&gorm.Session{}).
		Select(`documents.id, documents.title, documents.version, dc.role,
			documents.owner_id, users.name AS owner_name,
			documents.last_modified, documents.created_at`).
		Joins("JOIN users ON users.id = documents.owner_id").
		Order("documents.last_modified DESC").
		Offset(utils.Offset(page, pageSize)).
		Limit(pageSize).
		Scan(&documents).Error

	return documents, DocumentsMeta{
		Total:       totalRecords,
		PerPage:     pageSize,
		TotalPage:   utils.TotalPages(totalRecords, pageSize),
		CurrentPage: page,
	}, err
}

// UpdateTitle renames without touching the version.
func (r *DocumentRepositoryImpl) UpdateTitle(ctx context.Context, id, title string) (*domain.Document, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.Document{}).
		Where("id = ?", id).
		Updates(map[string]any{"title": title, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, engine.ErrNotFound
	}
	return r.FindByID(ctx, id)
}

func (r *DocumentRepositoryImpl) ListCollaborators(ctx context.Context, id string) ([]DocumentCollaboratorDTO, error) {
	collaborators := []DocumentCollaboratorDTO{}
	err := r.db.WithContext(ctx).
		Table("document_collaborators dc").
		Select("dc.user_id, users.name, users.email, dc.role, dc.added_at").
		Joins("JOIN users ON users.id = dc.user_id").
		Where("dc.document_id = ?", id).
		Order("dc.added_at ASC").
		Scan(&collaborators).Error
	return collaborators, err
}

// MemberIDs returns the owner and every collaborator.
func (r *DocumentRepositoryImpl) MemberIDs(ctx context.Context, id string) ([]uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).
		Model(&domain.DocumentCollaborator{}).
		Where("document_id = ?", id).
		Pluck("user_id", &ids).Error
	return ids, err
}
