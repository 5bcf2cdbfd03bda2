package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleOwner        = "owner"
	RoleCollaborator = "collaborator"
)

// Document is the persisted snapshot row. Version only ever moves through
// the conditional update in the document repository.
type Document struct {
	ID            string                 `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Title         string                 `gorm:"size:255;not null" json:"title"`
	Content       json.RawMessage        `gorm:"type:jsonb;not null" json:"content"`
	Version       uint64                 `gorm:"not null;default:0" json:"version"`
	OwnerID       uint64                 `gorm:"index;not null" json:"owner_id"`
	Owner         *User                  `gorm:"foreignKey:OwnerID" json:"-"`
	Collaborators []DocumentCollaborator `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	LastModified  time.Time              `json:"last_modified"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if len(d.Content) == 0 {
		d.Content = json.RawMessage(`{}`)
	}
	return nil
}

// CollaboratorIDs lists the users granted access besides the owner.
func (d *Document) CollaboratorIDs() []uint64 {
	ids := make([]uint64, 0, len(d.Collaborators))
	for _, c := range d.Collaborators {
		ids = append(ids, c.UserID)
	}
	return ids
}

type DocumentCollaborator struct {
	DocumentID string    `gorm:"primaryKey;type:varchar(36)"`
	UserID     uint64    `gorm:"primaryKey;index"`
	User       *User     `gorm:"foreignKey:UserID"`
	Role       string    `gorm:"size:20;not null;default:collaborator"`
	AddedAt    time.Time `gorm:"autoCreateTime"`
}
