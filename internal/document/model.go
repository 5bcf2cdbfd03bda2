package document

import (
	"encoding/json"
	"time"
)

type CreateRequest struct {
	Title string `json:"title" binding:"required,min=1,max=255"`
}

type RenameRequest struct {
	Title string `json:"title" binding:"required,min=1,max=255"`
}

// SaveRequest is a REST save. It goes through the same conditional commit
// as a websocket doc:edit.
type SaveRequest struct {
	Content     json.RawMessage `json:"content" binding:"required"`
	BaseVersion *int64          `json:"baseVersion" binding:"required,gte=0"`
}

type DocumentsMeta struct {
	Total       int64 `json:"total"`
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	TotalPage   int   `json:"total_page"`
}

// DocumentSummary is a list row; content is left out.
type DocumentSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Version      uint64    `json:"version"`
	Role         string    `json:"role"`
	OwnerID      uint64    `json:"owner_id"`
	OwnerName    string    `json:"owner_name"`
	LastModified time.Time `json:"last_modified"`
	CreatedAt    time.Time `json:"created_at"`
}

type PaginatedDocuments struct {
	Data []DocumentSummary `json:"data"`
	Meta DocumentsMeta     `json:"meta"`
}

type DocumentCollaboratorDTO struct {
	UserID  uint64    `json:"user_id"`
	Name    string    `json:"name"`
	Email   string    `json:"email"`
	Role    string    `json:"role"`
	AddedAt time.Time `json:"added_at"`
}
