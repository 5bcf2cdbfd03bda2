package document

import (
	"net/http"
	"strconv"

	"collaborative-doc-sync/internal/domain"
	"collaborative-doc-sync/internal/errors"
	"collaborative-doc-sync/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// documentID reads and checks the :id path parameter.
func documentID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.Error(errors.NotFound("Document not found", err))
		return "", false
	}
	return id, true
}

func (h *Handler) Create(c *gin.Context) {
	var form CreateRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	userID := c.GetUint64("user_id")

	doc := &domain.Document{
		Title: form.Title,
	}

	if err := h.service.CreateUserDocument(c.Request.Context(), userID, doc); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, doc)
}

func (h *Handler) Rename(c *gin.Context) {
	docID, ok := documentID(c)
	if !ok {
		return
	}

	var input RenameRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	doc, err := h.service.RenameDocument(c.Request.Context(), docID, c.GetUint64("user_id"), input.Title)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, doc)
}

// Save answers 409 with the current state when baseVersion is stale.
func (h *Handler) Save(c *gin.Context) {
	docID, ok := documentID(c)
	if !ok {
		return
	}

	var input SaveRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	snap, err := h.service.SaveDocument(
		c.Request.Context(),
		docID,
		c.GetUint64("user_id"),
		input.Content,
		uint64(*input.BaseVersion),
	)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

func (h *Handler) ShowUserDocuments(c *gin.Context) {
	page, pageSize := utils.GetPaginationParams(c)
	result, err := h.service.GetUserDocuments(c.Request.Context(), c.GetUint64("user_id"), page, pageSize)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) ShowDocument(c *gin.Context) {
	docID, ok := documentID(c)
	if !ok {
		return
	}

	doc, err := h.service.GetDocumentByID(c.Request.Context(), docID, c.GetUint64("user_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, doc)
}

func (h *Handler) ShowCollaborators(c *gin.Context) {
	docID, ok := documentID(c)
	if !ok {
		return
	}

	collaborators, err := h.service.ListCollaborators(c.Request.Context(), docID, c.GetUint64("user_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": collaborators})
}

func (h *Handler) ShowPresence(c *gin.Context) {
	docID, ok := documentID(c)
	if !ok {
		return
	}

	users, err := h.service.GetPresence(c.Request.Context(), docID, c.GetUint64("user_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"documentId": docID, "users": users})
}

// ShowDocumentState is internal: no user, no access check.
func (h *Handler) ShowDocumentState(c *gin.Context) {
	docID, ok := documentID(c)
	if !ok {
		return
	}

	snap, err := h.service.GetDocumentState(c.Request.Context(), docID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

func (h *Handler) ShowUserRole(c *gin.Context) {
	docID, ok := documentID(c)
	if !ok {
		return
	}

	userID, err := strconv.ParseUint(c.Query("user_id"), 10, 64)
	if err != nil {
		c.Error(errors.BadRequest("user_id is required", err))
		return
	}

	role, err := h.service.FetchUserRole(c.Request.Context(), docID, userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"role": role})
}
