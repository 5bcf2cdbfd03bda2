package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"collaborative-doc-sync/internal/engine"
	"collaborative-doc-sync/internal/errors"
	"collaborative-doc-sync/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.ErrorHandler())

	current := engine.Snapshot[json.RawMessage]{
		DocumentID: "doc-1",
		Title:      "Notes",
		Content:    json.RawMessage(`"saved"`),
		Version:    3,
	}

	requireUser := func(c *gin.Context) {
		if c.GetHeader("Authorization") != "Bearer user-token" {
			c.Error(errors.Unauthorized("Invalid token!", nil))
			c.Abort()
		}
	}

	router.GET("/api/documents/:id", requireUser, func(c *gin.Context) {
		if c.Param("id") != "doc-1" {
			c.Error(errors.NotFound("Document not found", nil))
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"documentId": current.DocumentID,
			"title":      current.Title,
			"content":    current.Content,
			"version":    current.Version,
			"role":       "owner",
		})
	})
	router.PUT("/api/documents/:id", requireUser, func(c *gin.Context) {
		var req saveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errors.NewValidationError(err))
			return
		}
		if req.BaseVersion != current.Version {
			c.Error(errors.Stale(current))
			return
		}
		next := current
		next.Content = req.Content
		next.Version++
		c.JSON(http.StatusOK, next)
	})

	internal := &middleware.Auth{InternalSecret: "s3cret"}
	router.GET("/internal/documents/:id/state", internal.InternalAuthMiddleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, current)
	})
	router.GET("/internal/documents/:id/role", internal.InternalAuthMiddleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"role": "collaborator"})
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestAPIClient_FetchDocument(t *testing.T) {
	srv := newAPIServer(t)
	client := NewAPIClient(srv.URL, "user-token", "")

	snap, err := client.FetchDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), snap.Version)
	assert.JSONEq(t, `"saved"`, string(snap.Content))

	_, err = client.FetchDocument(context.Background(), "doc-2")
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
	assert.Equal(t, "Document not found", httpErr.Message)
}

func TestAPIClient_SaveDocument(t *testing.T) {
	srv := newAPIServer(t)
	client := NewAPIClient(srv.URL, "user-token", "")

	snap, err := client.SaveDocument(context.Background(), "doc-1", json.RawMessage(`"new"`), 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), snap.Version)

	_, err = client.SaveDocument(context.Background(), "doc-1", json.RawMessage(`"late"`), 1)
	require.ErrorIs(t, err, ErrStale)
	var stale *StaleError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, uint64(3), stale.Current.Version)
	assert.JSONEq(t, `"saved"`, string(stale.Current.Content))
}

func TestAPIClient_Unauthorized(t *testing.T) {
	srv := newAPIServer(t)
	client := NewAPIClient(srv.URL, "wrong", "")

	_, err := client.FetchDocument(context.Background(), "doc-1")
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Status)
}

func TestAPIClient_Internal(t *testing.T) {
	srv := newAPIServer(t)
	client := NewAPIClient(srv.URL, "", "s3cret")

	snap, err := client.FetchDocumentState(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Notes", snap.Title)

	role, err := client.FetchUserRole(context.Background(), "doc-1", 2)
	require.NoError(t, err)
	assert.Equal(t, "collaborator", role)

	_, err = NewAPIClient(srv.URL, "", "wrong").FetchDocumentState(context.Background(), "doc-1")
	assert.Error(t, err)
}
