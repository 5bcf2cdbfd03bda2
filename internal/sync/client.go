package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"collaborative-doc-sync/internal/engine"
)

// ErrStale is returned by SaveDocument when the base version lost the race.
// The StaleError carries the state to resync to.
var ErrStale = errors.New("document was changed by someone else")

type StaleError struct {
	Current engine.Snapshot[json.RawMessage]
}

func (e *StaleError) Error() string { return ErrStale.Error() }
func (e *StaleError) Is(target error) bool {
	return target == ErrStale
}

// HTTPError is any other non-2xx answer.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("document api: status=%d: %s", e.Status, e.Message)
}

type APIClient struct {
	baseURL    string
	token      string
	secret     string
	httpClient *http.Client
}

type Client interface {
	FetchDocument(ctx context.Context, docID string) (*engine.Snapshot[json.RawMessage], error)
	SaveDocument(ctx context.Context, docID string, content json.RawMessage, baseVersion uint64) (*engine.Snapshot[json.RawMessage], error)
	FetchDocumentState(ctx context.Context, docID string) (*engine.Snapshot[json.RawMessage], error)
	FetchUserRole(ctx context.Context, docID string, userID uint64) (string, error)
}

// NewAPIClient talks to the document REST API as the user owning token.
// secret is only needed for the internal endpoints.
func NewAPIClient(baseURL, token, secret string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		token:   token,
		secret:  secret,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type errorBody struct {
	Error   string                            `json:"error"`
	Current *engine.Snapshot[json.RawMessage] `json:"current"`
}

func (c *APIClient) do(ctx context.Context, method, url, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		var e errorBody
		_ = json.Unmarshal(b, &e)
		if resp.StatusCode == http.StatusConflict && e.Current != nil {
			return &StaleError{Current: *e.Current}
		}
		msg := e.Error
		if msg == "" {
			msg = string(b)
		}
		return &HTTPError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *APIClient) FetchDocument(ctx context.Context, docID string) (*engine.Snapshot[json.RawMessage], error) {
	url := fmt.Sprintf("%s/api/documents/%s", c.baseURL, docID)

	var snap engine.Snapshot[json.RawMessage]
	if err := c.do(ctx, http.MethodGet, url, c.token, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

type saveRequest struct {
	Content     json.RawMessage `json:"content"`
	BaseVersion uint64          `json:"baseVersion"`
}

// SaveDocument proposes content over REST. A lost race returns a
// *StaleError matching ErrStale.
func (c *APIClient) SaveDocument(ctx context.Context, docID string, content json.RawMessage, baseVersion uint64) (*engine.Snapshot[json.RawMessage], error) {
	url := fmt.Sprintf("%s/api/documents/%s", c.baseURL, docID)

	var snap engine.Snapshot[json.RawMessage]
	err := c.do(ctx, http.MethodPut, url, c.token, saveRequest{Content: content, BaseVersion: baseVersion}, &snap)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// call the internal API to get the stored doc state
func (c *APIClient) FetchDocumentState(ctx context.Context, docID string) (*engine.Snapshot[json.RawMessage], error) {
	url := fmt.Sprintf("%s/internal/documents/%s/state", c.baseURL, docID)

	var snap engine.Snapshot[json.RawMessage]
	if err := c.do(ctx, http.MethodGet, url, c.secret, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *APIClient) FetchUserRole(ctx context.Context, docID string, userID uint64) (string, error) {
	url := fmt.Sprintf("%s/internal/documents/%s/role?user_id=%d", c.baseURL, docID, userID)

	var payload struct {
		Role string `json:"role"`
	}
	if err := c.do(ctx, http.MethodGet, url, c.secret, nil, &payload); err != nil {
		return "", err
	}
	return payload.Role, nil
}
