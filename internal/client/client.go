// Package client is the typed HTTP client for the usability-testing API,
// shared by the reconciler, the CLI and the integration tests.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/clipdock/usability/internal/models"
	"github.com/clipdock/usability/internal/services"
)

// DefaultTimeout bounds every remote call; a timed-out call is a failure
// like any other and is subject to the caller's retry policy.
const DefaultTimeout = 5 * time.Second

// APIError is a non-2xx response decoded from the service's error shape.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	if ae, ok := err.(*APIError); ok {
		return ae.Status == http.StatusNotFound
	}
	return false
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// SetToken attaches an admin bearer token to subsequent requests.
func (c *Client) SetToken(token string) { c.token = token }

type SubmitResponse struct {
	Submission *models.FormSubmission `json:"submission"`
	Session    *models.Session        `json:"session"`
	Message    string                 `json:"message"`
}

func (c *Client) CreateSession(ctx context.Context, participantID string, metadata models.JSONMap) (*models.Session, error) {
	var out struct {
		Session *models.Session `json:"session"`
	}
	err := c.do(ctx, http.MethodPost, "/api/sessions", map[string]any{
		"participant_id": participantID,
		"metadata":       metadata,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Session, nil
}

func (c *Client) GetSession(ctx context.Context, id string) (*services.SessionBundle, error) {
	var out services.SessionBundle
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateStatus(ctx context.Context, id string, status models.SessionStatus) (*models.Session, error) {
	var out struct {
		Session *models.Session `json:"session"`
	}
	err := c.do(ctx, http.MethodPatch, "/api/sessions/"+url.PathEscape(id), map[string]any{
		"status": status,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Session, nil
}

func (c *Client) Submit(ctx context.Context, sessionID string, formType models.FormType, data models.JSONMap, version string) (*SubmitResponse, error) {
	var out SubmitResponse
	err := c.do(ctx, http.MethodPost, "/api/submit", map[string]any{
		"session_id": sessionID,
		"form_type":  formType,
		"form_data":  data,
		"version":    version,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListSessions(ctx context.Context, page, limit int) (*services.SessionPage, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/sessions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out services.SessionPage
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Export downloads the bulk export in the given format and returns the raw
// payload.
func (c *Client) Export(ctx context.Context, format string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/export?format="+url.QueryEscape(format), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp.StatusCode, body)
	}
	return body, nil
}

func (c *Client) WebhookDocs(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/webhook", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateWebhookNotification(ctx context.Context, sessionID string, ntype models.NotificationType, data models.JSONMap) (*models.Notification, error) {
	var out struct {
		Notification *models.Notification `json:"notification"`
	}
	err := c.do(ctx, http.MethodPost, "/api/webhook", map[string]any{
		"session_id":        sessionID,
		"notification_type": ntype,
		"data":              data,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Notification, nil
}

func (c *Client) AdminLogin(ctx context.Context, email, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/api/admin/login", map[string]any{
		"email":    email,
		"password": password,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(status int, body []byte) error {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Error == "" {
		e.Error = strings.TrimSpace(string(body))
	}
	return &APIError{Status: status, Message: e.Error}
}
