package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNetwork covers failures to obtain a response: transport errors and non-2xx statuses.
var ErrNetwork = errors.New("network failure")

// StatusError is a non-2xx answer from the server. It matches ErrNetwork.
type StatusError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	return ErrNetwork
}

type RemoteMessage struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	AuthorID   string    `json:"authorId"`
	Role       string    `json:"role"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

type RemotePage struct {
	Messages   []RemoteMessage `json:"messages"`
	NextCursor string          `json:"nextCursor"`
}

type RemoteDocument struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	IngestionStatus string    `json:"ingestionStatus"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Terminal reports whether ingestion has finished one way or the other.
func (d RemoteDocument) Terminal() bool {
	return d.IngestionStatus == "SUCCESS" || d.IngestionStatus == "FAILED"
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// APIClient talks to the askdoc HTTP API on behalf of one caller.
type APIClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewAPIClient builds a client. httpClient may be nil; it must not set an overall
// Timeout because answers are streamed.
func NewAPIClient(baseURL, token string, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

// SendMessage posts a question and returns the streamed answer body. The caller
// must close it.
func (c *APIClient) SendMessage(ctx context.Context, documentID, text string) (io.ReadCloser, error) {
	payload, err := json.Marshal(map[string]string{"documentId": documentID, "text": text})
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/plain")

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *APIClient) ListMessages(ctx context.Context, documentID string, limit int, cursor string) (*RemotePage, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	path := "/api/v1/documents/" + url.PathEscape(documentID) + "/messages"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var page RemotePage
	if err := c.getJSON(ctx, path, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *APIClient) Register(ctx context.Context, username, email, password string) (string, error) {
	return c.authenticate(ctx, "/api/v1/auth/register", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	})
}

func (c *APIClient) Login(ctx context.Context, username, password string) (string, error) {
	return c.authenticate(ctx, "/api/v1/auth/login", map[string]string{
		"username": username,
		"password": password,
	})
}

func (c *APIClient) UploadDocument(ctx context.Context, filename string, content io.Reader) (*RemoteDocument, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("read upload failed: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/documents", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var doc RemoteDocument
	if err := c.doJSON(req, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *APIClient) GetDocument(ctx context.Context, documentID string) (*RemoteDocument, error) {
	var doc RemoteDocument
	if err := c.getJSON(ctx, "/api/v1/documents/"+url.PathEscape(documentID), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *APIClient) ListDocuments(ctx context.Context) ([]RemoteDocument, error) {
	var docs []RemoteDocument
	if err := c.getJSON(ctx, "/api/v1/documents", &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (c *APIClient) authenticate(ctx context.Context, path string, body map[string]string) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var result struct {
		Token string `json:"token"`
	}
	if err := c.doJSON(req, &result); err != nil {
		return "", err
	}
	return result.Token, nil
}

func (c *APIClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, out)
}

func (c *APIClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request failed: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *APIClient) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		statusErr := &StatusError{StatusCode: resp.StatusCode}
		var env envelope
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err == nil {
			statusErr.Code = env.Code
			statusErr.Message = env.Message
		}
		return nil, statusErr
	}
	return resp, nil
}

func (c *APIClient) doJSON(req *http.Request, out any) error {
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response failed: %w", err)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data failed: %w", err)
	}
	return nil
}
