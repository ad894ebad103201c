package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askdoc/internal/ai"
	"askdoc/internal/app"
	"askdoc/internal/model"
	"askdoc/internal/pkg/jwtutil"
	"askdoc/internal/repository"
	"askdoc/internal/transport/http/middleware"
)

const testSecret = "test-secret"

type memoryStore struct {
	mu       sync.Mutex
	docs     map[string]model.Document
	messages []model.Message
	failUser bool
}

func (s *memoryStore) GetByIDAndOwnerID(_ context.Context, id, ownerID string) (*model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok || d.OwnerID != ownerID {
		return nil, nil
	}
	return &d, nil
}

func (s *memoryStore) Create(_ context.Context, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc.ID = fmt.Sprintf("doc-%d", len(s.docs)+1)
	s.docs[doc.ID] = *doc
	return nil
}

func (s *memoryStore) ListByOwnerID(_ context.Context, ownerID string) ([]model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Document{}
	for _, d := range s.docs {
		if d.OwnerID == ownerID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *memoryStore) TransitionStatus(_ context.Context, id string, from, to model.IngestionStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok || d.IngestionStatus != from {
		return false, nil
	}
	d.IngestionStatus = to
	s.docs[id] = d
	return true, nil
}

type messageLog struct{ *memoryStore }

func (l messageLog) Create(_ context.Context, m *model.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failUser && m.Role == model.RoleUser {
		return errors.New("database is read-only")
	}
	m.ID = fmt.Sprintf("msg-%d", len(l.messages)+1)
	m.Seq = uint64(len(l.messages) + 1)
	l.messages = append(l.messages, *m)
	return nil
}

func (l messageLog) ListRecent(_ context.Context, documentID string, n int) ([]model.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Message
	for _, m := range l.messages {
		if m.DocumentID == documentID {
			out = append(out, m)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

func (l messageLog) ListPage(_ context.Context, documentID string, limit int, cursor string) ([]model.Message, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cursor != "" {
		return nil, "", repository.ErrCursorNotFound
	}
	var out []model.Message
	for i := len(l.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if l.messages[i].DocumentID == documentID {
			out = append(out, l.messages[i])
		}
	}
	return out, "", nil
}

func (l messageLog) roles() []model.Role {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Role
	for _, m := range l.messages {
		out = append(out, m.Role)
	}
	return out
}

type staticSearcher struct{}

func (staticSearcher) Search(context.Context, string, string, int) ([]model.ContextChunk, error) {
	return []model.ContextChunk{{Text: "Refunds take 30 days."}}, nil
}

func (staticSearcher) Upsert(context.Context, string, []string) error { return nil }
func (staticSearcher) DeleteNamespace(context.Context, string) error  { return nil }

type scriptedCompleter struct {
	producer ai.Producer
}

func (c scriptedCompleter) Complete(ctx context.Context, _ []ai.ChatMessage, _ ai.CompletionOptions) (*ai.Stream, error) {
	return ai.NewStream(ctx, c.producer)
}

type testServer struct {
	*httptest.Server
	store  *memoryStore
	log    messageLog
	ingest *app.IngestService
}

func newTestServer(t *testing.T, producer ai.Producer) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := &memoryStore{docs: map[string]model.Document{
		"doc1": {ID: "doc1", OwnerID: "alice", Name: "policy", IngestionStatus: model.IngestionSuccess},
		"doc2": {ID: "doc2", OwnerID: "alice", Name: "draft", IngestionStatus: model.IngestionProcessing},
	}}
	log := messageLog{store}
	pipeline := app.NewQueryPipeline(store, log, staticSearcher{}, scriptedCompleter{producer: producer}, nil, app.PipelineConfig{})
	messages := app.NewMessageService(store, log, nil)
	ingest := app.NewIngestService(store, staticSearcher{}, nil, app.IngestConfig{})

	router := gin.New()
	router.Use(middleware.Recovery())
	protected := router.Group("/api/v1", middleware.AuthJWT(testSecret))
	mh := NewMessageHandler(pipeline, messages)
	dh := NewDocumentHandler(ingest, 1<<10)
	protected.POST("/messages", mh.SendMessage)
	protected.GET("/documents/:id/messages", mh.ListMessages)
	protected.POST("/documents", dh.Upload)
	protected.GET("/documents/:id", dh.Get)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		ingest.Wait()
	})
	return &testServer{Server: srv, store: store, log: log, ingest: ingest}
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwtutil.GenerateToken(testSecret, time.Hour, userID, userID)
	require.NoError(t, err)
	return "Bearer " + token
}

func (s *testServer) send(t *testing.T, userID string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, s.URL+"/api/v1/messages", bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", bearer(t, userID))
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func fragments(parts ...string) ai.Producer {
	return func(ctx context.Context, emit func(string) error) error {
		for _, p := range parts {
			if err := emit(p); err != nil {
				return err
			}
		}
		return nil
	}
}

func envelopeMessage(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Message
}

func TestSendMessageStreamsPlainText(t *testing.T) {
	srv := newTestServer(t, fragments("Refunds ", "take ", "30 days."))

	resp := srv.send(t, "alice", SendMessageRequest{DocumentID: "doc1", Text: "refund policy?"})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Message-Id"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Refunds take 30 days.", string(body))

	require.Eventually(t, func() bool { return len(srv.log.roles()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []model.Role{model.RoleUser, model.RoleAssistant}, srv.log.roles())
}

func TestSendMessageRejections(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		body    any
		status  int
		message string
	}{
		{"no token", "", SendMessageRequest{DocumentID: "doc1", Text: "hi"}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"foreign document", "mallory", SendMessageRequest{DocumentID: "doc1", Text: "hi"}, http.StatusNotFound, "NOT_FOUND"},
		{"unknown document", "alice", SendMessageRequest{DocumentID: "nope", Text: "hi"}, http.StatusNotFound, "NOT_FOUND"},
		{"empty text", "alice", SendMessageRequest{DocumentID: "doc1", Text: "  "}, http.StatusBadRequest, app.ErrInvalidInput.Error()},
		{"not ready", "alice", SendMessageRequest{DocumentID: "doc2", Text: "hi"}, http.StatusConflict, app.ErrDocumentNotReady.Error()},
		{"missing document id", "alice", map[string]string{"text": "hi"}, http.StatusBadRequest, "invalid request payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, fragments("unused"))

			resp := srv.send(t, tt.userID, tt.body)

			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.message, envelopeMessage(t, resp))
			assert.Empty(t, srv.log.roles())
		})
	}
}

func TestSendMessageUserWriteFailure(t *testing.T) {
	srv := newTestServer(t, fragments("unused"))
	srv.store.failUser = true

	resp := srv.send(t, "alice", SendMessageRequest{DocumentID: "doc1", Text: "hi"})

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, app.ErrPersistence.Error(), envelopeMessage(t, resp))
}

func TestSendMessageAbortsBodyOnMidStreamFailure(t *testing.T) {
	srv := newTestServer(t, func(ctx context.Context, emit func(string) error) error {
		if err := emit("Refunds "); err != nil {
			return err
		}
		return errors.New("upstream reset")
	})

	resp := srv.send(t, "alice", SendMessageRequest{DocumentID: "doc1", Text: "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix("Refunds ", string(body)))
	assert.Equal(t, []model.Role{model.RoleUser}, srv.log.roles())
}

func TestListMessages(t *testing.T) {
	srv := newTestServer(t, fragments("ok"))
	resp := srv.send(t, "alice", SendMessageRequest{DocumentID: "doc1", Text: "hi"})
	_, _ = io.ReadAll(resp.Body)
	require.Eventually(t, func() bool { return len(srv.log.roles()) == 2 }, 2*time.Second, 10*time.Millisecond)

	get := func(path, userID string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", bearer(t, userID))
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	ok := get("/api/v1/documents/doc1/messages?limit=10", "alice")
	require.Equal(t, http.StatusOK, ok.StatusCode)
	var page struct {
		Data struct {
			Messages []struct {
				ID   string `json:"id"`
				Role string `json:"role"`
				Text string `json:"text"`
			} `json:"messages"`
			NextCursor string `json:"nextCursor"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(ok.Body).Decode(&page))
	require.Len(t, page.Data.Messages, 2)
	assert.Equal(t, "assistant", page.Data.Messages[0].Role)
	assert.Equal(t, "ok", page.Data.Messages[0].Text)
	assert.Empty(t, page.Data.NextCursor)

	assert.Equal(t, http.StatusNotFound, get("/api/v1/documents/doc1/messages", "mallory").StatusCode)
	assert.Equal(t, http.StatusBadRequest, get("/api/v1/documents/doc1/messages?cursor=gone", "alice").StatusCode)
	assert.Equal(t, http.StatusBadRequest, get("/api/v1/documents/doc1/messages?limit=abc", "alice").StatusCode)
}

func upload(t *testing.T, srv *testServer, filename string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/documents", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", bearer(t, "alice"))
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestUploadDocument(t *testing.T) {
	srv := newTestServer(t, fragments("unused"))

	resp := upload(t, srv, "handbook.txt", []byte("Employees accrue leave monthly."))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var created struct {
		Data model.Document `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "handbook", created.Data.Name)
	assert.Equal(t, model.IngestionProcessing, created.Data.IngestionStatus)

	srv.ingest.Wait()
	doc, err := srv.store.GetByIDAndOwnerID(context.Background(), created.Data.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.IngestionSuccess, doc.IngestionStatus)
}

func TestUploadRejectsUnsupportedAndOversizedFiles(t *testing.T) {
	srv := newTestServer(t, fragments("unused"))

	assert.Equal(t, http.StatusBadRequest, upload(t, srv, "photo.png", []byte("png")).StatusCode)
	assert.Equal(t, http.StatusRequestEntityTooLarge, upload(t, srv, "big.txt", bytes.Repeat([]byte("a"), 4<<10)).StatusCode)
}
