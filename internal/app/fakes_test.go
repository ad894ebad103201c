package app

import (
	"context"
	"fmt"
	"sync"

	"askdoc/internal/ai"
	"askdoc/internal/model"
	"askdoc/internal/repository"
)

type fakeDocuments struct {
	mu        sync.Mutex
	docs      map[string]*model.Document
	err       error
	nextID    int
	createErr error
}

func newFakeDocuments(docs ...model.Document) *fakeDocuments {
	f := &fakeDocuments{docs: make(map[string]*model.Document)}
	for i := range docs {
		d := docs[i]
		f.docs[d.ID] = &d
	}
	return f
}

func (f *fakeDocuments) GetByIDAndOwnerID(_ context.Context, id, ownerID string) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	d, ok := f.docs[id]
	if !ok || d.OwnerID != ownerID {
		return nil, nil
	}
	copied := *d
	return &copied, nil
}

func (f *fakeDocuments) Create(_ context.Context, doc *model.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	doc.ID = fmt.Sprintf("doc-%d", f.nextID)
	copied := *doc
	f.docs[doc.ID] = &copied
	return nil
}

func (f *fakeDocuments) ListByOwnerID(_ context.Context, ownerID string) ([]model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Document
	for _, d := range f.docs {
		if d.OwnerID == ownerID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeDocuments) TransitionStatus(_ context.Context, id string, from, to model.IngestionStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok || d.IngestionStatus != from {
		return false, nil
	}
	d.IngestionStatus = to
	return true, nil
}

func (f *fakeDocuments) status(id string) model.IngestionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[id].IngestionStatus
}

type fakeMessageLog struct {
	mu          sync.Mutex
	messages    []model.Message
	failOnRole  model.Role
	listErr     error
	recentCalls []int
}

func (f *fakeMessageLog) Create(_ context.Context, message *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOnRole != "" && message.Role == f.failOnRole {
		return fmt.Errorf("insert %s message: connection refused", message.Role)
	}
	message.ID = fmt.Sprintf("msg-%d", len(f.messages)+1)
	message.Seq = uint64(len(f.messages) + 1)
	f.messages = append(f.messages, *message)
	return nil
}

func (f *fakeMessageLog) ListRecent(_ context.Context, documentID string, n int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recentCalls = append(f.recentCalls, n)
	if f.listErr != nil {
		return nil, f.listErr
	}
	var matching []model.Message
	for _, m := range f.messages {
		if m.DocumentID == documentID {
			matching = append(matching, m)
		}
	}
	if len(matching) > n {
		matching = matching[len(matching)-n:]
	}
	return matching, nil
}

func (f *fakeMessageLog) ListPage(_ context.Context, documentID string, limit int, cursor string) ([]model.Message, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var newestFirst []model.Message
	for i := len(f.messages) - 1; i >= 0; i-- {
		if f.messages[i].DocumentID == documentID {
			newestFirst = append(newestFirst, f.messages[i])
		}
	}
	start := 0
	if cursor != "" {
		start = -1
		for i, m := range newestFirst {
			if m.ID == cursor {
				start = i + 1
			}
		}
		if start < 0 {
			return nil, "", fmt.Errorf("cursor %s: %w", cursor, repository.ErrCursorNotFound)
		}
	}
	page := newestFirst[start:]
	next := ""
	if len(page) > limit {
		page = page[:limit]
		next = page[limit-1].ID
	}
	return page, next, nil
}

func (f *fakeMessageLog) snapshot() []model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Message(nil), f.messages...)
}

func (f *fakeMessageLog) count(role model.Role) int {
	n := 0
	for _, m := range f.snapshot() {
		if m.Role == role {
			n++
		}
	}
	return n
}

type fakeSearcher struct {
	chunks     []model.ContextChunk
	err        error
	namespaces []string
	ks         []int
}

func (f *fakeSearcher) Search(_ context.Context, namespace, _ string, k int) ([]model.ContextChunk, error) {
	f.namespaces = append(f.namespaces, namespace)
	f.ks = append(f.ks, k)
	if f.err != nil {
		return nil, f.err
	}
	return f.chunks, nil
}

type fakeCompleter struct {
	producer ai.Producer
	err      error
	calls    int
	messages []ai.ChatMessage
	opts     ai.CompletionOptions
}

func (f *fakeCompleter) Complete(ctx context.Context, messages []ai.ChatMessage, opts ai.CompletionOptions) (*ai.Stream, error) {
	f.calls++
	f.messages = messages
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	return ai.NewStream(ctx, f.producer)
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

type fakeHistory struct {
	mu      sync.Mutex
	dirty   map[string]bool
	pages   map[string][]model.Message
	next    map[string]string
	deletes int
	getHits int
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		dirty: make(map[string]bool),
		pages: make(map[string][]model.Message),
		next:  make(map[string]string),
	}
}

func (f *fakeHistory) key(documentID string, limit int) string {
	return fmt.Sprintf("%s/%d", documentID, limit)
}

func (f *fakeHistory) MarkDirty(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirty[documentID] = true
	return nil
}

func (f *fakeHistory) DeleteHistory(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	for k := range f.pages {
		if len(k) > len(documentID) && k[:len(documentID)+1] == documentID+"/" {
			delete(f.pages, k)
		}
	}
	return nil
}

func (f *fakeHistory) IsDirty(_ context.Context, documentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirty[documentID], nil
}

func (f *fakeHistory) GetFirstPage(_ context.Context, documentID string, limit int) ([]model.Message, string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.pages[f.key(documentID, limit)]
	if ok {
		f.getHits++
	}
	return page, f.next[f.key(documentID, limit)], ok, nil
}

func (f *fakeHistory) SetFirstPage(_ context.Context, documentID string, limit int, messages []model.Message, nextCursor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[f.key(documentID, limit)] = messages
	f.next[f.key(documentID, limit)] = nextCursor
	return nil
}
