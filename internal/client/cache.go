package client

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Kind separates records the server has assigned an id to from client-only placeholders.
type Kind int

const (
	KindReal Kind = iota
	KindProvisional
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CachedMessage is either a persisted message (KindReal, ID set) or a provisional
// placeholder (KindProvisional, no ID) identified by its role.
type CachedMessage struct {
	Kind      Kind
	ID        string
	Role      string
	Text      string
	CreatedAt time.Time
}

func provisional(role, text string) CachedMessage {
	return CachedMessage{Kind: KindProvisional, Role: role, Text: text, CreatedAt: time.Now()}
}

func (m CachedMessage) isProvisional(role string) bool {
	return m.Kind == KindProvisional && m.Role == role
}

// Page holds messages newest first, as served by the paginated read endpoint.
type Page struct {
	Messages   []CachedMessage
	NextCursor string
}

type PageFetcher interface {
	ListMessages(ctx context.Context, documentID string, limit int, cursor string) (*RemotePage, error)
}

// Snapshot is an immutable copy of the cache state used to undo an optimistic change.
type Snapshot struct {
	pages  []Page
	loaded bool
	stale  bool
	depth  int
}

// MessageCache is the client view of one document conversation: pages of messages,
// index 0 being the newest page.
type MessageCache struct {
	fetcher    PageFetcher
	documentID string
	limit      int

	mu        sync.Mutex
	pages     []Page
	loaded    bool
	stale     bool
	depth     int
	gen       uint64
	listeners []func()
}

func NewMessageCache(fetcher PageFetcher, documentID string, limit int) *MessageCache {
	return &MessageCache{fetcher: fetcher, documentID: documentID, limit: limit}
}

// OnChange registers fn to run after every change to the cached pages.
func (c *MessageCache) OnChange(fn func()) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Pages returns the cached pages, fetching first when nothing is loaded or the data
// was invalidated.
func (c *MessageCache) Pages(ctx context.Context) ([]Page, error) {
	c.mu.Lock()
	needsFetch := !c.loaded || c.stale
	c.mu.Unlock()

	if needsFetch {
		if err := c.Fetch(ctx); err != nil {
			return nil, err
		}
	}
	return c.Peek(), nil
}

// Peek returns a copy of the cached pages without fetching.
func (c *MessageCache) Peek() []Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clonePages(c.pages)
}

// Flatten returns every cached message, newest first.
func (c *MessageCache) Flatten() []CachedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lo.FlatMap(c.pages, func(p Page, _ int) []CachedMessage {
		return append([]CachedMessage(nil), p.Messages...)
	})
}

// Fetch replaces the cache with authoritative data, reloading as many pages as were
// loaded before (at least one). A result is dropped when the cache was changed while
// the request was in flight.
func (c *MessageCache) Fetch(ctx context.Context) error {
	c.mu.Lock()
	want := max(len(c.pages), c.depth, 1)
	gen := c.gen
	c.mu.Unlock()

	var pages []Page
	cursor := ""
	for i := 0; i < want; i++ {
		page, err := c.fetchPage(ctx, cursor)
		if err != nil {
			return err
		}
		pages = append(pages, page)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return nil
	}
	c.pages = pages
	c.loaded = true
	c.stale = false
	c.depth = 0
	c.gen++
	c.mu.Unlock()
	c.notify()
	return nil
}

// FetchNextPage appends the next older page. It reports false when there is none.
func (c *MessageCache) FetchNextPage(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if !c.loaded || c.stale {
		c.mu.Unlock()
		return true, c.Fetch(ctx)
	}
	cursor := ""
	if n := len(c.pages); n > 0 {
		cursor = c.pages[n-1].NextCursor
	}
	gen := c.gen
	c.mu.Unlock()
	if cursor == "" {
		return false, nil
	}

	page, err := c.fetchPage(ctx, cursor)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return true, nil
	}
	c.pages = append(c.pages, page)
	c.gen++
	c.mu.Unlock()
	c.notify()
	return true, nil
}

// Update applies fn to the live pages. fn may modify them in place.
func (c *MessageCache) Update(fn func(pages []Page) []Page) {
	c.mu.Lock()
	c.pages = fn(c.pages)
	c.loaded = true
	c.gen++
	c.mu.Unlock()
	c.notify()
}

func (c *MessageCache) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{pages: clonePages(c.pages), loaded: c.loaded, stale: c.stale, depth: c.depth}
}

// Restore puts a snapshot back verbatim.
func (c *MessageCache) Restore(s Snapshot) {
	c.mu.Lock()
	c.pages = clonePages(s.pages)
	c.loaded = s.loaded
	c.stale = s.stale
	c.depth = s.depth
	c.gen++
	c.mu.Unlock()
	c.notify()
}

// Invalidate drops the cached pages; the next Pages call refetches as many pages as
// were loaded.
func (c *MessageCache) Invalidate() {
	c.mu.Lock()
	c.depth = max(c.depth, len(c.pages))
	c.pages = nil
	c.stale = true
	c.gen++
	c.mu.Unlock()
	c.notify()
}

func (c *MessageCache) fetchPage(ctx context.Context, cursor string) (Page, error) {
	remote, err := c.fetcher.ListMessages(ctx, c.documentID, c.limit, cursor)
	if err != nil {
		return Page{}, err
	}
	return Page{
		Messages: lo.Map(remote.Messages, func(m RemoteMessage, _ int) CachedMessage {
			return CachedMessage{Kind: KindReal, ID: m.ID, Role: m.Role, Text: m.Text, CreatedAt: m.CreatedAt}
		}),
		NextCursor: remote.NextCursor,
	}, nil
}

func (c *MessageCache) notify() {
	c.mu.Lock()
	listeners := append([]func(){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func clonePages(pages []Page) []Page {
	if pages == nil {
		return nil
	}
	return lo.Map(pages, func(p Page, _ int) Page {
		return Page{
			Messages:   append([]CachedMessage(nil), p.Messages...),
			NextCursor: p.NextCursor,
		}
	})
}
