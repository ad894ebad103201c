package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/samber/lo"
)

type State int

const (
	StateIdle State = iota
	StatePending
	StateStreaming
	StateSettled
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateStreaming:
		return "streaming"
	case StateSettled:
		return "settled"
	case StateRolledBack:
		return "rolled back"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrIllegalTransition  = errors.New("illegal state transition")
	ErrSubmissionInFlight = errors.New("a message is already being sent for this document")
	ErrEmptyInput         = errors.New("nothing to send")
	ErrStreamInterrupted  = errors.New("answer stream interrupted")
)

type Sender interface {
	SendMessage(ctx context.Context, documentID, text string) (io.ReadCloser, error)
}

// Controller drives one outgoing message at a time for a document conversation:
// it renders the exchange optimistically in the cache, merges the streamed answer
// into a provisional entry, then either settles (refetch) or rolls back.
type Controller struct {
	sender     Sender
	cache      *MessageCache
	documentID string

	mu           sync.Mutex
	state        State
	input        string
	rollbackText string
	snapshot     Snapshot
	thinking     bool
	answer       strings.Builder
	decoder      utf8Decoder
	onFragment   func(string)
}

func NewController(sender Sender, cache *MessageCache, documentID string) *Controller {
	return &Controller{sender: sender, cache: cache, documentID: documentID}
}

// OnFragment registers fn to receive each decoded piece of the answer.
func (c *Controller) OnFragment(fn func(string)) {
	c.mu.Lock()
	c.onFragment = fn
	c.mu.Unlock()
}

func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	c.input = text
	c.mu.Unlock()
}

func (c *Controller) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// Thinking reports whether an answer is awaited.
func (c *Controller) Thinking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.thinking
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Submit takes the current input and renders it as a provisional user message at
// the head of the newest page. It returns the text to send.
func (c *Controller) Submit() (string, error) {
	c.mu.Lock()
	if c.state == StatePending || c.state == StateStreaming {
		c.mu.Unlock()
		return "", ErrSubmissionInFlight
	}
	text := strings.TrimSpace(c.input)
	if text == "" {
		c.mu.Unlock()
		return "", ErrEmptyInput
	}
	c.rollbackText = c.input
	c.input = ""
	c.snapshot = c.cache.Snapshot()
	c.thinking = true
	c.answer.Reset()
	c.decoder = utf8Decoder{}
	c.state = StatePending
	c.mu.Unlock()

	c.cache.Update(func(pages []Page) []Page {
		if len(pages) == 0 {
			pages = []Page{{}}
		}
		pages[0].Messages = append([]CachedMessage{provisional(RoleUser, text)}, pages[0].Messages...)
		return pages
	})
	return text, nil
}

// Begin records that the answer body is available.
func (c *Controller) Begin() error {
	return c.transition(StatePending, StateStreaming)
}

// Apply merges one raw chunk of the answer into the provisional assistant message.
func (c *Controller) Apply(chunk []byte) error {
	c.mu.Lock()
	if c.state != StateStreaming {
		c.mu.Unlock()
		return fmt.Errorf("%w: apply while %s", ErrIllegalTransition, c.state)
	}
	text := c.decoder.Decode(chunk)
	c.answer.WriteString(text)
	full := c.answer.String()
	onFragment := c.onFragment
	c.mu.Unlock()

	if text == "" {
		return nil
	}
	c.upsertAssistant(full)
	if onFragment != nil {
		onFragment(text)
	}
	return nil
}

// Settle ends a streamed exchange. Provisional entries are dropped with the rest of
// the cache so the next read shows what the server actually stored.
func (c *Controller) Settle() error {
	c.mu.Lock()
	if c.state != StateStreaming {
		c.mu.Unlock()
		return fmt.Errorf("%w: settle while %s", ErrIllegalTransition, c.state)
	}
	tail := c.decoder.Flush()
	c.answer.WriteString(tail)
	full := c.answer.String()
	onFragment := c.onFragment
	c.thinking = false
	c.state = StateSettled
	c.mu.Unlock()

	if tail != "" {
		c.upsertAssistant(full)
		if onFragment != nil {
			onFragment(tail)
		}
	}
	c.cache.Invalidate()
	return nil
}

// Rollback undoes Submit after the request could not be sent.
func (c *Controller) Rollback() error {
	c.mu.Lock()
	if c.state != StatePending {
		c.mu.Unlock()
		return fmt.Errorf("%w: rollback while %s", ErrIllegalTransition, c.state)
	}
	c.input = c.rollbackText
	snapshot := c.snapshot
	c.thinking = false
	c.state = StateRolledBack
	c.mu.Unlock()

	c.cache.Restore(snapshot)
	return nil
}

// Send runs a whole submission: submit, send, stream, then settle or roll back.
// A failure while reading an obtained stream settles and returns ErrStreamInterrupted.
func (c *Controller) Send(ctx context.Context) error {
	text, err := c.Submit()
	if err != nil {
		return err
	}

	body, err := c.sender.SendMessage(ctx, c.documentID, text)
	if err != nil {
		if rbErr := c.Rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	defer body.Close()

	if err := c.Begin(); err != nil {
		return err
	}

	buf := make([]byte, 4096)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if err := c.Apply(buf[:n]); err != nil {
				return err
			}
		}
		if errors.Is(readErr, io.EOF) {
			return c.Settle()
		}
		if readErr != nil {
			if err := c.Settle(); err != nil {
				return err
			}
			return fmt.Errorf("%w: %v", ErrStreamInterrupted, readErr)
		}
	}
}

func (c *Controller) upsertAssistant(text string) {
	c.cache.Update(func(pages []Page) []Page {
		if len(pages) == 0 {
			pages = []Page{{}}
		}
		head := pages[0].Messages
		if _, idx, ok := lo.FindIndexOf(head, func(m CachedMessage) bool {
			return m.isProvisional(RoleAssistant)
		}); ok {
			head[idx].Text = text
			return pages
		}
		pages[0].Messages = append([]CachedMessage{provisional(RoleAssistant, text)}, head...)
		return pages
	})
}

func (c *Controller) transition(from, to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return fmt.Errorf("%w: %s to %s while %s", ErrIllegalTransition, from, to, c.state)
	}
	c.state = to
	return nil
}
