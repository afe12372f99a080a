package lexiread

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const DefaultFallbackMessage = "Sorry, I couldn't get a reply right now. Please try again."

type EventKind int

const (
	EventMessageAppended EventKind = iota + 1
	EventLoadingChanged
	EventInputChanged
	EventReset
)

// Event describes one change of conversation state, delivered to
// subscribers in the order the changes happened.
type Event struct {
	Kind    EventKind
	Message *ChatMessage
	Loading bool
	Input   string
}

// Conversation owns a chat log, its input buffer and the loading flag.
// At most one Send is in flight at a time; a second one is rejected.
type Conversation struct {
	responder  Responder
	logger     *logrus.Logger
	fallback   string
	collapse   bool
	now        func() time.Time
	newId      func() string
	bufferSize int

	mu          sync.Mutex
	messages    []ChatMessage
	input       string
	loading     bool
	subscribers map[int]chan Event
	nextSub     int
}

type ConversationOption func(c *Conversation)

func WithFallbackMessage(message string) ConversationOption {
	return func(c *Conversation) {
		c.fallback = message
	}
}

// WithCollapseErrors controls whether a failed reply is replaced by the
// fallback message in the log. Enabled by default.
func WithCollapseErrors(collapse bool) ConversationOption {
	return func(c *Conversation) {
		c.collapse = collapse
	}
}

func WithConversationLogger(logger *logrus.Logger) ConversationOption {
	return func(c *Conversation) {
		c.logger = logger
	}
}

func WithNow(now func() time.Time) ConversationOption {
	return func(c *Conversation) {
		c.now = now
	}
}

// WithEventBuffer sets the channel size of new subscriptions.
func WithEventBuffer(size int) ConversationOption {
	return func(c *Conversation) {
		c.bufferSize = size
	}
}

func NewConversation(responder Responder, opts ...ConversationOption) *Conversation {
	c := &Conversation{
		responder:   responder,
		logger:      logrus.StandardLogger(),
		fallback:    DefaultFallbackMessage,
		collapse:    true,
		now:         time.Now,
		newId:       uuid.NewString,
		bufferSize:  64,
		subscribers: map[int]chan Event{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send appends text as a user message, asks the responder and appends its
// reply. Blank text is ignored and returns nil, nil. On failure the fallback
// message is appended and returned along with the error, unless collapsing
// is disabled.
func (c *Conversation) Send(ctx context.Context, text string) (*ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return nil, newError(CodeSendInFlight, "a message is already being sent")
	}
	c.appendLocked(text, true)
	c.setInputLocked("")
	c.setLoadingLocked(true)
	c.mu.Unlock()

	reply, err := c.responder.Reply(ctx, text)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.setLoadingLocked(false)
	if err != nil {
		c.logger.WithError(err).WithField("code", ErrorCode(err)).Warn("chat reply failed")
		if !c.collapse {
			return nil, err
		}
		return c.appendLocked(c.fallback, false), err
	}
	return c.appendLocked(reply, false), nil
}

// Submit sends the current input buffer.
func (c *Conversation) Submit(ctx context.Context) (*ChatMessage, error) {
	return c.Send(ctx, c.Input())
}

func (c *Conversation) SetInput(input string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setInputLocked(input)
}

func (c *Conversation) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

func (c *Conversation) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Messages returns a copy of the log in append order.
func (c *Conversation) Messages() []ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// Reset empties the log. It fails while a send is in flight.
func (c *Conversation) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loading {
		return newError(CodeSendInFlight, "cannot reset while a message is being sent")
	}
	c.messages = nil
	c.publishLocked(Event{Kind: EventReset})
	return nil
}

// Subscribe returns a channel of state changes and a function that ends the
// subscription. Events are dropped for a subscriber whose buffer is full.
func (c *Conversation) Subscribe() (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan Event, c.bufferSize)
	c.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subscribers, id)
			close(ch)
		})
	}
}

func (c *Conversation) appendLocked(text string, isUser bool) *ChatMessage {
	msg := ChatMessage{
		Id:        c.newId(),
		Text:      text,
		IsUser:    isUser,
		CreatedAt: c.now(),
	}
	c.messages = append(c.messages, msg)
	out := msg
	c.publishLocked(Event{Kind: EventMessageAppended, Message: &msg})
	return &out
}

func (c *Conversation) setLoadingLocked(loading bool) {
	if c.loading == loading {
		return
	}
	c.loading = loading
	c.publishLocked(Event{Kind: EventLoadingChanged, Loading: loading})
}

func (c *Conversation) setInputLocked(input string) {
	if c.input == input {
		return
	}
	c.input = input
	c.publishLocked(Event{Kind: EventInputChanged, Input: input})
}

func (c *Conversation) publishLocked(ev Event) {
	for id, ch := range c.subscribers {
		select {
		case ch <- ev:
		default:
			c.logger.WithFields(logrus.Fields{"subscriber": id, "kind": ev.Kind}).Warn("subscriber buffer full, event dropped")
		}
	}
}
