// Package agent runs customer support conversations. It keeps per-session history,
// grounds replies in the customer's orders and produces the end-of-conversation
// summary that drives fulfillment.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/openai/openai-go"
)

// Defaults for session history handling.
const (
	DefaultMaxHistory    = 50
	DefaultContextWindow = 30
	// DefaultOrderContext is how many recent orders are shown to the model.
	DefaultOrderContext = 10
)

// ErrSessionNotFound is returned by Summary for a session with no messages.
var ErrSessionNotFound = errors.New("session not found")

// Message roles stored in history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Generator produces a completion for a conversation. *genai.Client implements it.
type Generator interface {
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
}

// OrderLookup provides the order context replies are grounded in.
type OrderLookup interface {
	GetOrder(ctx context.Context, orderID string) (models.Order, error)
	GetRecentOrders(ctx context.Context, userID string, limit int) ([]models.Order, error)
}

// Message is one turn of a conversation.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

type session struct {
	userID          string
	selectedOrderID string
	history         []Message
}

// Opts holds configuration options for the Agent.
type Opts struct {
	Generator     Generator
	MaxHistory    int
	ContextWindow int
	Now           func() time.Time
}

// Option defines a configuration option for the Agent.
type Option func(*Opts)

// WithGenerator enables LLM replies. Without one the agent runs in fallback mode.
func WithGenerator(g Generator) Option {
	return func(o *Opts) { o.Generator = g }
}

// WithHistoryLimits sets how many messages are kept and how many are sent to the model.
func WithHistoryLimits(maxHistory, contextWindow int) Option {
	return func(o *Opts) {
		o.MaxHistory = maxHistory
		o.ContextWindow = contextWindow
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Agent is safe for concurrent use across sessions.
type Agent struct {
	gen           Generator
	orders        OrderLookup
	maxHistory    int
	contextWindow int
	now           func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates an Agent that looks up order context in orders.
func New(orders OrderLookup, opts ...Option) *Agent {
	cfg := Opts{MaxHistory: DefaultMaxHistory, ContextWindow: DefaultContextWindow}
	for _, opt := range opts {
		opt(&cfg)
	}
	a := &Agent{
		gen:           cfg.Generator,
		orders:        orders,
		maxHistory:    cfg.MaxHistory,
		contextWindow: cfg.ContextWindow,
		now:           time.Now,
		sessions:      make(map[string]*session),
	}
	if cfg.Now != nil {
		a.now = cfg.Now
	}
	if a.maxHistory <= 0 {
		a.maxHistory = DefaultMaxHistory
	}
	if a.contextWindow <= 0 || a.contextWindow > a.maxHistory {
		a.contextWindow = a.maxHistory
	}
	return a
}

// Available reports whether replies come from a language model.
func (a *Agent) Available() bool {
	return a.gen != nil
}

// Chat records the user's message and returns the agent's reply. On a generation
// failure the user message stays in history and the error is returned.
func (a *Agent) Chat(ctx context.Context, req models.ChatRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return "", models.ErrEmptySessionID
	}

	history, userID, orderID := a.appendAndSnapshot(req)

	var (
		reply string
		err   error
	)
	if a.gen == nil {
		reply = fallbackReply(req.Message)
	} else {
		messages := a.buildMessages(ctx, userID, orderID, req.ImageAnalysis, history)
		reply, err = a.gen.GenerateWithMessages(ctx, messages)
		if err != nil {
			slog.Error("Agent.Chat: generation failed", "sessionID", req.SessionID, "error", err)
			return "", fmt.Errorf("failed to generate reply: %w", err)
		}
	}

	a.appendMessage(req.SessionID, Message{Role: RoleAssistant, Content: reply, At: a.now().UTC()})
	slog.Debug("Agent.Chat: replied", "sessionID", req.SessionID, "userID", userID, "historyLen", len(history)+1)
	return reply, nil
}

// appendAndSnapshot adds the user message and returns the context window.
func (a *Agent) appendAndSnapshot(req models.ChatRequest) ([]Message, string, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[req.SessionID]
	if !ok {
		s = &session{}
		a.sessions[req.SessionID] = s
	}
	if req.UserID != "" {
		s.userID = req.UserID
	}
	if req.SelectedOrderID != "" {
		s.selectedOrderID = req.SelectedOrderID
	}
	s.history = a.trim(append(s.history, Message{Role: RoleUser, Content: req.Message, At: a.now().UTC()}))

	window := s.history
	if len(window) > a.contextWindow {
		window = window[len(window)-a.contextWindow:]
	}
	snapshot := make([]Message, len(window))
	copy(snapshot, window)
	return snapshot, s.userID, s.selectedOrderID
}

func (a *Agent) appendMessage(sessionID string, m Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[sessionID]
	if !ok {
		// Cleared while the reply was generated.
		return
	}
	s.history = a.trim(append(s.history, m))
}

func (a *Agent) trim(history []Message) []Message {
	if len(history) <= a.maxHistory {
		return history
	}
	return append([]Message(nil), history[len(history)-a.maxHistory:]...)
}

// History returns a copy of the session's messages.
func (a *Agent) History(sessionID string) []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// ClearSession forgets a session's history.
func (a *Agent) ClearSession(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, sessionID)
	slog.Debug("Agent.ClearSession: session cleared", "sessionID", sessionID)
}

func (a *Agent) buildMessages(ctx context.Context, userID, orderID string, image map[string]any, history []Message) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openai.SystemMessage(SystemPrompt+"\n\n"+a.userContext(ctx, userID, orderID)))
	if len(image) > 0 {
		if data, err := json.Marshal(image); err == nil {
			messages = append(messages, openai.SystemMessage("IMAGE ANALYSIS RESULT: "+string(data)))
		}
	}
	for _, m := range history {
		if m.Role == RoleAssistant {
			messages = append(messages, openai.AssistantMessage(m.Content))
		} else {
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	return messages
}

// userContext renders the customer's orders for the system prompt.
func (a *Agent) userContext(ctx context.Context, userID, orderID string) string {
	var b strings.Builder
	b.WriteString("USER CONTEXT:\n")
	if userID == "" {
		b.WriteString("No customer is signed in.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Customer ID: %s\n", userID)

	if orderID != "" {
		if o, err := a.orders.GetOrder(ctx, orderID); err == nil {
			b.WriteString("Selected order:\n")
			writeOrder(&b, o)
		}
	}
	orders, err := a.orders.GetRecentOrders(ctx, userID, DefaultOrderContext)
	if err != nil {
		slog.Warn("Agent.userContext: order lookup failed", "userID", userID, "error", err)
		return b.String()
	}
	if len(orders) == 0 {
		b.WriteString("The customer has no orders on record.\n")
		return b.String()
	}
	b.WriteString("Orders:\n")
	for _, o := range orders {
		writeOrder(&b, o)
	}
	return b.String()
}

func writeOrder(b *strings.Builder, o models.Order) {
	name := o.ProductName
	if name == "" {
		name = "Unknown Product"
	}
	fmt.Fprintf(b, "- Order %s: %s (product %s)", o.OrderID, name, o.ProductID)
	if o.Status != "" {
		fmt.Fprintf(b, ", status %s", o.Status)
	}
	if o.Price != "" {
		fmt.Fprintf(b, ", price %s", o.Price)
	}
	fmt.Fprintf(b, ", ordered %s\n", o.OrderedAt.Format("2006-01-02"))
}
