package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/store"
	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedGenerator returns replies in order and records what it was sent.
type scriptedGenerator struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   [][]openai.ChatCompletionMessageParamUnion
}

func (g *scriptedGenerator) GenerateWithMessages(_ context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, messages)
	if g.err != nil {
		return "", g.err
	}
	if len(g.replies) == 0 {
		return "ok", nil
	}
	r := g.replies[0]
	g.replies = g.replies[1:]
	return r, nil
}

var now = time.Date(2025, 5, 1, 15, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *store.InMemoryStore {
	t.Helper()
	st := store.NewInMemoryStore()
	require.NoError(t, st.SaveOrder(context.Background(), models.Order{
		OrderID: "O1", UserID: "U1", ProductID: "P1", ProductName: "AirChef Fryo", Status: "delivered", Price: "89.00",
		OrderedAt: now.Add(-96 * time.Hour),
	}))
	return st
}

func TestChatFallbackMode(t *testing.T) {
	a := New(newStore(t), WithClock(func() time.Time { return now }))
	assert.False(t, a.Available())

	reply, err := a.Chat(context.Background(), models.ChatRequest{SessionID: "S1", UserID: "U1", Message: "It arrived broken, I want a refund"})
	require.NoError(t, err)
	assert.Equal(t, fallbackReturnReply, reply)

	history := a.History("S1")
	require.Len(t, history, 2)
	assert.Equal(t, RoleUser, history[0].Role)
	assert.Equal(t, RoleAssistant, history[1].Role)
}

func TestChatValidation(t *testing.T) {
	a := New(newStore(t))
	_, err := a.Chat(context.Background(), models.ChatRequest{SessionID: "S1", Message: "  "})
	assert.ErrorIs(t, err, models.ErrEmptyMessage)
	_, err = a.Chat(context.Background(), models.ChatRequest{Message: "hi"})
	assert.ErrorIs(t, err, models.ErrEmptySessionID)
}

func TestChatWithGeneratorIncludesContext(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"I see your AirChef Fryo order.", "A replacement is on its way."}}
	a := New(newStore(t), WithGenerator(gen))
	ctx := context.Background()

	_, err := a.Chat(ctx, models.ChatRequest{SessionID: "S1", UserID: "U1", SelectedOrderID: "O1", Message: "My fryer is cracked",
		ImageAnalysis: map[string]any{"label": "damaged_product", "confidence": 0.93}})
	require.NoError(t, err)
	reply, err := a.Chat(ctx, models.ChatRequest{SessionID: "S1", Message: "Please replace it"})
	require.NoError(t, err)
	assert.Equal(t, "A replacement is on its way.", reply)

	require.Len(t, gen.calls, 2)
	// system prompt, image analysis, user message
	assert.Len(t, gen.calls[0], 3)
	// system prompt, user, assistant, user; user and order are remembered
	assert.Len(t, gen.calls[1], 4)

	ctxText := a.userContext(ctx, "U1", "O1")
	assert.Contains(t, ctxText, "Order O1: AirChef Fryo (product P1)")
	assert.Contains(t, ctxText, "Selected order:")
}

func TestChatGeneratorErrorKeepsUserMessage(t *testing.T) {
	gen := &scriptedGenerator{err: errors.New("rate limited")}
	a := New(newStore(t), WithGenerator(gen))
	_, err := a.Chat(context.Background(), models.ChatRequest{SessionID: "S1", Message: "hello"})
	require.Error(t, err)
	history := a.History("S1")
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Content)
}

func TestHistoryLimits(t *testing.T) {
	gen := &scriptedGenerator{}
	a := New(newStore(t), WithGenerator(gen), WithHistoryLimits(6, 4))
	for i := 0; i < 5; i++ {
		_, err := a.Chat(context.Background(), models.ChatRequest{SessionID: "S1", Message: fmt.Sprintf("msg %d", i)})
		require.NoError(t, err)
	}
	history := a.History("S1")
	require.Len(t, history, 6)
	assert.Equal(t, "msg 2", history[0].Content)

	last := gen.calls[len(gen.calls)-1]
	assert.Len(t, last, 1+4, "system prompt plus the context window")
}

func TestClearSession(t *testing.T) {
	a := New(newStore(t))
	_, err := a.Chat(context.Background(), models.ChatRequest{SessionID: "S1", Message: "hi"})
	require.NoError(t, err)
	a.ClearSession("S1")
	assert.Empty(t, a.History("S1"))
	_, err = a.Summary(context.Background(), "S1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSummaryFromModelJSON(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{
		"Sorry to hear that.",
		"```json\n{\"issue_type\": \"damaged_product\", \"summary\": \"Fryer arrived cracked.\", \"proposed_solution\": \"Customer requests return and refund\", \"customer_sentiment\": \"negative\", \"resolution_status\": \"resolved\"}\n```",
	}}
	a := New(newStore(t), WithGenerator(gen), WithClock(func() time.Time { return now }))
	_, err := a.Chat(context.Background(), models.ChatRequest{SessionID: "S1", UserID: "U1", SelectedOrderID: "O1", Message: "cracked fryer"})
	require.NoError(t, err)

	sum, err := a.Summary(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, "S1", sum.SessionID)
	assert.Equal(t, "U1", sum.UserID)
	assert.Equal(t, "O1", sum.OrderID)
	assert.Equal(t, "damaged_product", sum.IssueType)
	assert.Equal(t, "Customer requests return and refund", sum.ProposedSolution)
	assert.Equal(t, now, sum.CreatedAt)
}

func TestSummaryFallsBackOnBadJSON(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"We can send a replacement unit right away.", "I think it went well!"}}
	a := New(newStore(t), WithGenerator(gen))
	_, err := a.Chat(context.Background(), models.ChatRequest{SessionID: "S1", Message: "The item is damaged"})
	require.NoError(t, err)

	sum, err := a.Summary(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, "damaged_product", sum.IssueType)
	assert.Equal(t, "We can send a replacement unit right away.", sum.ProposedSolution)
	assert.Equal(t, "negative", sum.CustomerSentiment)
	assert.Equal(t, "resolved", sum.ResolutionStatus)
}

func TestKeywordSummary(t *testing.T) {
	p := keywordSummary([]Message{
		{Role: RoleUser, Content: "Thanks, I received the wrong item"},
		{Role: RoleAssistant, Content: "Could you share the order ID?"},
	})
	assert.Equal(t, "wrong_product", p.IssueType)
	assert.Equal(t, "positive", p.CustomerSentiment)
	assert.Equal(t, "pending", p.ResolutionStatus)
	assert.Equal(t, "Could you share the order ID?", p.ProposedSolution)
	assert.True(t, strings.HasPrefix(p.Summary, "Customer reported: "))
}

func TestParseSummary(t *testing.T) {
	_, err := parseSummary("no json here")
	assert.Error(t, err)
	_, err = parseSummary("{not valid}")
	assert.Error(t, err)
	p, err := parseSummary(`Here you go: {"issue_type":"other","proposed_solution":"none"} thanks`)
	require.NoError(t, err)
	assert.Equal(t, "other", p.IssueType)
}

func TestConcurrentSessions(t *testing.T) {
	a := New(newStore(t), WithGenerator(&scriptedGenerator{}))
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sid := fmt.Sprintf("S%d", i)
			for j := 0; j < 5; j++ {
				_, err := a.Chat(context.Background(), models.ChatRequest{SessionID: sid, Message: "hi"})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()
	for i := 0; i < 10; i++ {
		assert.Len(t, a.History(fmt.Sprintf("S%d", i)), 10)
	}
}
