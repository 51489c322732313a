package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/openai/openai-go"
)

// issueKeywords maps an issue type to the words that indicate it. Checked in order.
var issueKeywords = []struct {
	issue    string
	keywords []string
}{
	{"damaged_product", []string{"damaged", "broken", "cracked", "defective", "not working"}},
	{"wrong_product", []string{"wrong item", "wrong product", "different product", "not what i ordered"}},
	{"missing_parts", []string{"missing"}},
	{"delivery_issue", []string{"late", "delayed", "not arrived", "never arrived"}},
	{"quality_issue", []string{"quality", "poor", "cheap"}},
}

var (
	negativeWords = []string{"angry", "terrible", "awful", "disappointed", "frustrated", "worst", "unacceptable", "broken", "damaged"}
	positiveWords = []string{"thank", "great", "perfect", "appreciate", "awesome"}
	// resolutionWords mark assistant turns that propose a resolution.
	resolutionWords = []string{"return", "refund", "replace"}
)

type summaryPayload struct {
	IssueType         string `json:"issue_type"`
	Summary           string `json:"summary"`
	ProposedSolution  string `json:"proposed_solution"`
	CustomerSentiment string `json:"customer_sentiment"`
	ResolutionStatus  string `json:"resolution_status"`
}

// Summary summarizes a session. It asks the model for JSON when one is configured
// and falls back to keyword extraction when there is no model or its output cannot
// be used. A session with no messages yields ErrSessionNotFound.
func (a *Agent) Summary(ctx context.Context, sessionID string) (models.ConversationSummary, error) {
	a.mu.Lock()
	s, ok := a.sessions[sessionID]
	var (
		history         []Message
		userID, orderID string
	)
	if ok {
		history = append([]Message(nil), s.history...)
		userID, orderID = s.userID, s.selectedOrderID
	}
	a.mu.Unlock()
	if len(history) == 0 {
		return models.ConversationSummary{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	payload, source := a.generateSummary(ctx, sessionID, history)
	slog.Info("Agent.Summary: summary ready", "sessionID", sessionID, "source", source, "issueType", payload.IssueType)
	return models.ConversationSummary{
		SessionID:         sessionID,
		UserID:            userID,
		OrderID:           orderID,
		IssueType:         payload.IssueType,
		Summary:           payload.Summary,
		ProposedSolution:  payload.ProposedSolution,
		CustomerSentiment: payload.CustomerSentiment,
		ResolutionStatus:  payload.ResolutionStatus,
		CreatedAt:         a.now().UTC(),
	}, nil
}

func (a *Agent) generateSummary(ctx context.Context, sessionID string, history []Message) (summaryPayload, string) {
	if a.gen == nil {
		return keywordSummary(history), "keywords"
	}
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(SummaryPrompt),
		openai.UserMessage(transcript(history)),
	}
	raw, err := a.gen.GenerateWithMessages(ctx, messages)
	if err != nil {
		slog.Warn("Agent.generateSummary: generation failed, using keywords", "sessionID", sessionID, "error", err)
		return keywordSummary(history), "keywords"
	}
	payload, err := parseSummary(raw)
	if err != nil {
		slog.Warn("Agent.generateSummary: unusable model output, using keywords", "sessionID", sessionID, "error", err)
		return keywordSummary(history), "keywords"
	}
	fallback := keywordSummary(history)
	if payload.IssueType == "" {
		payload.IssueType = fallback.IssueType
	}
	if payload.Summary == "" {
		payload.Summary = fallback.Summary
	}
	if payload.CustomerSentiment == "" {
		payload.CustomerSentiment = fallback.CustomerSentiment
	}
	if payload.ResolutionStatus == "" {
		payload.ResolutionStatus = fallback.ResolutionStatus
	}
	return payload, "model"
}

// parseSummary extracts the JSON object from model output, tolerating code fences
// and surrounding prose.
func parseSummary(raw string) (summaryPayload, error) {
	var p summaryPayload
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return p, fmt.Errorf("no JSON object in summary output")
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &p); err != nil {
		return p, fmt.Errorf("failed to decode summary: %w", err)
	}
	return p, nil
}

func transcript(history []Message) string {
	var b strings.Builder
	for _, m := range history {
		role := "Customer"
		if m.Role == RoleAssistant {
			role = "Agent"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, m.Content)
	}
	return b.String()
}

// keywordSummary builds a summary from the transcript alone.
func keywordSummary(history []Message) summaryPayload {
	var customer []string
	var proposal, lastAssistant string
	for _, m := range history {
		if m.Role == RoleAssistant {
			lastAssistant = m.Content
			if containsAny(strings.ToLower(m.Content), resolutionWords) {
				proposal = m.Content
			}
			continue
		}
		customer = append(customer, m.Content)
	}
	if proposal == "" {
		proposal = lastAssistant
	}
	customerText := strings.ToLower(strings.Join(customer, " "))

	p := summaryPayload{
		IssueType:         "general_inquiry",
		ProposedSolution:  proposal,
		CustomerSentiment: "neutral",
		ResolutionStatus:  "pending",
	}
	for _, ik := range issueKeywords {
		if containsAny(customerText, ik.keywords) {
			p.IssueType = ik.issue
			break
		}
	}
	switch {
	case containsAny(customerText, negativeWords):
		p.CustomerSentiment = "negative"
	case containsAny(customerText, positiveWords):
		p.CustomerSentiment = "positive"
	}
	if containsAny(strings.ToLower(proposal), resolutionWords) {
		p.ResolutionStatus = "resolved"
	}
	if len(customer) > 0 {
		p.Summary = fmt.Sprintf("Customer reported: %s", truncate(customer[0], 200))
	}
	return p
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
