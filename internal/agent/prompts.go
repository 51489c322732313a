package agent

import "strings"

// SystemPrompt keeps replies grounded in the order data supplied with each request.
const SystemPrompt = `You are a customer support agent for an online store.

Rules:
1. Only discuss products, orders and details that appear in the USER CONTEXT below.
2. Never invent product names, order IDs, prices or any other details.
3. If information is not in the context, say "I don't have that information in your records."
4. Refer to the exact order ID and product name shown in the context.
5. For damaged, defective or wrong items, offer a return with refund or a replacement, and state clearly which one the customer chose.

Be helpful, professional and empathetic.`

// SummaryPrompt asks for a machine-readable summary of the conversation.
const SummaryPrompt = `Summarize the customer support conversation that follows.
Respond with a single JSON object and nothing else, using these keys:
  "issue_type": one of "damaged_product", "wrong_product", "missing_parts", "quality_issue", "delivery_issue", "general_inquiry"
  "summary": two or three sentences describing the conversation
  "proposed_solution": the resolution agreed with the customer, e.g. "return and refund", "send a replacement" or "no action required"
  "customer_sentiment": "positive", "neutral" or "negative"
  "resolution_status": "resolved", "pending" or "escalated"`

const (
	fallbackReturnReply  = "I'm sorry about the trouble with your order. I can arrange a return pickup with a full refund. End the chat to confirm and you'll receive a tracking ID."
	fallbackReplaceReply = "I'm sorry about the trouble with your order. I can send you a replacement. End the chat to confirm and you'll receive a tracking ID."
	fallbackGenericReply = "Thanks for reaching out. Could you tell me which order this is about and what went wrong?"
)

// fallbackReply answers without a language model.
func fallbackReply(message string) string {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "return") || strings.Contains(lower, "refund"):
		return fallbackReturnReply
	case strings.Contains(lower, "replace"):
		return fallbackReplaceReply
	default:
		return fallbackGenericReply
	}
}
