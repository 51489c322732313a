// Package fulfillment decides, once per conversation, whether a support session ends
// with a return pickup, a replacement delivery or no shipment at all.
package fulfillment

import (
	"strings"

	"github.com/BTreeMap/SupportPipe/internal/models"
)

var (
	pickupKeywords   = []string{"return", "refund"}
	deliveryKeywords = []string{"replace", "replacement"}
)

// Classify maps a free-text resolution proposal to a fulfillment action.
// Matching is a case-insensitive substring test; pickup keywords take priority
// over delivery keywords, and text matching neither yields ActionNone.
func Classify(text string) models.FulfillmentAction {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, pickupKeywords):
		return models.ActionPickup
	case containsAny(lower, deliveryKeywords):
		return models.ActionDelivery
	default:
		return models.ActionNone
	}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
