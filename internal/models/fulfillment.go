package models

import "time"

// FulfillmentAction is the decision derived from a resolution proposal.
type FulfillmentAction string

const (
	ActionPickup   FulfillmentAction = "pickup"
	ActionDelivery FulfillmentAction = "delivery"
	ActionNone     FulfillmentAction = "none"
)

// ShipmentKind maps an action to the shipment it requires. The boolean is false
// for ActionNone.
func (a FulfillmentAction) ShipmentKind() (ShipmentKind, bool) {
	switch a {
	case ActionPickup:
		return ShipmentKindPickup, true
	case ActionDelivery:
		return ShipmentKindDelivery, true
	default:
		return "", false
	}
}

// FinalizeState is the position of a session in the end-of-conversation flow.
type FinalizeState string

const (
	StateAwaitingEnd      FinalizeState = "AWAITING_END"
	StateOrderResolved    FinalizeState = "ORDER_RESOLVED"
	StateActionClassified FinalizeState = "ACTION_CLASSIFIED"
	StateShipmentIssued   FinalizeState = "SHIPMENT_ISSUED"
	StateNoAction         FinalizeState = "NO_ACTION"
)

// IsTerminal reports whether no further transitions are possible.
func (s FinalizeState) IsTerminal() bool {
	return s == StateShipmentIssued || s == StateNoAction
}

// ConversationSummary is the end-of-chat record for a session. ShipmentID is set
// at most once.
type ConversationSummary struct {
	SessionID         string       `json:"session_id"`
	UserID            string       `json:"user_id,omitempty"`
	OrderID           string       `json:"order_id,omitempty"`
	IssueType         string       `json:"issue_type"`
	Summary           string       `json:"summary,omitempty"`
	ProposedSolution  string       `json:"proposed_solution"`
	CustomerSentiment string       `json:"customer_sentiment,omitempty"`
	ResolutionStatus  string       `json:"resolution_status,omitempty"`
	ShipmentID        string       `json:"shipment_id,omitempty"`
	ShipmentType      ShipmentKind `json:"shipment_type,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
}

// HasShipment reports whether a shipment was already issued for the session.
func (s *ConversationSummary) HasShipment() bool {
	return s.ShipmentID != ""
}

// FinalizeResult is returned to the caller at the end of a conversation.
// State is omitted when unset; rejected requests always carry AWAITING_END.
type FinalizeResult struct {
	Success      bool          `json:"success"`
	SessionID    string        `json:"session_id"`
	TrackingID   string        `json:"tracking_id,omitempty"`
	ShipmentType ShipmentKind  `json:"shipment_type,omitempty"`
	Message      string        `json:"message"`
	State        FinalizeState `json:"state,omitempty"`
}
