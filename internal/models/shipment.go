package models

import "time"

// ShipmentKind distinguishes return pickups from replacement deliveries.
type ShipmentKind string

const (
	// ShipmentKindPickup collects a returned product from the customer.
	ShipmentKindPickup ShipmentKind = "pickup"
	// ShipmentKindDelivery sends a replacement product to the customer.
	ShipmentKindDelivery ShipmentKind = "delivery"
)

// IsValid reports whether k is a known shipment kind.
func (k ShipmentKind) IsValid() bool {
	return k == ShipmentKindPickup || k == ShipmentKindDelivery
}

// Label returns the customer-facing name of the shipment kind.
func (k ShipmentKind) Label() string {
	switch k {
	case ShipmentKindPickup:
		return "Return Pickup"
	case ShipmentKindDelivery:
		return "Replacement Delivery"
	default:
		return "Shipment"
	}
}

// StageDefinition is one named phase of shipment progress.
type StageDefinition struct {
	Name     string        `json:"name" yaml:"name"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Shipment is an issued pickup or delivery. ID, Kind and CreatedAt never change
// after creation.
type Shipment struct {
	ID        string       `json:"shipment_id"`
	Kind      ShipmentKind `json:"shipment_type"`
	UserID    string       `json:"user_id"`
	OrderID   string       `json:"order_id"`
	ProductID string       `json:"product_id"`
	Address   string       `json:"address,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// StageProgress is one row of a shipment's stage history.
type StageProgress struct {
	Name      string    `json:"name"`
	StartedAt time.Time `json:"started_at"`
	Completed bool      `json:"completed"`
}

// ShipmentStatus is derived from a Shipment and the stage table at query time.
// It is never persisted.
type ShipmentStatus struct {
	ShipmentID            string          `json:"shipment_id"`
	Kind                  ShipmentKind    `json:"shipment_type"`
	CurrentStageName      string          `json:"current_stage"`
	CurrentStageIndex     int             `json:"current_stage_index"`
	Elapsed               time.Duration   `json:"-"`
	ElapsedSeconds        int64           `json:"elapsed_seconds"`
	StageHistory          []StageProgress `json:"stage_history"`
	EstimatedCompletionAt time.Time       `json:"estimated_completion_at"`
	Delivered             bool            `json:"delivered"`
	ProgressPercent       float64         `json:"progress_percent"`
}

// ShipmentView pairs a stored shipment with its current status for listings.
type ShipmentView struct {
	Shipment
	Status ShipmentStatus `json:"status"`
}
