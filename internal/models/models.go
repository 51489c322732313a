// Package models defines the core data structures for SupportPipe.
//
// It includes orders, shipments, conversation summaries and the API response
// envelope, which are shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// Validation constants for input validation
const (
	// MaxChatMessageLength defines the maximum allowed length for a chat message
	MaxChatMessageLength = 4096
	// MaxAddressLength defines the maximum allowed length for a shipment address
	MaxAddressLength = 512
)

// Error variables for better error handling and testability
var (
	ErrEmptyUserID      = errors.New("user_id is required")
	ErrEmptySessionID   = errors.New("session_id is required")
	ErrEmptyMessage     = errors.New("message is required")
	ErrMessageTooLong   = errors.New("message exceeds maximum length")
	ErrEmptyOrderID     = errors.New("order_id is required")
	ErrEmptyProductID   = errors.New("product_id is required")
	ErrAddressTooLong   = errors.New("address exceeds maximum length")
	ErrInvalidOrderDate = errors.New("ordered_at must not be in the future")
)

// Order is a purchase a customer can raise a support issue about.
type Order struct {
	OrderID      string    `json:"order_id"`
	UserID       string    `json:"user_id"`
	ProductID    string    `json:"product_id"`
	ProductName  string    `json:"product_name,omitempty"`
	Status       string    `json:"status,omitempty"`
	Price        string    `json:"price,omitempty"`
	ContactPhone string    `json:"contact_phone,omitempty"` // optional, used for shipment notifications
	OrderedAt    time.Time `json:"ordered_at"`
}

// Validate performs basic validation on an Order.
func (o *Order) Validate() error {
	if strings.TrimSpace(o.OrderID) == "" {
		return ErrEmptyOrderID
	}
	if strings.TrimSpace(o.UserID) == "" {
		return ErrEmptyUserID
	}
	if strings.TrimSpace(o.ProductID) == "" {
		return ErrEmptyProductID
	}
	if o.OrderedAt.After(time.Now().Add(time.Minute)) {
		return ErrInvalidOrderDate
	}
	return nil
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	UserID string `json:"user_id"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	SessionID       string         `json:"session_id"`
	UserID          string         `json:"user_id"`
	Message         string         `json:"message"`
	SelectedOrderID string         `json:"selected_order_id,omitempty"`
	ImageAnalysis   map[string]any `json:"image_analysis,omitempty"` // output of the external defect classifier
}

// Validate checks the chat request.
func (r *ChatRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return ErrEmptyMessage
	}
	if len(r.Message) > MaxChatMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// EndChatRequest is the body of POST /api/chat/end.
type EndChatRequest struct {
	SessionID       string `json:"session_id"`
	UserID          string `json:"user_id"`
	SelectedOrderID string `json:"selected_order_id,omitempty"`
}

// Validate checks the end-of-chat request.
func (r *EndChatRequest) Validate() error {
	if strings.TrimSpace(r.SessionID) == "" {
		return ErrEmptySessionID
	}
	return nil
}

// CreateShipmentRequest is the body of the direct shipment creation endpoints.
type CreateShipmentRequest struct {
	UserID    string `json:"user_id"`
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	Address   string `json:"address,omitempty"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// API Response types for consistent JSON responses

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Convenience functions for common response patterns

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
