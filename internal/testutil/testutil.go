// Package testutil provides common test utilities and helpers for SupportPipe tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/models"
)

// OrderSaver is the part of a store needed to seed orders.
type OrderSaver interface {
	SaveOrder(ctx context.Context, o models.Order) error
}

// SampleOrders returns a small fixed order set relative to now. U1 owns O1 and
// O2 (O2 has a contact phone), U2 owns O9.
func SampleOrders(now time.Time) []models.Order {
	return []models.Order{
		{OrderID: "O1", UserID: "U1", ProductID: "P1", ProductName: "Desk Lamp", Status: "delivered", Price: "29.99", OrderedAt: now.Add(-72 * time.Hour)},
		{OrderID: "O2", UserID: "U1", ProductID: "P2", ProductName: "Headphones", Status: "delivered", Price: "89.00", ContactPhone: "+15550001111", OrderedAt: now.Add(-24 * time.Hour)},
		{OrderID: "O9", UserID: "U2", ProductID: "P9", ProductName: "Coffee Grinder", Status: "shipped", Price: "45.50", OrderedAt: now.Add(-48 * time.Hour)},
	}
}

// SeedOrders saves orders into st and fails the test on error.
func SeedOrders(t testing.TB, st OrderSaver, orders ...models.Order) {
	t.Helper()
	for _, o := range orders {
		if err := st.SaveOrder(context.Background(), o); err != nil {
			t.Fatalf("failed to seed order %s: %v", o.OrderID, err)
		}
	}
}

// FixedClock is a manually advanced clock for deterministic tests.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock returns a clock stopped at now.
func NewFixedClock(now time.Time) *FixedClock {
	return &FixedClock{now: now}
}

// Now returns the current fake time.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t testing.TB, rr *httptest.ResponseRecorder, expectedStatus models.APIStatus) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != string(expectedStatus) {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// DecodeResult decodes the "result" field of an API response into target.
func DecodeResult(t testing.TB, rr *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	var envelope struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	MustUnmarshalJSON(t, rr.Body.Bytes(), &envelope)
	if len(envelope.Result) == 0 {
		t.Fatalf("response has no result (status %q, message %q)", envelope.Status, envelope.Message)
	}
	MustUnmarshalJSON(t, envelope.Result, target)
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t testing.TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t testing.TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t testing.TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
