package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/SupportPipe/internal/models"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

const shipmentColumns = `id, kind, user_id, order_id, product_id, address, created_at`

// scanShipment scans a Shipment in shipmentColumns order.
func scanShipment(row rowScanner) (models.Shipment, error) {
	var s models.Shipment
	var kind string
	var address sql.NullString
	if err := row.Scan(&s.ID, &kind, &s.UserID, &s.OrderID, &s.ProductID, &address, &s.CreatedAt); err != nil {
		return s, err
	}
	s.Kind = models.ShipmentKind(kind)
	s.Address = address.String
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}

func collectShipments(rows *sql.Rows) ([]models.Shipment, error) {
	defer rows.Close()
	var out []models.Shipment
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shipment failed: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate shipment rows: %w", err)
	}
	return out, nil
}

const orderColumns = `order_id, user_id, product_id, product_name, status, price, contact_phone, ordered_at`

// scanOrder scans an Order in orderColumns order.
func scanOrder(row rowScanner) (models.Order, error) {
	var o models.Order
	var name, status, price, phone sql.NullString
	if err := row.Scan(&o.OrderID, &o.UserID, &o.ProductID, &name, &status, &price, &phone, &o.OrderedAt); err != nil {
		return o, err
	}
	o.ProductName = name.String
	o.Status = status.String
	o.Price = price.String
	o.ContactPhone = phone.String
	o.OrderedAt = o.OrderedAt.UTC()
	return o, nil
}

func collectOrders(rows *sql.Rows) ([]models.Order, error) {
	defer rows.Close()
	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order failed: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order rows: %w", err)
	}
	return out, nil
}

const summaryColumns = `session_id, user_id, order_id, issue_type, summary, proposed_solution,
	customer_sentiment, resolution_status, shipment_id, shipment_type, created_at`

// scanSummary scans a ConversationSummary in summaryColumns order.
func scanSummary(row rowScanner) (models.ConversationSummary, error) {
	var s models.ConversationSummary
	var userID, orderID, summary, sentiment, resolution, shipmentID, shipmentType sql.NullString
	err := row.Scan(&s.SessionID, &userID, &orderID, &s.IssueType, &summary, &s.ProposedSolution,
		&sentiment, &resolution, &shipmentID, &shipmentType, &s.CreatedAt)
	if err != nil {
		return s, err
	}
	s.UserID = userID.String
	s.OrderID = orderID.String
	s.Summary = summary.String
	s.CustomerSentiment = sentiment.String
	s.ResolutionStatus = resolution.String
	s.ShipmentID = shipmentID.String
	s.ShipmentType = models.ShipmentKind(shipmentType.String)
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}

func collectSummaries(rows *sql.Rows) ([]models.ConversationSummary, error) {
	defer rows.Close()
	var out []models.ConversationSummary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan summary failed: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate summary rows: %w", err)
	}
	return out, nil
}

// summaryArgs returns the insert arguments in summaryColumns order.
func summaryArgs(s models.ConversationSummary) []any {
	return []any{
		s.SessionID, nilIfEmpty(s.UserID), nilIfEmpty(s.OrderID), s.IssueType, nilIfEmpty(s.Summary),
		s.ProposedSolution, nilIfEmpty(s.CustomerSentiment), nilIfEmpty(s.ResolutionStatus),
		nilIfEmpty(s.ShipmentID), nilIfEmpty(string(s.ShipmentType)), s.CreatedAt.UTC(),
	}
}
