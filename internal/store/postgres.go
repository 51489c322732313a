// Package store provides storage backends for SupportPipe.
//
// This file implements a PostgreSQL-backed store for shipments, orders and summaries.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres ping successful")

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func isPostgresDuplicate(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

// InsertShipment stores a new shipment, mapping a primary key violation to
// models.ErrDuplicateTrackingID.
func (s *PostgresStore) InsertShipment(ctx context.Context, sh models.Shipment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO shipments (`+shipmentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sh.ID, string(sh.Kind), sh.UserID, sh.OrderID, sh.ProductID, nilIfEmpty(sh.Address), sh.CreatedAt.UTC())
	if isPostgresDuplicate(err) {
		slog.Warn("PostgresStore InsertShipment duplicate id", "id", sh.ID)
		return models.ErrDuplicateTrackingID
	}
	if err != nil {
		slog.Error("PostgresStore InsertShipment failed", "error", err, "id", sh.ID)
		return fmt.Errorf("failed to insert shipment %s: %w", sh.ID, err)
	}
	slog.Debug("PostgresStore InsertShipment succeeded", "id", sh.ID, "kind", sh.Kind)
	return nil
}

func (s *PostgresStore) GetShipment(ctx context.Context, id string) (models.Shipment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id = $1`, id)
	sh, err := scanShipment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Shipment{}, models.ErrNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetShipment failed", "error", err, "id", id)
		return models.Shipment{}, fmt.Errorf("failed to get shipment %s: %w", id, err)
	}
	return sh, nil
}

func (s *PostgresStore) ListShipmentsByUser(ctx context.Context, userID string) ([]models.Shipment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+shipmentColumns+` FROM shipments WHERE user_id = $1 ORDER BY created_at DESC, id`, userID)
	if err != nil {
		slog.Error("PostgresStore ListShipmentsByUser query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query shipments: %w", err)
	}
	return collectShipments(rows)
}

func (s *PostgresStore) ListShipments(ctx context.Context) ([]models.Shipment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+shipmentColumns+` FROM shipments ORDER BY created_at DESC, id`)
	if err != nil {
		slog.Error("PostgresStore ListShipments query failed", "error", err)
		return nil, fmt.Errorf("failed to query shipments: %w", err)
	}
	return collectShipments(rows)
}

func (s *PostgresStore) SaveOrder(ctx context.Context, o models.Order) error {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (order_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			product_id = EXCLUDED.product_id,
			product_name = EXCLUDED.product_name,
			status = EXCLUDED.status,
			price = EXCLUDED.price,
			contact_phone = EXCLUDED.contact_phone,
			ordered_at = EXCLUDED.ordered_at`
	_, err := s.db.ExecContext(ctx, query,
		o.OrderID, o.UserID, o.ProductID, nilIfEmpty(o.ProductName), nilIfEmpty(o.Status),
		nilIfEmpty(o.Price), nilIfEmpty(o.ContactPhone), o.OrderedAt.UTC())
	if err != nil {
		slog.Error("PostgresStore SaveOrder failed", "error", err, "orderID", o.OrderID)
		return fmt.Errorf("failed to save order %s: %w", o.OrderID, err)
	}
	slog.Debug("PostgresStore SaveOrder succeeded", "orderID", o.OrderID, "userID", o.UserID)
	return nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, orderID string) (models.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, orderID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, models.ErrNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetOrder failed", "error", err, "orderID", orderID)
		return models.Order{}, fmt.Errorf("failed to get order %s: %w", orderID, err)
	}
	return o, nil
}

func (s *PostgresStore) GetRecentOrders(ctx context.Context, userID string, limit int) ([]models.Order, error) {
	var limitArg interface{} // NULL means no limit in Postgres
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY ordered_at DESC, order_id DESC LIMIT $2`,
		userID, limitArg)
	if err != nil {
		slog.Error("PostgresStore GetRecentOrders query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	return collectOrders(rows)
}

// SaveSummary upserts a summary without ever replacing a recorded shipment id.
func (s *PostgresStore) SaveSummary(ctx context.Context, sum models.ConversationSummary) error {
	query := `
		INSERT INTO chat_summaries (` + summaryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			order_id = EXCLUDED.order_id,
			issue_type = EXCLUDED.issue_type,
			summary = EXCLUDED.summary,
			proposed_solution = EXCLUDED.proposed_solution,
			customer_sentiment = EXCLUDED.customer_sentiment,
			resolution_status = EXCLUDED.resolution_status,
			shipment_id = COALESCE(chat_summaries.shipment_id, EXCLUDED.shipment_id),
			shipment_type = COALESCE(chat_summaries.shipment_type, EXCLUDED.shipment_type)`
	if _, err := s.db.ExecContext(ctx, query, summaryArgs(sum)...); err != nil {
		slog.Error("PostgresStore SaveSummary failed", "error", err, "sessionID", sum.SessionID)
		return fmt.Errorf("failed to save summary %s: %w", sum.SessionID, err)
	}
	slog.Debug("PostgresStore SaveSummary succeeded", "sessionID", sum.SessionID, "shipmentID", sum.ShipmentID)
	return nil
}

func (s *PostgresStore) GetSummary(ctx context.Context, sessionID string) (models.ConversationSummary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+summaryColumns+` FROM chat_summaries WHERE session_id = $1`, sessionID)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ConversationSummary{}, models.ErrNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetSummary failed", "error", err, "sessionID", sessionID)
		return models.ConversationSummary{}, fmt.Errorf("failed to get summary %s: %w", sessionID, err)
	}
	return sum, nil
}

func (s *PostgresStore) ListSummaries(ctx context.Context) ([]models.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+summaryColumns+` FROM chat_summaries ORDER BY created_at DESC, session_id`)
	if err != nil {
		slog.Error("PostgresStore ListSummaries query failed", "error", err)
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	return collectSummaries(rows)
}

func (s *PostgresStore) ListSummariesByUser(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+summaryColumns+` FROM chat_summaries WHERE user_id = $1 ORDER BY created_at DESC, session_id`, userID)
	if err != nil {
		slog.Error("PostgresStore ListSummariesByUser query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	return collectSummaries(rows)
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	} else {
		slog.Debug("Postgres database connection closed successfully")
	}
	return err
}
