// Package store provides storage backends for SupportPipe.
//
// This file implements an SQLite-backed store for shipments, orders and summaries.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// isSQLiteDuplicate reports whether err is a primary key or unique violation.
func isSQLiteDuplicate(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// InsertShipment stores a new shipment. The PRIMARY KEY makes the uniqueness check
// and the insert a single atomic statement.
func (s *SQLiteStore) InsertShipment(ctx context.Context, sh models.Shipment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO shipments (`+shipmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sh.ID, string(sh.Kind), sh.UserID, sh.OrderID, sh.ProductID, nilIfEmpty(sh.Address), sh.CreatedAt.UTC())
	if isSQLiteDuplicate(err) {
		slog.Warn("SQLiteStore InsertShipment duplicate id", "id", sh.ID)
		return models.ErrDuplicateTrackingID
	}
	if err != nil {
		slog.Error("SQLiteStore InsertShipment failed", "error", err, "id", sh.ID)
		return fmt.Errorf("failed to insert shipment %s: %w", sh.ID, err)
	}
	slog.Debug("SQLiteStore InsertShipment succeeded", "id", sh.ID, "kind", sh.Kind)
	return nil
}

func (s *SQLiteStore) GetShipment(ctx context.Context, id string) (models.Shipment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id = ?`, id)
	sh, err := scanShipment(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("SQLiteStore GetShipment not found", "id", id)
		return models.Shipment{}, models.ErrNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetShipment failed", "error", err, "id", id)
		return models.Shipment{}, fmt.Errorf("failed to get shipment %s: %w", id, err)
	}
	return sh, nil
}

func (s *SQLiteStore) ListShipmentsByUser(ctx context.Context, userID string) ([]models.Shipment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+shipmentColumns+` FROM shipments WHERE user_id = ? ORDER BY created_at DESC, id`, userID)
	if err != nil {
		slog.Error("SQLiteStore ListShipmentsByUser query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query shipments: %w", err)
	}
	return collectShipments(rows)
}

func (s *SQLiteStore) ListShipments(ctx context.Context) ([]models.Shipment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+shipmentColumns+` FROM shipments ORDER BY created_at DESC, id`)
	if err != nil {
		slog.Error("SQLiteStore ListShipments query failed", "error", err)
		return nil, fmt.Errorf("failed to query shipments: %w", err)
	}
	return collectShipments(rows)
}

func (s *SQLiteStore) SaveOrder(ctx context.Context, o models.Order) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO orders (`+orderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.OrderID, o.UserID, o.ProductID, nilIfEmpty(o.ProductName), nilIfEmpty(o.Status),
		nilIfEmpty(o.Price), nilIfEmpty(o.ContactPhone), o.OrderedAt.UTC())
	if err != nil {
		slog.Error("SQLiteStore SaveOrder failed", "error", err, "orderID", o.OrderID)
		return fmt.Errorf("failed to save order %s: %w", o.OrderID, err)
	}
	slog.Debug("SQLiteStore SaveOrder succeeded", "orderID", o.OrderID, "userID", o.UserID)
	return nil
}

func (s *SQLiteStore) GetOrder(ctx context.Context, orderID string) (models.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, orderID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, models.ErrNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetOrder failed", "error", err, "orderID", orderID)
		return models.Order{}, fmt.Errorf("failed to get order %s: %w", orderID, err)
	}
	return o, nil
}

func (s *SQLiteStore) GetRecentOrders(ctx context.Context, userID string, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = -1 // SQLite treats a negative LIMIT as unbounded
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = ? ORDER BY ordered_at DESC, order_id DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		slog.Error("SQLiteStore GetRecentOrders query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	return collectOrders(rows)
}

// SaveSummary upserts a summary without ever replacing a recorded shipment id.
func (s *SQLiteStore) SaveSummary(ctx context.Context, sum models.ConversationSummary) error {
	query := `
		INSERT INTO chat_summaries (` + summaryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			user_id = excluded.user_id,
			order_id = excluded.order_id,
			issue_type = excluded.issue_type,
			summary = excluded.summary,
			proposed_solution = excluded.proposed_solution,
			customer_sentiment = excluded.customer_sentiment,
			resolution_status = excluded.resolution_status,
			shipment_id = COALESCE(chat_summaries.shipment_id, excluded.shipment_id),
			shipment_type = COALESCE(chat_summaries.shipment_type, excluded.shipment_type)`
	if _, err := s.db.ExecContext(ctx, query, summaryArgs(sum)...); err != nil {
		slog.Error("SQLiteStore SaveSummary failed", "error", err, "sessionID", sum.SessionID)
		return fmt.Errorf("failed to save summary %s: %w", sum.SessionID, err)
	}
	slog.Debug("SQLiteStore SaveSummary succeeded", "sessionID", sum.SessionID, "shipmentID", sum.ShipmentID)
	return nil
}

func (s *SQLiteStore) GetSummary(ctx context.Context, sessionID string) (models.ConversationSummary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+summaryColumns+` FROM chat_summaries WHERE session_id = ?`, sessionID)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ConversationSummary{}, models.ErrNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetSummary failed", "error", err, "sessionID", sessionID)
		return models.ConversationSummary{}, fmt.Errorf("failed to get summary %s: %w", sessionID, err)
	}
	return sum, nil
}

func (s *SQLiteStore) ListSummaries(ctx context.Context) ([]models.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+summaryColumns+` FROM chat_summaries ORDER BY created_at DESC, session_id`)
	if err != nil {
		slog.Error("SQLiteStore ListSummaries query failed", "error", err)
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	return collectSummaries(rows)
}

func (s *SQLiteStore) ListSummariesByUser(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+summaryColumns+` FROM chat_summaries WHERE user_id = ? ORDER BY created_at DESC, session_id`, userID)
	if err != nil {
		slog.Error("SQLiteStore ListSummariesByUser query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	return collectSummaries(rows)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}
