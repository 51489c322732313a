// Package store provides storage backends for SupportPipe.
//
// It includes an in-memory store and persistent SQLite and PostgreSQL stores for
// shipments, orders and conversation summaries.
package store

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/BTreeMap/SupportPipe/internal/models"
)

// ShipmentStore persists shipment records. InsertShipment never overwrites: an
// existing id yields models.ErrDuplicateTrackingID.
type ShipmentStore interface {
	InsertShipment(ctx context.Context, s models.Shipment) error
	GetShipment(ctx context.Context, id string) (models.Shipment, error)
	ListShipmentsByUser(ctx context.Context, userID string) ([]models.Shipment, error)
	ListShipments(ctx context.Context) ([]models.Shipment, error)
}

// OrderStore persists the orders customers can raise issues about.
type OrderStore interface {
	SaveOrder(ctx context.Context, o models.Order) error
	GetOrder(ctx context.Context, orderID string) (models.Order, error)
	GetRecentOrders(ctx context.Context, userID string, limit int) ([]models.Order, error)
}

// SummaryStore persists one conversation summary per session.
type SummaryStore interface {
	SaveSummary(ctx context.Context, s models.ConversationSummary) error
	GetSummary(ctx context.Context, sessionID string) (models.ConversationSummary, error)
	ListSummaries(ctx context.Context) ([]models.ConversationSummary, error)
	ListSummariesByUser(ctx context.Context, userID string) ([]models.ConversationSummary, error)
}

// Store is the full storage interface implemented by every backend.
type Store interface {
	ShipmentStore
	OrderStore
	SummaryStore
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite3"
// for anything else, which is treated as a file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// New opens the backend selected by the DSN, or an in-memory store when it is empty.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		slog.Debug("store.New: no DSN, using in-memory store")
		return NewInMemoryStore(), nil
	case DetectDSNType(cfg.DSN) == "postgres":
		return NewPostgresStore(opts...)
	default:
		return NewSQLiteStore(opts...)
	}
}

// InMemoryStore is a mutex-guarded store for tests and single-run deployments.
type InMemoryStore struct {
	mu        sync.RWMutex
	shipments map[string]models.Shipment
	orders    map[string]models.Order
	summaries map[string]models.ConversationSummary
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		shipments: make(map[string]models.Shipment),
		orders:    make(map[string]models.Order),
		summaries: make(map[string]models.ConversationSummary),
	}
}

// InsertShipment stores s unless its id is already taken. The check and insert
// happen under one lock.
func (s *InMemoryStore) InsertShipment(ctx context.Context, sh models.Shipment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.shipments[sh.ID]; exists {
		return models.ErrDuplicateTrackingID
	}
	s.shipments[sh.ID] = sh
	return nil
}

func (s *InMemoryStore) GetShipment(ctx context.Context, id string) (models.Shipment, error) {
	if err := ctx.Err(); err != nil {
		return models.Shipment{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.shipments[id]
	if !ok {
		return models.Shipment{}, models.ErrNotFound
	}
	return sh, nil
}

func (s *InMemoryStore) ListShipmentsByUser(ctx context.Context, userID string) ([]models.Shipment, error) {
	return s.listShipments(ctx, func(sh models.Shipment) bool { return sh.UserID == userID })
}

func (s *InMemoryStore) ListShipments(ctx context.Context) ([]models.Shipment, error) {
	return s.listShipments(ctx, func(models.Shipment) bool { return true })
}

// listShipments returns matches newest first, like the SQL stores.
func (s *InMemoryStore) listShipments(ctx context.Context, keep func(models.Shipment) bool) ([]models.Shipment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Shipment
	for _, sh := range s.shipments {
		if keep(sh) {
			out = append(out, sh)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) SaveOrder(ctx context.Context, o models.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.OrderID] = o
	return nil
}

func (s *InMemoryStore) GetOrder(ctx context.Context, orderID string) (models.Order, error) {
	if err := ctx.Err(); err != nil {
		return models.Order{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return models.Order{}, models.ErrNotFound
	}
	return o, nil
}

// GetRecentOrders returns the user's orders, most recent first. A limit <= 0
// returns all of them.
func (s *InMemoryStore) GetRecentOrders(ctx context.Context, userID string, limit int) ([]models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderedAt.Equal(out[j].OrderedAt) {
			return out[i].OrderID > out[j].OrderID
		}
		return out[i].OrderedAt.After(out[j].OrderedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveSummary upserts a summary. A shipment id already recorded for the session is
// kept, matching the SQL backends.
func (s *InMemoryStore) SaveSummary(ctx context.Context, sum models.ConversationSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.summaries[sum.SessionID]; ok && existing.HasShipment() {
		sum.ShipmentID = existing.ShipmentID
		sum.ShipmentType = existing.ShipmentType
	}
	s.summaries[sum.SessionID] = sum
	return nil
}

func (s *InMemoryStore) GetSummary(ctx context.Context, sessionID string) (models.ConversationSummary, error) {
	if err := ctx.Err(); err != nil {
		return models.ConversationSummary{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.summaries[sessionID]
	if !ok {
		return models.ConversationSummary{}, models.ErrNotFound
	}
	return sum, nil
}

func (s *InMemoryStore) ListSummaries(ctx context.Context) ([]models.ConversationSummary, error) {
	return s.listSummaries(ctx, func(models.ConversationSummary) bool { return true })
}

func (s *InMemoryStore) ListSummariesByUser(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	return s.listSummaries(ctx, func(sum models.ConversationSummary) bool { return sum.UserID == userID })
}

func (s *InMemoryStore) listSummaries(ctx context.Context, keep func(models.ConversationSummary) bool) ([]models.ConversationSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ConversationSummary
	for _, sum := range s.summaries {
		if keep(sum) {
			out = append(out, sum)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
