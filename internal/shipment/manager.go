package shipment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/util"
)

const (
	// DefaultMaxIDAttempts bounds tracking id redraws on collision.
	DefaultMaxIDAttempts = 5
	// TrackingCodeLength is the length of the random part of a tracking id.
	TrackingCodeLength = 10

	PickupPrefix   = "PCK-"
	DeliveryPrefix = "DLV-"

	// EventShipmentCreated is the event type published after a shipment is stored.
	EventShipmentCreated = "shipment.created"
)

// Store is the persistence the manager needs. InsertShipment must fail with
// models.ErrDuplicateTrackingID instead of overwriting an existing id.
type Store interface {
	InsertShipment(ctx context.Context, s models.Shipment) error
	GetShipment(ctx context.Context, id string) (models.Shipment, error)
}

// Publisher receives shipment lifecycle events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, key string, value interface{}) error
}

// CreatedEvent is the payload published after a shipment is committed.
type CreatedEvent struct {
	Type     string          `json:"type"`
	Shipment models.Shipment `json:"shipment"`
	ETA      time.Time       `json:"eta"`
}

// CreateRequest holds the identifiers for a new shipment.
type CreateRequest struct {
	UserID    string
	OrderID   string
	ProductID string
	Address   string
}

// Validate rejects requests with missing identifiers.
func (r CreateRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.UserID) == "":
		return &models.ValidationError{Field: "user_id", Err: models.ErrEmptyUserID}
	case strings.TrimSpace(r.OrderID) == "":
		return &models.ValidationError{Field: "order_id", Err: models.ErrEmptyOrderID}
	case strings.TrimSpace(r.ProductID) == "":
		return &models.ValidationError{Field: "product_id", Err: models.ErrEmptyProductID}
	case len(r.Address) > models.MaxAddressLength:
		return &models.ValidationError{Field: "address", Err: models.ErrAddressTooLong}
	}
	return nil
}

// Opts holds configuration options for the Manager.
type Opts struct {
	Stages        *StageTable
	Now           func() time.Time
	NewTrackingID func(kind models.ShipmentKind) string
	MaxIDAttempts int
	Publisher     Publisher
}

// Option defines a configuration option for the Manager.
type Option func(*Opts)

// WithStageTable overrides the default stage table.
func WithStageTable(t StageTable) Option {
	return func(o *Opts) { o.Stages = &t }
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// WithTrackingIDGenerator overrides the tracking id source.
func WithTrackingIDGenerator(gen func(kind models.ShipmentKind) string) Option {
	return func(o *Opts) { o.NewTrackingID = gen }
}

// WithMaxIDAttempts sets how many ids are drawn before giving up.
func WithMaxIDAttempts(n int) Option {
	return func(o *Opts) { o.MaxIDAttempts = n }
}

// WithPublisher publishes a CreatedEvent for every new shipment.
func WithPublisher(p Publisher) Option {
	return func(o *Opts) { o.Publisher = p }
}

// Manager issues shipments and answers status queries.
type Manager struct {
	store       Store
	stages      StageTable
	now         func() time.Time
	newID       func(kind models.ShipmentKind) string
	maxAttempts int
	publisher   Publisher
}

// NewManager creates a Manager backed by st.
func NewManager(st Store, opts ...Option) *Manager {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &Manager{
		store:       st,
		stages:      DefaultStageTable(),
		now:         time.Now,
		newID:       NewTrackingID,
		maxAttempts: DefaultMaxIDAttempts,
		publisher:   cfg.Publisher,
	}
	if cfg.Stages != nil {
		m.stages = *cfg.Stages
	}
	if cfg.Now != nil {
		m.now = cfg.Now
	}
	if cfg.NewTrackingID != nil {
		m.newID = cfg.NewTrackingID
	}
	if cfg.MaxIDAttempts > 0 {
		m.maxAttempts = cfg.MaxIDAttempts
	}
	slog.Debug("Manager created", "stages", m.stages.Len(), "total", m.stages.TotalDuration(), "maxIDAttempts", m.maxAttempts, "publisher", m.publisher != nil)
	return m
}

// NewTrackingID draws a kind-prefixed tracking id such as "PCK-7KQ2M9XWAB".
func NewTrackingID(kind models.ShipmentKind) string {
	prefix := DeliveryPrefix
	if kind == models.ShipmentKindPickup {
		prefix = PickupPrefix
	}
	return prefix + util.GenerateTrackingCode(TrackingCodeLength)
}

// Stages returns the stage table used for status queries.
func (m *Manager) Stages() StageTable {
	return m.stages
}

// CreatePickup issues a return pickup.
func (m *Manager) CreatePickup(ctx context.Context, req CreateRequest) (models.Shipment, error) {
	return m.create(ctx, models.ShipmentKindPickup, req)
}

// CreateDelivery issues a replacement delivery.
func (m *Manager) CreateDelivery(ctx context.Context, req CreateRequest) (models.Shipment, error) {
	return m.create(ctx, models.ShipmentKindDelivery, req)
}

// Create issues a shipment of the given kind.
func (m *Manager) Create(ctx context.Context, kind models.ShipmentKind, req CreateRequest) (models.Shipment, error) {
	if !kind.IsValid() {
		return models.Shipment{}, &models.ValidationError{Field: "shipment_type", Err: fmt.Errorf("unknown kind %q", kind)}
	}
	return m.create(ctx, kind, req)
}

func (m *Manager) create(ctx context.Context, kind models.ShipmentKind, req CreateRequest) (models.Shipment, error) {
	if err := req.Validate(); err != nil {
		slog.Warn("Manager.create: validation failed", "kind", kind, "error", err)
		return models.Shipment{}, err
	}

	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		id := m.newID(kind)

		_, err := m.store.GetShipment(ctx, id)
		switch {
		case err == nil:
			slog.Warn("Manager.create: tracking id already in use, redrawing", "id", id, "attempt", attempt)
			continue
		case !errors.Is(err, models.ErrNotFound):
			return models.Shipment{}, fmt.Errorf("failed to check tracking id %s: %w", id, err)
		}

		s := models.Shipment{
			ID:        id,
			Kind:      kind,
			UserID:    strings.TrimSpace(req.UserID),
			OrderID:   strings.TrimSpace(req.OrderID),
			ProductID: strings.TrimSpace(req.ProductID),
			Address:   strings.TrimSpace(req.Address),
			CreatedAt: m.now().UTC(),
		}
		err = m.store.InsertShipment(ctx, s)
		if errors.Is(err, models.ErrDuplicateTrackingID) {
			slog.Warn("Manager.create: tracking id collided on insert, redrawing", "id", id, "attempt", attempt)
			continue
		}
		if err != nil {
			slog.Error("Manager.create: insert failed", "id", id, "error", err)
			return models.Shipment{}, fmt.Errorf("failed to store shipment %s: %w", id, err)
		}

		slog.Info("Manager.create: shipment created", "id", id, "kind", kind, "userID", s.UserID, "orderID", s.OrderID)
		m.publishCreated(ctx, s)
		return s, nil
	}

	slog.Error("Manager.create: no unique tracking id", "kind", kind, "attempts", m.maxAttempts)
	return models.Shipment{}, fmt.Errorf("after %d attempts: %w", m.maxAttempts, models.ErrCollisionRetryExhausted)
}

func (m *Manager) publishCreated(ctx context.Context, s models.Shipment) {
	if m.publisher == nil {
		return
	}
	ev := CreatedEvent{
		Type:     EventShipmentCreated,
		Shipment: s,
		ETA:      s.CreatedAt.Add(m.stages.TotalDuration()),
	}
	if err := m.publisher.Publish(ctx, s.ID, ev); err != nil {
		slog.Warn("Manager.publishCreated: event publish failed", "id", s.ID, "error", err)
	}
}

// Status returns the current status of a shipment, or models.ErrNotFound.
func (m *Manager) Status(ctx context.Context, id string) (models.ShipmentStatus, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return models.ShipmentStatus{}, fmt.Errorf("empty tracking id: %w", models.ErrNotFound)
	}
	s, err := m.store.GetShipment(ctx, id)
	if err != nil {
		return models.ShipmentStatus{}, err
	}
	return m.StatusOf(s), nil
}

// StatusOf derives the status of an already loaded shipment.
func (m *Manager) StatusOf(s models.Shipment) models.ShipmentStatus {
	return BuildStatus(m.stages, s, m.now())
}
