package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/shipment"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultMessage acknowledges the end of a conversation without a shipment.
	DefaultMessage = "Thank you for contacting us! Your request has been processed."

	shipmentMessageFormat = "Thank you for contacting us! Your %s has been scheduled.\n\nTracking ID: %s\n\nYou can track your shipment on the Shipments page."
	notificationFormat    = "Your %s has been scheduled. Tracking ID: %s"
)

// SummarySource produces the summary of a finished conversation.
type SummarySource interface {
	Summary(ctx context.Context, sessionID string) (models.ConversationSummary, error)
}

// SummaryStore persists conversation summaries.
type SummaryStore interface {
	GetSummary(ctx context.Context, sessionID string) (models.ConversationSummary, error)
	SaveSummary(ctx context.Context, s models.ConversationSummary) error
}

// OrderRepository looks up the orders a conversation can refer to.
type OrderRepository interface {
	GetOrder(ctx context.Context, orderID string) (models.Order, error)
	GetRecentOrders(ctx context.Context, userID string, limit int) ([]models.Order, error)
}

// ShipmentIssuer creates shipments. *shipment.Manager implements it.
type ShipmentIssuer interface {
	CreatePickup(ctx context.Context, req shipment.CreateRequest) (models.Shipment, error)
	CreateDelivery(ctx context.Context, req shipment.CreateRequest) (models.Shipment, error)
}

// Notifier sends the tracking id to the customer.
type Notifier interface {
	SendMessage(ctx context.Context, to, body string) error
}

// Opts holds configuration options for the Orchestrator.
type Opts struct {
	Source   SummarySource
	Notifier Notifier
	Now      func() time.Time
}

// Option defines a configuration option for the Orchestrator.
type Option func(*Opts)

// WithSummarySource sets the collaborator that summarizes conversations. Without
// one, the stored summary for the session is used.
func WithSummarySource(src SummarySource) Option {
	return func(o *Opts) { o.Source = src }
}

// WithNotifier sends tracking ids to the order's contact phone.
func WithNotifier(n Notifier) Option {
	return func(o *Opts) { o.Notifier = n }
}

// WithClock overrides time.Now for summary timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Orchestrator runs the end-of-conversation flow for each session at most once.
type Orchestrator struct {
	orders    OrderRepository
	summaries SummaryStore
	issuer    ShipmentIssuer
	source    SummarySource
	notifier  Notifier
	now       func() time.Time

	// sf collapses concurrent Finalize calls for one session into one run.
	sf singleflight.Group

	mu        sync.RWMutex
	finalized map[string]models.FinalizeResult
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(orders OrderRepository, summaries SummaryStore, issuer ShipmentIssuer, opts ...Option) *Orchestrator {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	o := &Orchestrator{
		orders:    orders,
		summaries: summaries,
		issuer:    issuer,
		source:    cfg.Source,
		notifier:  cfg.Notifier,
		now:       time.Now,
		finalized: make(map[string]models.FinalizeResult),
	}
	if cfg.Now != nil {
		o.now = cfg.Now
	}
	return o
}

// Finalize classifies the session's resolution and issues at most one shipment for
// it. It never fails outright: problems downgrade to an acknowledgement without a
// tracking id. Repeat calls for a session return the first result.
func (o *Orchestrator) Finalize(ctx context.Context, req models.EndChatRequest) models.FinalizeResult {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		slog.Warn("Orchestrator.Finalize: empty session id")
		return models.FinalizeResult{Success: false, Message: models.ErrEmptySessionID.Error(), State: models.StateAwaitingEnd}
	}
	req.SessionID = sessionID

	if res, ok := o.Finalized(sessionID); ok {
		slog.Debug("Orchestrator.Finalize: session already finalized", "sessionID", sessionID, "state", res.State)
		return res
	}

	v, _, shared := o.sf.Do(sessionID, func() (interface{}, error) {
		// Re-check under the group: a call may have finished between the check above and Do.
		if res, ok := o.Finalized(sessionID); ok {
			return res, nil
		}
		// Shipment creation and the summary write must not be cut short by the caller going away.
		res := o.finalize(context.WithoutCancel(ctx), req)
		if res.State.IsTerminal() {
			o.mu.Lock()
			o.finalized[sessionID] = res
			o.mu.Unlock()
		}
		return res, nil
	})
	if shared {
		slog.Debug("Orchestrator.Finalize: joined in-flight finalize", "sessionID", sessionID)
	}
	return v.(models.FinalizeResult)
}

// Finalized returns the recorded result for a session, if any.
func (o *Orchestrator) Finalized(sessionID string) (models.FinalizeResult, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	res, ok := o.finalized[sessionID]
	return res, ok
}

func (o *Orchestrator) finalize(ctx context.Context, req models.EndChatRequest) models.FinalizeResult {
	sessionID := req.SessionID
	result := models.FinalizeResult{
		Success:   true,
		SessionID: sessionID,
		Message:   DefaultMessage,
		State:     models.StateAwaitingEnd,
	}

	// A shipment recorded before a restart still counts.
	if existing, err := o.summaries.GetSummary(ctx, sessionID); err == nil && existing.HasShipment() {
		slog.Info("Orchestrator.finalize: summary already carries a shipment", "sessionID", sessionID, "shipmentID", existing.ShipmentID)
		return issuedResult(result, existing.ShipmentID, existing.ShipmentType)
	}

	order, haveOrder := o.resolveOrder(ctx, req)
	if haveOrder {
		result.State = models.StateOrderResolved
	}

	summary := o.obtainSummary(ctx, sessionID)
	summary.SessionID = sessionID
	// The requesting user owns the outcome; the summary source only fills a gap.
	userID := strings.TrimSpace(req.UserID)
	if userID == "" && haveOrder {
		userID = order.UserID
	}
	if userID != "" {
		summary.UserID = userID
	}
	if haveOrder {
		summary.OrderID = order.OrderID
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = o.now().UTC()
	}

	if !haveOrder {
		slog.Info("Orchestrator.finalize: no order resolved, skipping fulfillment", "sessionID", sessionID, "userID", req.UserID)
		o.saveSummary(ctx, summary)
		result.State = models.StateNoAction
		return result
	}

	action := Classify(summary.ProposedSolution)
	result.State = models.StateActionClassified
	kind, ship := action.ShipmentKind()
	slog.Debug("Orchestrator.finalize: classified proposal", "sessionID", sessionID, "action", action)
	if !ship {
		o.saveSummary(ctx, summary)
		result.State = models.StateNoAction
		return result
	}

	createReq := shipment.CreateRequest{
		UserID:    summary.UserID,
		OrderID:   order.OrderID,
		ProductID: order.ProductID,
	}
	var (
		s   models.Shipment
		err error
	)
	if kind == models.ShipmentKindPickup {
		s, err = o.issuer.CreatePickup(ctx, createReq)
	} else {
		s, err = o.issuer.CreateDelivery(ctx, createReq)
	}
	if err != nil {
		slog.Error("Orchestrator.finalize: shipment creation failed", "sessionID", sessionID, "orderID", order.OrderID, "kind", kind, "error", err)
		o.saveSummary(ctx, summary)
		result.State = models.StateNoAction
		return result
	}

	summary.ShipmentID = s.ID
	summary.ShipmentType = s.Kind
	o.saveSummary(ctx, summary)
	o.notify(ctx, order, s)

	slog.Info("Orchestrator.finalize: shipment issued", "sessionID", sessionID, "shipmentID", s.ID, "kind", s.Kind)
	return issuedResult(result, s.ID, s.Kind)
}

func issuedResult(result models.FinalizeResult, id string, kind models.ShipmentKind) models.FinalizeResult {
	result.TrackingID = id
	result.ShipmentType = kind
	result.Message = fmt.Sprintf(shipmentMessageFormat, kind.Label(), id)
	result.State = models.StateShipmentIssued
	return result
}

// resolveOrder prefers the selected order, then the user's most recent one. A
// selected order owned by another user is ignored.
func (o *Orchestrator) resolveOrder(ctx context.Context, req models.EndChatRequest) (models.Order, bool) {
	userID := strings.TrimSpace(req.UserID)
	if selected := strings.TrimSpace(req.SelectedOrderID); selected != "" {
		order, err := o.orders.GetOrder(ctx, selected)
		switch {
		case err == nil && (userID == "" || order.UserID == userID):
			return order, true
		case err == nil:
			slog.Warn("Orchestrator.resolveOrder: selected order belongs to another user", "orderID", selected, "userID", userID)
		case errors.Is(err, models.ErrNotFound):
			slog.Debug("Orchestrator.resolveOrder: selected order not found", "orderID", selected)
		default:
			slog.Warn("Orchestrator.resolveOrder: order lookup failed", "orderID", selected, "error", err)
		}
	}
	if userID == "" {
		return models.Order{}, false
	}
	recent, err := o.orders.GetRecentOrders(ctx, userID, 1)
	if err != nil {
		slog.Warn("Orchestrator.resolveOrder: recent orders lookup failed", "userID", userID, "error", err)
		return models.Order{}, false
	}
	if len(recent) == 0 {
		return models.Order{}, false
	}
	return recent[0], true
}

// obtainSummary asks the summary source, then falls back to the stored summary.
func (o *Orchestrator) obtainSummary(ctx context.Context, sessionID string) models.ConversationSummary {
	if o.source != nil {
		sum, err := o.source.Summary(ctx, sessionID)
		if err == nil {
			return sum
		}
		slog.Warn("Orchestrator.obtainSummary: summary generation failed", "sessionID", sessionID, "error", err)
	}
	sum, err := o.summaries.GetSummary(ctx, sessionID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		slog.Warn("Orchestrator.obtainSummary: stored summary lookup failed", "sessionID", sessionID, "error", err)
	}
	return sum
}

func (o *Orchestrator) saveSummary(ctx context.Context, sum models.ConversationSummary) {
	if err := o.summaries.SaveSummary(ctx, sum); err != nil {
		slog.Error("Orchestrator.saveSummary: failed to persist summary", "sessionID", sum.SessionID, "error", err)
	}
}

func (o *Orchestrator) notify(ctx context.Context, order models.Order, s models.Shipment) {
	if o.notifier == nil || order.ContactPhone == "" {
		return
	}
	body := fmt.Sprintf(notificationFormat, s.Kind.Label(), s.ID)
	if err := o.notifier.SendMessage(ctx, order.ContactPhone, body); err != nil {
		slog.Warn("Orchestrator.notify: notification failed", "shipmentID", s.ID, "error", err)
	}
}
