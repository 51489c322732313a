// Package api provides HTTP handlers for SupportPipe endpoints.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/report"
	"github.com/BTreeMap/SupportPipe/internal/shipment"
	"github.com/google/uuid"
)

const (
	// ChatFallbackReply is returned when the agent cannot produce a reply.
	ChatFallbackReply = "I apologize for the inconvenience. How can I help you?"

	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

func newSessionID() string {
	return uuid.NewString()
}

// LoginResult is returned by the login endpoint.
type LoginResult struct {
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	Orders    []models.Order `json:"orders"`
}

// ChatResult is returned by the chat endpoint.
type ChatResult struct {
	SessionID string `json:"session_id"`
	Response  string `json:"response"`
}

// UserData is returned by the user data endpoint.
type UserData struct {
	UserID    string                       `json:"user_id"`
	Orders    []models.Order               `json:"orders"`
	Shipments []models.ShipmentView        `json:"shipments"`
	Summaries []models.ConversationSummary `json:"summaries"`
}

// HealthResult is returned by the health endpoint.
type HealthResult struct {
	Status      string            `json:"status"`
	AIAgent     string            `json:"ai_agent"`
	ExportsPath string            `json:"exports_path"`
	StageTotal  string            `json:"stage_total"`
	Components  map[string]string `json:"components,omitempty"`
	Time        time.Time         `json:"time"`
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.loginHandler: processing login request")
	var req models.LoginRequest
	if !decodeJSON(w, r, "loginHandler", &req) {
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrEmptyUserID.Error()))
		return
	}

	orders, err := s.st.GetRecentOrders(r.Context(), userID, 0)
	if err != nil {
		slog.Error("Server.loginHandler: failed to load orders", "error", err, "user_id", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load orders"))
		return
	}
	if len(orders) == 0 {
		slog.Info("Server.loginHandler: no orders for user", "user_id", userID)
		writeJSONResponse(w, http.StatusNotFound, models.Error("User not found or has no orders"))
		return
	}

	result := LoginResult{SessionID: s.newSessionID(), UserID: userID, Orders: orders}
	slog.Info("Server.loginHandler: session started", "user_id", userID, "session_id", result.SessionID, "orders", len(orders))
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Login successful", result))
}

func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	var req models.EndChatRequest
	if !decodeJSON(w, r, "logoutHandler", &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	s.agent.ClearSession(req.SessionID)
	slog.Info("Server.logoutHandler: session cleared", "session_id", req.SessionID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Logged out", nil))
}

func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if !decodeJSON(w, r, "chatHandler", &req) {
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.chatHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrEmptySessionID.Error()))
		return
	}

	reply, err := s.agent.Chat(r.Context(), req)
	if err != nil {
		slog.Error("Server.chatHandler: agent failed, using fallback reply", "error", err, "session_id", req.SessionID)
		reply = ChatFallbackReply
	}
	writeJSONResponse(w, http.StatusOK, models.Success(ChatResult{SessionID: req.SessionID, Response: reply}))
}

func (s *Server) endChatHandler(w http.ResponseWriter, r *http.Request) {
	var req models.EndChatRequest
	if !decodeJSON(w, r, "endChatHandler", &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("No active session"))
		return
	}

	result := s.orchestrator.Finalize(r.Context(), req)
	s.exportReports(context.WithoutCancel(r.Context()))
	s.agent.ClearSession(req.SessionID)

	slog.Info("Server.endChatHandler: session finalized", "session_id", req.SessionID, "state", result.State, "tracking_id", result.TrackingID)
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// exportReports refreshes both workbooks. Failures are logged only.
func (s *Server) exportReports(ctx context.Context) {
	if path, err := s.reporter.ExportChatSummaries(ctx); err != nil {
		slog.Warn("Server.exportReports: chat summary export failed", "error", err)
	} else {
		slog.Debug("Server.exportReports: chat summaries exported", "path", path)
	}
	if path, err := s.reporter.ExportShipments(ctx); err != nil {
		slog.Warn("Server.exportReports: shipment export failed", "error", err)
	} else {
		slog.Debug("Server.exportReports: shipments exported", "path", path)
	}
}

func (s *Server) listShipmentsHandler(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	var (
		list []models.Shipment
		err  error
	)
	if userID != "" {
		list, err = s.st.ListShipmentsByUser(r.Context(), userID)
	} else {
		list, err = s.st.ListShipments(r.Context())
	}
	if err != nil {
		slog.Error("Server.listShipmentsHandler: failed to list shipments", "error", err, "user_id", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list shipments"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.views(list)))
}

func (s *Server) views(list []models.Shipment) []models.ShipmentView {
	out := make([]models.ShipmentView, 0, len(list))
	for _, sh := range list {
		out = append(out, models.ShipmentView{Shipment: sh, Status: s.shipments.StatusOf(sh)})
	}
	return out
}

func (s *Server) shipmentStatusHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := s.shipments.Status(r.Context(), id)
	if errors.Is(err, models.ErrNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Shipment not found"))
		return
	}
	if err != nil {
		slog.Error("Server.shipmentStatusHandler: failed to load shipment", "error", err, "id", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load shipment"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(status))
}

func (s *Server) createPickupHandler(w http.ResponseWriter, r *http.Request) {
	s.createShipment(w, r, models.ShipmentKindPickup)
}

func (s *Server) createDeliveryHandler(w http.ResponseWriter, r *http.Request) {
	s.createShipment(w, r, models.ShipmentKindDelivery)
}

func (s *Server) createShipment(w http.ResponseWriter, r *http.Request, kind models.ShipmentKind) {
	var req models.CreateShipmentRequest
	if !decodeJSON(w, r, "createShipment", &req) {
		return
	}
	created, err := s.shipments.Create(r.Context(), kind, shipment.CreateRequest{
		UserID:    req.UserID,
		OrderID:   req.OrderID,
		ProductID: req.ProductID,
		Address:   req.Address,
	})
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSONResponse(w, http.StatusBadRequest, models.Error(verr.Error()))
		return
	case errors.Is(err, models.ErrCollisionRetryExhausted):
		slog.Error("Server.createShipment: tracking id space exhausted", "error", err, "kind", kind)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Could not allocate a tracking id"))
		return
	case err != nil:
		slog.Error("Server.createShipment: failed to create shipment", "error", err, "kind", kind)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create shipment"))
		return
	}

	view := models.ShipmentView{Shipment: created, Status: s.shipments.StatusOf(created)}
	msg := fmt.Sprintf("%s scheduled", kind.Label())
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage(msg, view))
}

func (s *Server) exportChatSummariesHandler(w http.ResponseWriter, r *http.Request) {
	s.writeWorkbook(w, r, report.ChatSummaryFile, s.reporter.WriteChatSummaries)
}

func (s *Server) exportShipmentsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeWorkbook(w, r, report.ShipmentFile, s.reporter.WriteShipments)
}

// writeWorkbook renders into memory first so a failure still yields a JSON error.
func (s *Server) writeWorkbook(w http.ResponseWriter, r *http.Request, name string, render func(context.Context, io.Writer) error) {
	var buf bytes.Buffer
	if err := render(r.Context(), &buf); err != nil {
		slog.Error("Server.writeWorkbook: failed to render workbook", "error", err, "file", name)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to export report"))
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Error("Server.writeWorkbook: failed to write workbook", "error", err, "file", name)
	}
}

func (s *Server) userDataHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	ctx := r.Context()

	orders, err := s.st.GetRecentOrders(ctx, userID, 0)
	if err != nil {
		slog.Error("Server.userDataHandler: failed to load orders", "error", err, "user_id", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load user data"))
		return
	}
	shipments, err := s.st.ListShipmentsByUser(ctx, userID)
	if err != nil {
		slog.Error("Server.userDataHandler: failed to load shipments", "error", err, "user_id", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load user data"))
		return
	}
	summaries, err := s.st.ListSummariesByUser(ctx, userID)
	if err != nil {
		slog.Error("Server.userDataHandler: failed to load summaries", "error", err, "user_id", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load user data"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(UserData{
		UserID:    userID,
		Orders:    orders,
		Shipments: s.views(shipments),
		Summaries: summaries,
	}))
}

func (s *Server) createOrderHandler(w http.ResponseWriter, r *http.Request) {
	var o models.Order
	if !decodeJSON(w, r, "createOrderHandler", &o) {
		return
	}
	if o.OrderedAt.IsZero() {
		o.OrderedAt = time.Now().UTC()
	}
	if err := o.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.st.SaveOrder(r.Context(), o); err != nil {
		slog.Error("Server.createOrderHandler: failed to save order", "error", err, "order_id", o.OrderID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save order"))
		return
	}
	slog.Info("Server.createOrderHandler: order saved", "order_id", o.OrderID, "user_id", o.UserID)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Order saved", o))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	aiStatus := "fallback_mode"
	if s.agent.Available() {
		aiStatus = "ready"
	}
	writeJSONResponse(w, http.StatusOK, models.Success(HealthResult{
		Status:      "healthy",
		AIAgent:     aiStatus,
		ExportsPath: s.reporter.Dir(),
		StageTotal:  s.shipments.Stages().TotalDuration().String(),
		Components:  s.components,
		Time:        time.Now().UTC(),
	}))
}
