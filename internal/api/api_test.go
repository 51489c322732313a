package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/agent"
	"github.com/BTreeMap/SupportPipe/internal/fulfillment"
	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/report"
	"github.com/BTreeMap/SupportPipe/internal/shipment"
	"github.com/BTreeMap/SupportPipe/internal/store"
	"github.com/BTreeMap/SupportPipe/internal/testutil"
	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type failingGenerator struct{}

func (failingGenerator) GenerateWithMessages(context.Context, []openai.ChatCompletionMessageParamUnion) (string, error) {
	return "", errors.New("upstream unavailable")
}

type testEnv struct {
	server *Server
	store  *store.InMemoryStore
	clock  *testutil.FixedClock
	dir    string
}

type envConfig struct {
	agentOpts   []agent.Option
	managerOpts []shipment.Option
	apiOpts     []Option
}

func newTestEnv(t *testing.T, cfg envConfig) *testEnv {
	t.Helper()
	st := store.NewInMemoryStore()
	clock := testutil.NewFixedClock(time.Now().UTC().Truncate(time.Second))
	testutil.SeedOrders(t, st, testutil.SampleOrders(clock.Now())...)

	mgr := shipment.NewManager(st, append([]shipment.Option{shipment.WithClock(clock.Now)}, cfg.managerOpts...)...)
	ag := agent.New(st, append([]agent.Option{agent.WithClock(clock.Now)}, cfg.agentOpts...)...)
	orch := fulfillment.NewOrchestrator(st, st, mgr,
		fulfillment.WithSummarySource(ag),
		fulfillment.WithClock(clock.Now),
	)
	dir := filepath.Join(t.TempDir(), "exports")
	rep := report.NewReporter(st, mgr.StatusOf, dir)

	srv := NewServer(Deps{
		Store:        st,
		Shipments:    mgr,
		Agent:        ag,
		Orchestrator: orch,
		Reporter:     rep,
	}, cfg.apiOpts...)
	srv.newSessionID = func() string { return "session-1" }
	return &testEnv{server: srv, store: st, clock: clock, dir: dir}
}

func (e *testEnv) do(t *testing.T, method, url string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, testutil.CreateHTTPRequest(t, method, url, body))
	return rr
}

func TestLoginHandler(t *testing.T) {
	env := newTestEnv(t, envConfig{})

	rr := env.do(t, http.MethodPost, "/api/auth/login", models.LoginRequest{UserID: "U1"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "login")
	var res LoginResult
	testutil.DecodeResult(t, rr, &res)
	assert.Equal(t, "session-1", res.SessionID)
	require.Len(t, res.Orders, 2)
	assert.Equal(t, "O2", res.Orders[0].OrderID, "most recent order first")

	rr = env.do(t, http.MethodPost, "/api/auth/login", models.LoginRequest{UserID: "U3"})
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown user")
	testutil.AssertJSONResponse(t, rr, models.APIStatusError)

	rr = env.do(t, http.MethodPost, "/api/auth/login", models.LoginRequest{UserID: "  "})
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "empty user")

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader("{not json"))
	env.server.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "invalid JSON")
}

func TestLoginHandler_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	rr := env.do(t, http.MethodGet, "/api/auth/login", nil)
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "GET login")
}

func TestChatHandler_FallbackMode(t *testing.T) {
	env := newTestEnv(t, envConfig{})

	rr := env.do(t, http.MethodPost, "/api/chat", models.ChatRequest{SessionID: "s1", UserID: "U1", Message: "My lamp arrived broken, I want a refund"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "chat")
	var res ChatResult
	testutil.DecodeResult(t, rr, &res)
	assert.Equal(t, "s1", res.SessionID)
	assert.Contains(t, strings.ToLower(res.Response), "return")
	assert.Len(t, env.server.agent.History("s1"), 2)
}

func TestChatHandler_Validation(t *testing.T) {
	env := newTestEnv(t, envConfig{})

	rr := env.do(t, http.MethodPost, "/api/chat", models.ChatRequest{SessionID: "s1", UserID: "U1"})
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "empty message")

	rr = env.do(t, http.MethodPost, "/api/chat", models.ChatRequest{UserID: "U1", Message: "hello"})
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "missing session")
}

func TestChatHandler_GeneratorFailureUsesApology(t *testing.T) {
	env := newTestEnv(t, envConfig{agentOpts: []agent.Option{agent.WithGenerator(failingGenerator{})}})

	rr := env.do(t, http.MethodPost, "/api/chat", models.ChatRequest{SessionID: "s1", UserID: "U1", Message: "hello"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "chat with failing generator")
	var res ChatResult
	testutil.DecodeResult(t, rr, &res)
	assert.Equal(t, ChatFallbackReply, res.Response)
}

func TestEndChatHandler_IssuesPickup(t *testing.T) {
	env := newTestEnv(t, envConfig{})

	rr := env.do(t, http.MethodPost, "/api/chat", models.ChatRequest{SessionID: "s1", UserID: "U1", SelectedOrderID: "O1", Message: "Customer requests return and refund"})
	require.Equal(t, http.StatusOK, rr.Code)

	end := models.EndChatRequest{SessionID: "s1", UserID: "U1", SelectedOrderID: "O1"}
	rr = env.do(t, http.MethodPost, "/api/chat/end", end)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "end chat")
	var res models.FinalizeResult
	testutil.DecodeResult(t, rr, &res)
	require.True(t, res.Success)
	assert.Equal(t, models.StateShipmentIssued, res.State)
	assert.Equal(t, models.ShipmentKindPickup, res.ShipmentType)
	require.True(t, strings.HasPrefix(res.TrackingID, shipment.PickupPrefix), res.TrackingID)
	assert.Contains(t, res.Message, res.TrackingID)

	assert.Empty(t, env.server.agent.History("s1"), "session cleared after end")
	for _, name := range []string{report.ChatSummaryFile, report.ShipmentFile} {
		_, err := os.Stat(filepath.Join(env.dir, name))
		assert.NoError(t, err, "export %s", name)
	}

	sh, err := env.store.GetShipment(t.Context(), res.TrackingID)
	require.NoError(t, err)
	assert.Equal(t, "O1", sh.OrderID)
	assert.Equal(t, "P1", sh.ProductID)

	// Ending again returns the same tracking id without a second shipment.
	rr = env.do(t, http.MethodPost, "/api/chat/end", end)
	var again models.FinalizeResult
	testutil.DecodeResult(t, rr, &again)
	assert.Equal(t, res.TrackingID, again.TrackingID)
	all, err := env.store.ListShipments(t.Context())
	require.NoError(t, err)
	assert.Len(t, all, 1)

	rr = env.do(t, http.MethodGet, "/api/shipments/"+res.TrackingID, nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "status")
	var status models.ShipmentStatus
	testutil.DecodeResult(t, rr, &status)
	assert.Equal(t, "Order Confirmed", status.CurrentStageName)

	env.clock.Advance(49 * time.Hour)
	rr = env.do(t, http.MethodGet, "/api/shipments/"+res.TrackingID, nil)
	testutil.DecodeResult(t, rr, &status)
	assert.Equal(t, "Delivered", status.CurrentStageName)
	assert.True(t, status.Delivered)
}

func TestEndChatHandler_NoAction(t *testing.T) {
	env := newTestEnv(t, envConfig{})

	env.do(t, http.MethodPost, "/api/chat", models.ChatRequest{SessionID: "s2", UserID: "U1", Message: "Where is my order?"})
	rr := env.do(t, http.MethodPost, "/api/chat/end", models.EndChatRequest{SessionID: "s2", UserID: "U1"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "end chat")
	var res models.FinalizeResult
	testutil.DecodeResult(t, rr, &res)
	assert.Equal(t, models.StateNoAction, res.State)
	assert.Empty(t, res.TrackingID)

	sum, err := env.store.GetSummary(t.Context(), "s2")
	require.NoError(t, err)
	assert.Equal(t, "U1", sum.UserID)
}

func TestEndChatHandler_RequiresSession(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	rr := env.do(t, http.MethodPost, "/api/chat/end", models.EndChatRequest{UserID: "U1"})
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "no session")
	resp := testutil.AssertJSONResponse(t, rr, models.APIStatusError)
	assert.Equal(t, "No active session", resp["message"])
}

func TestLogoutHandler(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	env.do(t, http.MethodPost, "/api/chat", models.ChatRequest{SessionID: "s1", UserID: "U1", Message: "hello"})
	require.NotEmpty(t, env.server.agent.History("s1"))

	rr := env.do(t, http.MethodPost, "/api/auth/logout", models.EndChatRequest{SessionID: "s1"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "logout")
	assert.Empty(t, env.server.agent.History("s1"))

	rr = env.do(t, http.MethodPost, "/api/auth/logout", models.EndChatRequest{})
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "logout without session")
}

func TestCreateShipmentHandlers(t *testing.T) {
	env := newTestEnv(t, envConfig{})

	tests := []struct {
		name   string
		path   string
		body   models.CreateShipmentRequest
		status int
		prefix string
	}{
		{"pickup", "/api/shipments/create-pickup", models.CreateShipmentRequest{UserID: "U1", OrderID: "O1", ProductID: "P1"}, http.StatusCreated, shipment.PickupPrefix},
		{"delivery", "/api/shipments/create-delivery", models.CreateShipmentRequest{UserID: "U1", OrderID: "O2", ProductID: "P2", Address: "1 Main St"}, http.StatusCreated, shipment.DeliveryPrefix},
		{"missing order", "/api/shipments/create-pickup", models.CreateShipmentRequest{UserID: "U1", ProductID: "P1"}, http.StatusBadRequest, ""},
		{"missing user", "/api/shipments/create-delivery", models.CreateShipmentRequest{OrderID: "O1", ProductID: "P1"}, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, tt.path, tt.body)
			testutil.AssertHTTPStatus(t, tt.status, rr.Code, tt.name)
			if tt.prefix == "" {
				return
			}
			var view models.ShipmentView
			testutil.DecodeResult(t, rr, &view)
			assert.True(t, strings.HasPrefix(view.ID, tt.prefix), view.ID)
			assert.Equal(t, "Order Confirmed", view.Status.CurrentStageName)
		})
	}
}

func TestCreateShipmentHandler_CollisionExhausted(t *testing.T) {
	env := newTestEnv(t, envConfig{managerOpts: []shipment.Option{
		shipment.WithTrackingIDGenerator(func(models.ShipmentKind) string { return "PCK-TAKEN00000" }),
		shipment.WithMaxIDAttempts(2),
	}})
	require.NoError(t, env.store.InsertShipment(t.Context(), models.Shipment{ID: "PCK-TAKEN00000", Kind: models.ShipmentKindPickup}))

	rr := env.do(t, http.MethodPost, "/api/shipments/create-pickup", models.CreateShipmentRequest{UserID: "U1", OrderID: "O1", ProductID: "P1"})
	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "exhausted")
}

func TestShipmentStatusHandler_NotFound(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	rr := env.do(t, http.MethodGet, "/api/shipments/PCK-MISSING000", nil)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "missing shipment")
	testutil.AssertJSONResponse(t, rr, models.APIStatusError)
}

func TestListShipmentsHandler(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	env.do(t, http.MethodPost, "/api/shipments/create-pickup", models.CreateShipmentRequest{UserID: "U1", OrderID: "O1", ProductID: "P1"})
	env.clock.Advance(time.Minute)
	env.do(t, http.MethodPost, "/api/shipments/create-delivery", models.CreateShipmentRequest{UserID: "U2", OrderID: "O9", ProductID: "P9"})

	rr := env.do(t, http.MethodGet, "/api/shipments", nil)
	var all []models.ShipmentView
	testutil.DecodeResult(t, rr, &all)
	require.Len(t, all, 2)
	assert.Equal(t, "U2", all[0].UserID, "newest first")

	rr = env.do(t, http.MethodGet, "/api/shipments?user_id=U1", nil)
	var mine []models.ShipmentView
	testutil.DecodeResult(t, rr, &mine)
	require.Len(t, mine, 1)
	assert.Equal(t, models.ShipmentKindPickup, mine[0].Kind)
	assert.Equal(t, mine[0].ID, mine[0].Status.ShipmentID)
}

func TestExportHandlers(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	env.do(t, http.MethodPost, "/api/shipments/create-pickup", models.CreateShipmentRequest{UserID: "U1", OrderID: "O1", ProductID: "P1"})

	tests := []struct {
		path  string
		file  string
		sheet string
		rows  int
	}{
		{"/api/export/shipments", report.ShipmentFile, report.ShipmentSheet, 2},
		{"/api/export/chat-summaries", report.ChatSummaryFile, report.ChatSummarySheet, 1},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			rr := env.do(t, http.MethodGet, tt.path, nil)
			testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, tt.path)
			assert.Equal(t, xlsxContentType, rr.Header().Get("Content-Type"))
			assert.Contains(t, rr.Header().Get("Content-Disposition"), tt.file)

			f, err := excelize.OpenReader(bytes.NewReader(rr.Body.Bytes()))
			require.NoError(t, err)
			defer f.Close()
			rows, err := f.GetRows(tt.sheet)
			require.NoError(t, err)
			assert.Len(t, rows, tt.rows)
		})
	}
}

func TestUserDataHandler(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	env.do(t, http.MethodPost, "/api/chat", models.ChatRequest{SessionID: "s1", UserID: "U1", SelectedOrderID: "O2", Message: "Please send a replacement"})
	env.do(t, http.MethodPost, "/api/chat/end", models.EndChatRequest{SessionID: "s1", UserID: "U1", SelectedOrderID: "O2"})

	rr := env.do(t, http.MethodGet, "/api/user/U1/data", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "user data")
	var data UserData
	testutil.DecodeResult(t, rr, &data)
	assert.Equal(t, "U1", data.UserID)
	assert.Len(t, data.Orders, 2)
	require.Len(t, data.Shipments, 1)
	assert.Equal(t, models.ShipmentKindDelivery, data.Shipments[0].Kind)
	require.Len(t, data.Summaries, 1)
	assert.Equal(t, data.Shipments[0].ID, data.Summaries[0].ShipmentID)
}

func TestCreateOrderHandler(t *testing.T) {
	env := newTestEnv(t, envConfig{})

	rr := env.do(t, http.MethodPost, "/api/orders", models.Order{OrderID: "O5", UserID: "U5", ProductID: "P5", ProductName: "Kettle"})
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "create order")
	o, err := env.store.GetOrder(t.Context(), "O5")
	require.NoError(t, err)
	assert.False(t, o.OrderedAt.IsZero(), "ordered_at defaults to now")

	rr = env.do(t, http.MethodPost, "/api/auth/login", models.LoginRequest{UserID: "U5"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "login after order")

	rr = env.do(t, http.MethodPost, "/api/orders", models.Order{OrderID: "O6", UserID: "U5"})
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "missing product")
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t, envConfig{apiOpts: []Option{WithComponentStatus("notifier", "disabled")}})

	rr := env.do(t, http.MethodGet, "/api/health", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")
	var h HealthResult
	testutil.DecodeResult(t, rr, &h)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "fallback_mode", h.AIAgent)
	assert.Equal(t, env.dir, h.ExportsPath)
	assert.Equal(t, (48 * time.Hour).String(), h.StageTotal)
	assert.Equal(t, "disabled", h.Components["notifier"])

	ready := newTestEnv(t, envConfig{agentOpts: []agent.Option{agent.WithGenerator(failingGenerator{})}})
	rr = ready.do(t, http.MethodGet, "/api/health", nil)
	testutil.DecodeResult(t, rr, &h)
	assert.Equal(t, "ready", h.AIAgent)
}

func TestServerRunStopsOnCancel(t *testing.T) {
	env := newTestEnv(t, envConfig{apiOpts: []Option{WithAddr("127.0.0.1:0")}})
	assert.Equal(t, "127.0.0.1:0", env.server.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}

func TestNewServerDefaultAddr(t *testing.T) {
	srv := NewServer(Deps{})
	assert.Equal(t, DefaultAddr, srv.Addr())
}
