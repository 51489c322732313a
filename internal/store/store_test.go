package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

// runStoreSuite exercises the behaviour every backend must share.
func runStoreSuite(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("shipments", func(t *testing.T) {
		first := models.Shipment{ID: "PCK-AAAAAAAAAA", Kind: models.ShipmentKindPickup, UserID: "U1",
			OrderID: "O1", ProductID: "P1", Address: "1 Main St", CreatedAt: baseTime}
		second := models.Shipment{ID: "DLV-BBBBBBBBBB", Kind: models.ShipmentKindDelivery, UserID: "U1",
			OrderID: "O2", ProductID: "P2", CreatedAt: baseTime.Add(time.Hour)}
		other := models.Shipment{ID: "DLV-CCCCCCCCCC", Kind: models.ShipmentKindDelivery, UserID: "U2",
			OrderID: "O3", ProductID: "P3", CreatedAt: baseTime.Add(2 * time.Hour)}
		for _, sh := range []models.Shipment{first, second, other} {
			require.NoError(t, s.InsertShipment(ctx, sh))
		}

		got, err := s.GetShipment(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, first, got)

		dup := first
		dup.UserID = "someone-else"
		err = s.InsertShipment(ctx, dup)
		assert.ErrorIs(t, err, models.ErrDuplicateTrackingID)

		got, err = s.GetShipment(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, "U1", got.UserID, "duplicate insert must not overwrite")

		_, err = s.GetShipment(ctx, "PCK-MISSING000")
		assert.ErrorIs(t, err, models.ErrNotFound)

		byUser, err := s.ListShipmentsByUser(ctx, "U1")
		require.NoError(t, err)
		require.Len(t, byUser, 2)
		assert.Equal(t, second.ID, byUser[0].ID, "newest first")
		assert.Equal(t, first.ID, byUser[1].ID)

		all, err := s.ListShipments(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		none, err := s.ListShipmentsByUser(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("orders", func(t *testing.T) {
		older := models.Order{OrderID: "ORD-1", UserID: "U9", ProductID: "P1", ProductName: "Kettle",
			Status: "delivered", Price: "29.99", OrderedAt: baseTime}
		newer := models.Order{OrderID: "ORD-2", UserID: "U9", ProductID: "P2", ContactPhone: "+15550001111",
			OrderedAt: baseTime.Add(24 * time.Hour)}
		require.NoError(t, s.SaveOrder(ctx, older))
		require.NoError(t, s.SaveOrder(ctx, newer))

		got, err := s.GetOrder(ctx, "ORD-1")
		require.NoError(t, err)
		assert.Equal(t, older, got)

		_, err = s.GetOrder(ctx, "ORD-404")
		assert.ErrorIs(t, err, models.ErrNotFound)

		recent, err := s.GetRecentOrders(ctx, "U9", 1)
		require.NoError(t, err)
		require.Len(t, recent, 1)
		assert.Equal(t, "ORD-2", recent[0].OrderID)

		all, err := s.GetRecentOrders(ctx, "U9", 0)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		older.Status = "returned"
		require.NoError(t, s.SaveOrder(ctx, older))
		got, err = s.GetOrder(ctx, "ORD-1")
		require.NoError(t, err)
		assert.Equal(t, "returned", got.Status)
	})

	t.Run("summaries", func(t *testing.T) {
		sum := models.ConversationSummary{SessionID: "S1", UserID: "U1", OrderID: "O1",
			IssueType: "defect", ProposedSolution: "return the item", ShipmentID: "PCK-AAAAAAAAAA",
			ShipmentType: models.ShipmentKindPickup, CreatedAt: baseTime}
		require.NoError(t, s.SaveSummary(ctx, sum))

		got, err := s.GetSummary(ctx, "S1")
		require.NoError(t, err)
		assert.Equal(t, sum, got)

		// A later save without a shipment must keep the recorded one.
		update := sum
		update.ShipmentID = ""
		update.ShipmentType = ""
		update.ResolutionStatus = "resolved"
		require.NoError(t, s.SaveSummary(ctx, update))
		got, err = s.GetSummary(ctx, "S1")
		require.NoError(t, err)
		assert.Equal(t, "PCK-AAAAAAAAAA", got.ShipmentID)
		assert.Equal(t, models.ShipmentKindPickup, got.ShipmentType)
		assert.Equal(t, "resolved", got.ResolutionStatus)

		require.NoError(t, s.SaveSummary(ctx, models.ConversationSummary{SessionID: "S2", UserID: "U2",
			IssueType: "other", CreatedAt: baseTime.Add(time.Minute)}))

		_, err = s.GetSummary(ctx, "S404")
		assert.ErrorIs(t, err, models.ErrNotFound)

		all, err := s.ListSummaries(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "S2", all[0].SessionID)

		mine, err := s.ListSummariesByUser(ctx, "U1")
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, "S1", mine[0].SessionID)
	})

	t.Run("concurrent inserts of one id", func(t *testing.T) {
		const workers = 8
		var wg sync.WaitGroup
		errs := make([]error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = s.InsertShipment(ctx, models.Shipment{ID: "PCK-RACE000000", Kind: models.ShipmentKindPickup,
					UserID: "U1", OrderID: "O1", ProductID: "P1", CreatedAt: baseTime})
			}(i)
		}
		wg.Wait()
		wins := 0
		for _, err := range errs {
			switch {
			case err == nil:
				wins++
			case errors.Is(err, models.ErrDuplicateTrackingID):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, wins)
	})
}

func TestInMemoryStore(t *testing.T) {
	runStoreSuite(t, NewInMemoryStore())
}

func TestInMemoryStoreCanceledContext(t *testing.T) {
	s := NewInMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.GetShipment(ctx, "PCK-AAAAAAAAAA")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSQLiteStore(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "supportpipe.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dsn))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	runStoreSuite(t, s)
}

func TestPostgresStore(t *testing.T) {
	// This test requires a running PostgreSQL instance.
	// Set the DATABASE_URL environment variable for connection string.
	connStr := getenvOrSkip(t, "DATABASE_URL")
	pgStore, err := NewPostgresStore(WithPostgresDSN(connStr))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	t.Cleanup(func() { pgStore.Close() })
	// Clean up tables before test
	for _, table := range []string{"shipments", "orders", "chat_summaries"} {
		_, err := pgStore.db.Exec("DELETE FROM " + table)
		require.NoError(t, err)
	}
	runStoreSuite(t, pgStore)
}

func TestDetectDSNType(t *testing.T) {
	cases := map[string]string{
		"postgres://user:pw@localhost/db":   "postgres",
		"postgresql://localhost/db":         "postgres",
		"host=localhost dbname=supportpipe": "postgres",
		"/var/lib/supportpipe/state.db":     "sqlite3",
		"state.db":                          "sqlite3",
	}
	for dsn, want := range cases {
		assert.Equal(t, want, DetectDSNType(dsn), dsn)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	assert.IsType(t, &InMemoryStore{}, s)

	s, err = New(WithSQLiteDSN(filepath.Join(t.TempDir(), "state.db")))
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &SQLiteStore{}, s)
}

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}
