package venueb

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arb-engine/internal/venue/venuea"
	"arb-engine/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dryRunAuth(t *testing.T) *venuea.Auth {
	t.Helper()
	auth, err := venuea.NewAuth("0x1111111111111111111111111111111111111111111111111111111111111111",
		"", 137, types.SigEOA, time.Second)
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	return auth
}

func TestClient_SubmitOrder_DryRun(t *testing.T) {
	t.Parallel()
	c := NewClient("http://localhost", dryRunAuth(t), "test-key", true, testLogger())

	orderID, err := c.SubmitOrder(context.Background(), "yes-tok", types.BUY,
		decimal.NewFromFloat(0.54), decimal.NewFromFloat(10), types.Tick001, 200, false, types.OrderTypeIOC)
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if orderID == "" {
		t.Error("expected a non-empty dry-run order id")
	}
}

func TestClient_CancelOrder_DryRun(t *testing.T) {
	t.Parallel()
	c := NewClient("http://localhost", dryRunAuth(t), "test-key", true, testLogger())

	ok, err := c.CancelOrder(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if !ok {
		t.Error("expected CancelOrder to report success in dry-run mode")
	}
}

func TestClient_SubmitOrder_IOCWithNoFillIsNotARejection(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(types.OrderResponse{Success: false, OrderID: "order-ioc-1"})
	}))
	defer server.Close()

	c := NewClient(server.URL, dryRunAuth(t), "test-key", false, testLogger())
	orderID, err := c.SubmitOrder(context.Background(), "yes-tok", types.BUY,
		decimal.NewFromFloat(0.54), decimal.NewFromFloat(10), types.Tick001, 200, false, types.OrderTypeIOC)
	if err != nil {
		t.Fatalf("SubmitOrder: %v, want no error (IOC with zero fill is not a rejection)", err)
	}
	if orderID != "order-ioc-1" {
		t.Errorf("orderID = %q, want order-ioc-1", orderID)
	}
}

func TestClient_SubmitOrder_GTCFailureIsRejected(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(types.OrderResponse{Success: false, ErrorMsg: "insufficient depth"})
	}))
	defer server.Close()

	c := NewClient(server.URL, dryRunAuth(t), "test-key", false, testLogger())
	_, err := c.SubmitOrder(context.Background(), "yes-tok", types.BUY,
		decimal.NewFromFloat(0.54), decimal.NewFromFloat(10), types.Tick001, 200, false, types.OrderTypeGTC)
	if err == nil {
		t.Fatal("expected a GTC failure to be reported as an error")
	}
}

func TestClient_GetOrderStatus_NotFoundReturnsNilNil(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient(server.URL, dryRunAuth(t), "test-key", false, testLogger())
	status, err := c.GetOrderStatus(context.Background(), "missing-order")
	if err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}
	if status != nil {
		t.Errorf("status = %+v, want nil for a 404", status)
	}
}

func TestClient_CancelOrder_NotFoundIsSuccess(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient(server.URL, dryRunAuth(t), "test-key", false, testLogger())
	ok, err := c.CancelOrder(context.Background(), "already-gone")
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if !ok {
		t.Error("expected a 404 cancel to be treated as already-cancelled success")
	}
}

func TestClient_GetPosition_MatchesTokenID(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]string{
			{"asset": "other-tok", "size": "5"},
			{"asset": "yes-tok", "size": "12.5"},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, dryRunAuth(t), "test-key", false, testLogger())
	pos, err := c.GetPosition(context.Background(), "user-1", "yes-tok")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if !pos.Shares.Equal(decimal.NewFromFloat(12.5)) {
		t.Errorf("shares = %s, want 12.5", pos.Shares)
	}
}

func TestClient_GetPosition_ReturnsZeroWhenAbsent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]string{{"asset": "other-tok", "size": "5"}})
	}))
	defer server.Close()

	c := NewClient(server.URL, dryRunAuth(t), "test-key", false, testLogger())
	pos, err := c.GetPosition(context.Background(), "user-1", "yes-tok")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if !pos.Shares.IsZero() {
		t.Errorf("shares = %s, want 0 for an unheld token", pos.Shares)
	}
}
