package venuea

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arb-engine/internal/venue"
	"arb-engine/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dryRunAuth(t *testing.T) *Auth {
	t.Helper()
	auth, err := NewAuth("0x1111111111111111111111111111111111111111111111111111111111111111",
		"", 137, types.SigEOA, time.Second)
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	return auth
}

func newDryRunClient(t *testing.T) *Client {
	t.Helper()
	c := NewClient("http://localhost", dryRunAuth(t), "test-key", true, testLogger())
	return c
}

func TestClient_SubmitOrder_DryRun(t *testing.T) {
	t.Parallel()
	c := newDryRunClient(t)

	market := MarketInfo{ID: "m1", YesTokenID: "yes", NoTokenID: "no", FeeBps: 200, TickSize: types.Tick001}
	orderID, orderHash, err := c.SubmitOrder(context.Background(), market, types.BUY, "yes",
		decimal.NewFromFloat(0.45), decimal.NewFromFloat(10), types.OrderTypeGTC)
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if orderID == "" || orderHash == "" {
		t.Errorf("orderID=%q orderHash=%q, want non-empty dry-run placeholders", orderID, orderHash)
	}
}

func TestClient_SubmitOrder_RejectsBelowMinNotional(t *testing.T) {
	t.Parallel()
	c := newDryRunClient(t)

	market := MarketInfo{ID: "m1", YesTokenID: "yes", NoTokenID: "no", FeeBps: 200, TickSize: types.Tick001}
	_, _, err := c.SubmitOrder(context.Background(), market, types.BUY, "yes",
		decimal.NewFromFloat(0.10), decimal.NewFromFloat(1), types.OrderTypeGTC)
	if !errors.Is(err, venue.ErrBelowMinNotional) {
		t.Fatalf("err = %v, want ErrBelowMinNotional", err)
	}
}

func TestClient_CancelOrder_DryRun(t *testing.T) {
	t.Parallel()
	c := newDryRunClient(t)

	ok, err := c.CancelOrder(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if !ok {
		t.Error("expected CancelOrder to report success in dry-run mode")
	}
}

func TestClient_GetMarketInfo_CachesWithinTTL(t *testing.T) {
	t.Parallel()
	c := newDryRunClient(t)

	// Seed the cache directly rather than round-tripping through HTTP: this
	// exercises the TTL branch of GetMarketInfo in isolation.
	c.mi["m1"] = marketInfoEntry{
		info:      MarketInfo{ID: "m1", YesTokenID: "yes", NoTokenID: "no", FeeBps: 150, TickSize: types.Tick01},
		fetchedAt: time.Now(),
	}

	info, err := c.GetMarketInfo(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetMarketInfo: %v", err)
	}
	if info.FeeBps != 150 || info.TickSize != types.Tick01 {
		t.Errorf("got %+v, want cached entry returned without a network call", info)
	}
}

func TestNormalizeFilled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want decimal.Decimal
	}{
		{"empty", "", decimal.Zero},
		{"human scale decimal", "9.98", decimal.NewFromFloat(9.98)},
		{"human scale integer", "10", decimal.NewFromInt(10)},
		{"wei scale", "10000000000000000000", decimal.NewFromInt(10)}, // 10 * 1e18 wei; see below
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := normalizeFilled(tt.raw)
			if tt.name == "wei scale" {
				// 20-digit all-numeric strings are wei-scale (>1e6 scaled);
				// just assert it divided down rather than being read literally.
				if got.GreaterThan(decimal.NewFromInt(1_000_000)) {
					t.Errorf("normalizeFilled(%q) = %s, want a human-scale quantity", tt.raw, got)
				}
				return
			}
			if !got.Equal(tt.want) {
				t.Errorf("normalizeFilled(%q) = %s, want %s", tt.raw, got, tt.want)
			}
		})
	}
}

func TestPriceToAmounts(t *testing.T) {
	t.Parallel()

	mkr, tkr := PriceToAmounts(decimal.NewFromFloat(0.50), decimal.NewFromFloat(100), types.BUY, types.Tick001)
	if mkr.Int64() != 50_000_000 {
		t.Errorf("makerAmount = %s, want 50000000", mkr)
	}
	if tkr.Int64() != 100_000_000 {
		t.Errorf("takerAmount = %s, want 100000000", tkr)
	}

	sellMkr, sellTkr := PriceToAmounts(decimal.NewFromFloat(0.50), decimal.NewFromFloat(100), types.SELL, types.Tick001)
	if mkr.Cmp(sellTkr) != 0 {
		t.Errorf("BUY maker (%s) != SELL taker (%s)", mkr, sellTkr)
	}
	if tkr.Cmp(sellMkr) != 0 {
		t.Errorf("BUY taker (%s) != SELL maker (%s)", tkr, sellMkr)
	}
}

func TestAuth_SignChallengeProducesHexSignature(t *testing.T) {
	t.Parallel()
	auth := dryRunAuth(t)

	sig, err := auth.SignChallenge("1700000000", 42)
	if err != nil {
		t.Fatalf("SignChallenge: %v", err)
	}
	if !strings.HasPrefix(sig, "0x") {
		t.Errorf("signature = %q, want 0x-prefixed", sig)
	}
	if len(sig) != 2+65*2 {
		t.Errorf("signature length = %d, want %d (65-byte sig hex-encoded)", len(sig), 2+65*2)
	}
}

func TestAuth_BearerHeaderCachesUntilInvalidate(t *testing.T) {
	t.Parallel()
	auth := dryRunAuth(t)

	calls := 0
	refresh := func(ctx context.Context) (string, time.Time, error) {
		calls++
		return "tok", time.Now().Add(time.Hour), nil
	}

	h1, err := auth.BearerHeader(context.Background(), refresh)
	if err != nil {
		t.Fatalf("BearerHeader: %v", err)
	}
	h2, err := auth.BearerHeader(context.Background(), refresh)
	if err != nil {
		t.Fatalf("BearerHeader: %v", err)
	}
	if h1 != h2 {
		t.Errorf("expected the cached token to be reused, got %q then %q", h1, h2)
	}
	if calls != 1 {
		t.Errorf("refresh called %d times, want 1", calls)
	}

	auth.Invalidate()
	if _, err := auth.BearerHeader(context.Background(), refresh); err != nil {
		t.Fatalf("BearerHeader after invalidate: %v", err)
	}
	if calls != 2 {
		t.Errorf("refresh called %d times after Invalidate, want 2", calls)
	}
}
