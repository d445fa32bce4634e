package obcache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arb-engine/pkg/types"
)

func bookFor(price string) *types.Orderbook {
	p := decimal.RequireFromString(price)
	return &types.Orderbook{
		Bids: []types.PriceLevel{{Price: p.Sub(decimal.RequireFromString("0.01")), Size: decimal.RequireFromString("10")}},
		Asks: []types.PriceLevel{{Price: p, Size: decimal.RequireFromString("10")}},
	}
}

func TestCache_FreshReadHasNoSideEffect(t *testing.T) {
	t.Parallel()
	c := New(Thresholds{Fresh: time.Hour, Stale: 2 * time.Hour, MaxStale: 3 * time.Hour})
	key := Key{Venue: "venuea", ID: "tok1"}
	c.PutWS(key, bookFor("0.50"))

	var fetchCalls int32
	fetch := func(ctx context.Context, k Key) (*types.Orderbook, error) {
		atomic.AddInt32(&fetchCalls, 1)
		return bookFor("0.60"), nil
	}

	book, source, err := c.Get(context.Background(), key, fetch)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if source != SourceWS {
		t.Errorf("source = %s, want WS", source)
	}
	if ask, _ := book.BestAsk(); !ask.Price.Equal(decimal.RequireFromString("0.50")) {
		t.Errorf("fresh read returned refetched data instead of cached")
	}
	if fetchCalls != 0 {
		t.Errorf("fresh read triggered %d fetches, want 0", fetchCalls)
	}
}

func TestCache_StaleTriggersBackgroundRefresh(t *testing.T) {
	c := New(Thresholds{Fresh: time.Millisecond, Stale: time.Millisecond, MaxStale: time.Hour})
	key := Key{Venue: "venueb", ID: "tok2"}
	c.PutWS(key, bookFor("0.50"))
	time.Sleep(5 * time.Millisecond)

	refreshed := make(chan struct{})
	fetch := func(ctx context.Context, k Key) (*types.Orderbook, error) {
		close(refreshed)
		return bookFor("0.61"), nil
	}

	book, _, err := c.Get(context.Background(), key, fetch)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if ask, _ := book.BestAsk(); !ask.Price.Equal(decimal.RequireFromString("0.50")) {
		t.Errorf("expected immediate stale read to return the cached entry")
	}

	select {
	case <-refreshed:
	case <-time.After(time.Second):
		t.Fatal("background refresh did not fire")
	}
}

func TestCache_MaxStaleBlocksForSyncFetch(t *testing.T) {
	t.Parallel()
	c := New(Thresholds{Fresh: time.Millisecond, Stale: time.Millisecond, MaxStale: time.Millisecond})
	key := Key{Venue: "venuea", ID: "tok3"}

	book, source, err := c.Get(context.Background(), key, func(ctx context.Context, k Key) (*types.Orderbook, error) {
		return bookFor("0.70"), nil
	})
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if source != SourceREST {
		t.Errorf("source = %s, want REST", source)
	}
	if ask, _ := book.BestAsk(); !ask.Price.Equal(decimal.RequireFromString("0.70")) {
		t.Errorf("expected the synchronously fetched book")
	}
}

func TestCache_OlderRESTDoesNotOverwriteWS(t *testing.T) {
	t.Parallel()
	c := New(DefaultThresholds())
	key := Key{Venue: "venueb", ID: "tok4"}

	wsBook := bookFor("0.50")
	wsBook.ObservedAt = time.Now()
	c.PutWS(key, wsBook)

	restBook := bookFor("0.80")
	restBook.ObservedAt = time.Now().Add(-time.Hour) // older source timestamp
	c.putREST(key, restBook)

	got, _ := c.GetWSOnly(key, time.Hour)
	if ask, _ := got.BestAsk(); !ask.Price.Equal(decimal.RequireFromString("0.50")) {
		t.Errorf("REST entry overwrote a fresher WS entry; got ask %s", ask.Price)
	}
}

func TestCache_GetWSOnlyReturnsSentinelWhenEmpty(t *testing.T) {
	t.Parallel()
	c := New(DefaultThresholds())
	key := Key{Venue: "venueb", ID: "tok5"}

	_, err := c.GetWSOnly(key, time.Second)
	if err != ErrWSUnavailable {
		t.Fatalf("GetWSOnly on empty cache = %v, want ErrWSUnavailable", err)
	}
}
