package obcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"arb-engine/pkg/types"
)

// Source identifies which feed most recently wrote a cache entry. WS-sourced
// updates always overwrite REST-sourced entries for the same key (spec §4.3).
type Source string

const (
	SourceWS   Source = "WS"
	SourceREST Source = "REST"
)

// ErrWSUnavailable is returned to a wsOnly reader when the only data on hand
// is stale (spec §4.3 "a wsOnly read returning stale data yields a typed
// 'WS unavailable' result").
var ErrWSUnavailable = errors.New("ws orderbook unavailable")

// Key identifies one cache entry: a venue plus a market or token id.
type Key struct {
	Venue string
	ID    string
}

func (k Key) String() string { return k.Venue + ":" + k.ID }

// Fetcher performs a synchronous upstream REST fetch for a key.
type Fetcher func(ctx context.Context, key Key) (*types.Orderbook, error)

type entry struct {
	book       *types.Orderbook
	observedAt time.Time
	source     Source
}

// Thresholds are the three staleness boundaries from spec §4.3.
type Thresholds struct {
	Fresh    time.Duration
	Stale    time.Duration
	MaxStale time.Duration
}

// DefaultThresholds returns the spec's default 500ms/1s/2s thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Fresh: 500 * time.Millisecond, Stale: time.Second, MaxStale: 2 * time.Second}
}

// Cache is the process-wide Orderbook Cache. Many readers, one writer per
// key (spec §5 "Shared-resource policy").
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]entry

	inflightMu sync.Mutex
	inflight   map[Key]bool

	thresholds Thresholds
}

// New creates an empty cache with the given staleness thresholds.
func New(thresholds Thresholds) *Cache {
	return &Cache{
		entries:    make(map[Key]entry),
		inflight:   make(map[Key]bool),
		thresholds: thresholds,
	}
}

// Thresholds returns the staleness boundaries this cache was built with.
func (c *Cache) Thresholds() Thresholds {
	return c.thresholds
}

// PutWS stores a WS-sourced book, unconditionally overwriting any REST entry.
func (c *Cache) PutWS(key Key, book *types.Orderbook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{book: book, observedAt: time.Now(), source: SourceWS}
}

// putREST stores a REST-sourced book, but does not overwrite a WS entry
// observed after the REST book's ObservedAt; a REST book observed later than
// the WS entry replaces it.
func (c *Cache) putREST(key Key, book *types.Orderbook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok && existing.source == SourceWS && existing.observedAt.After(book.ObservedAt) {
		return
	}
	c.entries[key] = entry{book: book, observedAt: time.Now(), source: SourceREST}
}

// Get implements the get(key, fetcher) contract of spec §4.3.
//
//   - age < fresh: return cached, no side effect.
//   - fresh <= age < maxStale: return cached immediately, trigger a
//     background single-flight refresh.
//   - age >= maxStale or no entry: await a synchronous fetch, store, return.
func (c *Cache) Get(ctx context.Context, key Key, fetch Fetcher) (*types.Orderbook, Source, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		age := time.Since(e.observedAt)
		if age < c.thresholds.Fresh {
			return e.book, e.source, nil
		}
		if age < c.thresholds.MaxStale {
			c.triggerBackgroundRefresh(key, fetch)
			return e.book, e.source, nil
		}
	}

	book, err := fetch(ctx, key)
	if err != nil {
		if ok {
			// Degrade to the stale entry rather than failing the caller outright.
			return e.book, e.source, fmt.Errorf("refresh failed, serving stale entry: %w", err)
		}
		return nil, "", err
	}
	if err := Normalize(book); err != nil {
		return nil, "", err
	}
	c.putREST(key, book)
	return book, SourceREST, nil
}

// GetWSOnly returns cached data only if it is not stale by the caller's
// definition; otherwise it returns ErrWSUnavailable without attempting a
// REST fetch (latency-sensitive guard paths, spec §4.3).
func (c *Cache) GetWSOnly(key Key, maxAge time.Duration) (*types.Orderbook, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Since(e.observedAt) > maxAge {
		return nil, ErrWSUnavailable
	}
	return e.book, nil
}

func (c *Cache) triggerBackgroundRefresh(key Key, fetch Fetcher) {
	c.inflightMu.Lock()
	if c.inflight[key] {
		c.inflightMu.Unlock()
		return
	}
	c.inflight[key] = true
	c.inflightMu.Unlock()

	go func() {
		defer func() {
			c.inflightMu.Lock()
			delete(c.inflight, key)
			c.inflightMu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		book, err := fetch(ctx, key)
		if err != nil {
			return
		}
		if err := Normalize(book); err != nil {
			return
		}
		c.putREST(key, book)
	}()
}
