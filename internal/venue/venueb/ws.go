// ws.go implements Venue-B's market-data WebSocket: a single process-wide
// connection multiplexes all subscribed tokens (spec §4.2). New subscriptions
// join the existing connection; unsubscribe is reference-counted so two
// independent callers watching the same token don't race each other's
// unsubscribe. On reconnect, all currently-registered tokens are
// re-subscribed and marked stale until a fresh snapshot arrives.
package venueb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"arb-engine/pkg/types"
)

const (
	pingInterval     = 5 * time.Second // spec §6 "client sends PING every 5s"
	readTimeout      = 30 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	updateBufferSize = 512
)

// BookUpdate carries a fresh or delta orderbook plus a staleness flag set
// immediately after a reconnect, before the first fresh snapshot arrives.
type BookUpdate struct {
	TokenID string
	Book    *types.Orderbook
	Stale   bool
}

// Feed is the multiplexed Venue-B market WebSocket.
type Feed struct {
	url string

	connMu sync.Mutex
	conn   *websocket.Conn

	subMu   sync.Mutex
	refs    map[string]int // token id -> subscriber count

	updates chan BookUpdate
	logger  *slog.Logger
}

// NewFeed creates an unconnected market feed. Call Run to connect.
func NewFeed(wsURL string, logger *slog.Logger) *Feed {
	return &Feed{
		url:     wsURL,
		refs:    make(map[string]int),
		updates: make(chan BookUpdate, updateBufferSize),
		logger:  logger.With("component", "venueb-ws"),
	}
}

// Updates returns the read-only stream of book updates.
func (f *Feed) Updates() <-chan BookUpdate { return f.updates }

// Subscribe increments the reference count for tokenID, joining it to the
// live connection if this is the first subscriber.
func (f *Feed) Subscribe(tokenID string) {
	f.subMu.Lock()
	f.refs[tokenID]++
	first := f.refs[tokenID] == 1
	f.subMu.Unlock()

	if first {
		_ = f.writeJSON(map[string]any{"type": "market", "assets_ids": []string{tokenID}})
	}
}

// Unsubscribe decrements the reference count, leaving the connection's
// subscription in place while other subscribers remain.
func (f *Feed) Unsubscribe(tokenID string) {
	f.subMu.Lock()
	f.refs[tokenID]--
	last := f.refs[tokenID] <= 0
	if last {
		delete(f.refs, tokenID)
	}
	f.subMu.Unlock()
}

// Run connects and maintains the connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("market ws disconnected, reconnecting", "error", err, "backoff", backoff)
		f.markAllStale()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (f *Feed) markAllStale() {
	f.subMu.Lock()
	tokens := make([]string, 0, len(f.refs))
	for t := range f.refs {
		tokens = append(tokens, t)
	}
	f.subMu.Unlock()

	for _, t := range tokens {
		select {
		case f.updates <- BookUpdate{TokenID: t, Stale: true}:
		default:
		}
	}
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.resubscribeAll(); err != nil {
		return fmt.Errorf("resubscribe: %w", err)
	}

	f.logger.Info("market ws connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatchMessage(msg)
	}
}

func (f *Feed) resubscribeAll() error {
	f.subMu.Lock()
	tokens := make([]string, 0, len(f.refs))
	for t := range f.refs {
		tokens = append(tokens, t)
	}
	f.subMu.Unlock()

	if len(tokens) == 0 {
		return nil
	}
	return f.writeJSON(map[string]any{"type": "market", "assets_ids": tokens})
}

func (f *Feed) dispatchMessage(data []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
		AssetID   string `json:"asset_id"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return
	}

	switch envelope.EventType {
	case "book":
		var raw struct {
			AssetID string `json:"asset_id"`
			Bids    []struct {
				Price string `json:"price"`
				Size  string `json:"size"`
			} `json:"bids"`
			Asks []struct {
				Price string `json:"price"`
				Size  string `json:"size"`
			} `json:"asks"`
			Timestamp string `json:"timestamp"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			f.logger.Error("unmarshal book event", "error", err)
			return
		}

		ob := &types.Orderbook{TokenID: raw.AssetID, ObservedAt: time.Now()}
		for _, b := range raw.Bids {
			ob.Bids = append(ob.Bids, types.PriceLevel{Price: decimal.RequireFromString(b.Price), Size: decimal.RequireFromString(b.Size)})
		}
		for _, a := range raw.Asks {
			ob.Asks = append(ob.Asks, types.PriceLevel{Price: decimal.RequireFromString(a.Price), Size: decimal.RequireFromString(a.Size)})
		}

		select {
		case f.updates <- BookUpdate{TokenID: raw.AssetID, Book: ob}:
		default:
			f.logger.Warn("book update channel full, dropping event", "token", raw.AssetID)
		}

	case "price_change":
		// Deltas are ignored: nothing is forwarded, and a token's cached book
		// only changes on its next full "book" snapshot.
	default:
	}
}

func (f *Feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *Feed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("market ws not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *Feed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("market ws not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
