// Package venuea — REST client. Every request is retried on transient
// failures. Market, book, order-status, submit and cancel requests are
// rate-limited via per-category token buckets (the auth handshake is not).
// Order submission, status and cancellation carry a cached bearer token
// refreshed on 401/403 or expiry-minus-slack; market-info and book reads are
// sent without one (spec §4.1 "Protocols").
package venuea

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"arb-engine/internal/venue"
	"arb-engine/pkg/types"
)

// MinOrderNotionalUSD is the configured minimum order value below which
// submitOrder rejects without a network call (spec §4.1, default $0.90).
const MinOrderNotionalUSD = 0.90

// marketInfoEntry caches one market's static info with a 5-minute TTL.
type marketInfoEntry struct {
	info      MarketInfo
	fetchedAt time.Time
}

// MarketInfo is Venue-A's static per-market metadata (spec §6 GET /markets/{id}).
type MarketInfo struct {
	ID         string
	YesTokenID string
	NoTokenID  string
	NegRisk    bool
	FeeBps     int
	TickSize   types.TickSize
}

// Client is the Venue-A REST API client.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *venue.RateLimiter
	apiKey string
	dryRun bool
	logger *slog.Logger

	miMu sync.Mutex
	mi   map[string]marketInfoEntry
}

// NewClient builds a Venue-A REST client.
func NewClient(baseURL string, auth *Auth, apiKey string, dryRun bool, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     venue.NewRateLimiter(350, 300, 150),
		apiKey: apiKey,
		dryRun: dryRun,
		logger: logger.With("component", "venuea-client"),
		mi:     make(map[string]marketInfoEntry),
	}
}

func (c *Client) authHeader(ctx context.Context) (string, error) {
	return c.auth.BearerHeader(ctx, c.refreshToken)
}

// refreshToken runs the two-step challenge/response auth flow (spec §6
// "POST /auth/message + POST /auth").
func (c *Client) refreshToken(ctx context.Context) (string, time.Time, error) {
	nonce := int(time.Now().UnixNano() % 1_000_000)
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	sig, err := c.auth.SignChallenge(timestamp, nonce)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign challenge: %w", err)
	}

	var msgResp struct {
		Message string `json:"message"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"address":   c.auth.Address().Hex(),
			"timestamp": timestamp,
			"nonce":     strconv.Itoa(nonce),
			"signature": sig,
		}).
		SetResult(&msgResp).
		Post("/auth/message")
	if err != nil {
		return "", time.Time{}, &venue.NetworkError{Op: "auth/message", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("auth/message: status %d: %s", resp.StatusCode(), resp.String())
	}

	var tokResp struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expiresIn"` // seconds
	}
	resp, err = c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"message": msgResp.Message, "signature": sig}).
		SetResult(&tokResp).
		Post("/auth")
	if err != nil {
		return "", time.Time{}, &venue.NetworkError{Op: "auth", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("auth: status %d: %s", resp.StatusCode(), resp.String())
	}

	ttl := time.Duration(tokResp.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return tokResp.Token, time.Now().Add(ttl), nil
}

// GetMarketInfo returns cached market info if fresh (5-minute TTL), else
// fetches and caches it.
func (c *Client) GetMarketInfo(ctx context.Context, marketID string) (MarketInfo, error) {
	c.miMu.Lock()
	if entry, ok := c.mi[marketID]; ok && time.Since(entry.fetchedAt) < 5*time.Minute {
		c.miMu.Unlock()
		return entry.info, nil
	}
	c.miMu.Unlock()

	if err := c.rl.Book.Wait(ctx); err != nil {
		return MarketInfo{}, err
	}

	var raw struct {
		YesTokenID string `json:"yesTokenId"`
		NoTokenID  string `json:"noTokenId"`
		NegRisk    bool   `json:"negRisk"`
		FeeBps     int    `json:"feeBps"`
		TickSize   string `json:"tickSize"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&raw).Get("/markets/" + marketID)
	if err != nil {
		return MarketInfo{}, &venue.NetworkError{Op: "get market info", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return MarketInfo{}, venue.ErrMarketInfoUnavailable
	}

	info := MarketInfo{
		ID:         marketID,
		YesTokenID: raw.YesTokenID,
		NoTokenID:  raw.NoTokenID,
		NegRisk:    raw.NegRisk,
		FeeBps:     raw.FeeBps,
		TickSize:   types.TickSize(raw.TickSize),
	}
	if info.TickSize == "" {
		info.TickSize = types.Tick001
	}

	c.miMu.Lock()
	c.mi[marketID] = marketInfoEntry{info: info, fetchedAt: time.Now()}
	c.miMu.Unlock()

	return info, nil
}

// GetOrderbook fetches the L2 book for a token (used as the REST fallback
// source behind the Orderbook Cache).
func (c *Client) GetOrderbook(ctx context.Context, tokenID string) (*types.Orderbook, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	var raw struct {
		Bids []struct {
			Price string `json:"price"`
			Size  string `json:"size"`
		} `json:"bids"`
		Asks []struct {
			Price string `json:"price"`
			Size  string `json:"size"`
		} `json:"asks"`
		Timestamp string `json:"timestamp"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&raw).
		Get("/book")
	if err != nil {
		return nil, &venue.NetworkError{Op: "get book", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get book: status %d: %s", resp.StatusCode(), resp.String())
	}

	ob := &types.Orderbook{TokenID: tokenID, ObservedAt: time.Now()}
	for _, b := range raw.Bids {
		ob.Bids = append(ob.Bids, types.PriceLevel{Price: decimal.RequireFromString(b.Price), Size: decimal.RequireFromString(b.Size)})
	}
	for _, a := range raw.Asks {
		ob.Asks = append(ob.Asks, types.PriceLevel{Price: decimal.RequireFromString(a.Price), Size: decimal.RequireFromString(a.Size)})
	}
	if ts, err := strconv.ParseInt(raw.Timestamp, 10, 64); err == nil {
		ob.SourceTimestamp = time.Unix(ts, 0)
	}
	return ob, nil
}

// SubmitOrder checks the minimum notional, converts price and size to
// maker/taker amounts (see PriceToAmounts), and submits a single order
// (spec §4.1 submitOrder). The price is used as given, and the order is sent
// unsigned: its Salt and Signature fields are left empty.
func (c *Client) SubmitOrder(ctx context.Context, market MarketInfo, side types.Direction, tokenID string, price, qty decimal.Decimal, typ types.OrderType) (orderID, orderHash string, err error) {
	notional := price.Mul(qty)
	if notional.LessThan(decimal.NewFromFloat(MinOrderNotionalUSD)) {
		return "", "", venue.ErrBelowMinNotional
	}

	makerAmt, takerAmt := PriceToAmounts(price, qty, side, market.TickSize)
	order := types.SignedOrder{
		Maker:         c.auth.FunderAddress().Hex(),
		Signer:        c.auth.Address().Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       tokenID,
		MakerAmount:   makerAmt,
		TakerAmount:   takerAmt,
		Side:          side,
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    strconv.Itoa(market.FeeBps),
		SignatureType: types.SigProxy,
		NegRisk:       market.NegRisk,
	}

	if c.dryRun {
		c.logger.Info("DRY-RUN: would submit order", "token", tokenID, "price", price, "qty", qty)
		return "dry-run-id", "dry-run-hash", nil
	}

	if err := c.rl.Order.Wait(ctx); err != nil {
		return "", "", err
	}

	header, err := c.authHeader(ctx)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", venue.ErrAuthExpired, err)
	}

	payload := types.OrderPayload{Order: order, Owner: c.apiKey, OrderType: typ}
	var result types.OrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", header).
		SetBody(payload).
		SetResult(&result).
		Post("/orders")
	if err != nil {
		return "", "", &venue.NetworkError{Op: "post orders", Err: err}
	}
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		c.auth.Invalidate()
		return "", "", venue.ErrAuthExpired
	}
	if resp.StatusCode() != http.StatusOK {
		return "", "", &venue.RejectedError{Reason: fmt.Sprintf("status %d: %s", resp.StatusCode(), resp.String())}
	}
	if !result.Success {
		return "", "", &venue.RejectedError{Reason: result.ErrorMsg}
	}
	return result.OrderID, result.OrderHash, nil
}

// normalizeFilled tolerates the venue reporting fill quantity either as a
// wei-scale integer string or a human-scale decimal (spec §9 "dynamic-typing
// residue"): an all-digit string longer than 12 characters is wei-scale.
func normalizeFilled(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	allDigits := true
	for _, r := range raw {
		if r < '0' || r > '9' {
			allDigits = false
			break
		}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	if allDigits && len(raw) > 12 {
		return d.Div(decimal.New(1, 18))
	}
	return d
}

// GetOrderStatus returns the normalized order status, or nil if the venue
// reports no such order (spec §4.1 "sentinel absent-value").
func (c *Client) GetOrderStatus(ctx context.Context, orderHash string) (*types.OrderStatus, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	header, err := c.authHeader(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", venue.ErrAuthExpired, err)
	}

	var raw map[string]json.RawMessage
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", header).
		SetResult(&raw).
		Get("/orders/" + orderHash)
	if err != nil {
		return nil, &venue.NetworkError{Op: "get order status", Err: err}
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		c.auth.Invalidate()
		return nil, venue.ErrAuthExpired
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get order status: status %d: %s", resp.StatusCode(), resp.String())
	}

	var id, state, avgPrice, cancelReason string
	var filledRaw string
	_ = json.Unmarshal(raw["id"], &id)
	_ = json.Unmarshal(raw["state"], &state)
	_ = json.Unmarshal(raw["avgPrice"], &avgPrice)
	_ = json.Unmarshal(raw["cancelReason"], &cancelReason)

	// Tolerate either field name for filled quantity (spec §9).
	if v, ok := raw["amountFilled"]; ok {
		_ = json.Unmarshal(v, &filledRaw)
	} else if v, ok := raw["quantityFilled"]; ok {
		_ = json.Unmarshal(v, &filledRaw)
	}

	filled := normalizeFilled(filledRaw)
	avg, _ := decimal.NewFromString(avgPrice)

	return &types.OrderStatus{
		ID:           id,
		OrderHash:    orderHash,
		State:        types.OrderState(state),
		FilledQty:    filled,
		AvgPrice:     avg,
		CancelReason: cancelReason,
	}, nil
}

// CancelOrder cancels by hash or id. Tolerates the race where the order is
// already gone — a "noop" response counts as success (spec §4.1).
func (c *Client) CancelOrder(ctx context.Context, orderHashOrID string) (bool, error) {
	if c.dryRun {
		return true, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return false, err
	}

	header, err := c.authHeader(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %v", venue.ErrAuthExpired, err)
	}

	body := map[string][]string{"ids": {orderHashOrID}}
	var result types.CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", header).
		SetBody(body).
		SetResult(&result).
		Post("/orders/remove")
	if err != nil {
		return false, &venue.NetworkError{Op: "cancel order", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return false, fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}

	for _, id := range result.Removed {
		if id == orderHashOrID {
			return true, nil
		}
	}
	for _, id := range result.Noop {
		if id == orderHashOrID {
			return true, nil
		}
	}
	return len(result.Removed) > 0 || len(result.Noop) > 0, nil
}
