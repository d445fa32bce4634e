// Package venueb implements the Venue-B gateway: REST order submission
// (GTC/IOC, negRisk routing), status, cancellation, positions, and a
// multiplexed orderbook WebSocket stream.
package venueb

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"context"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"arb-engine/internal/venue"
	"arb-engine/internal/venue/venuea"
	"arb-engine/pkg/types"
)

// negRiskContract and standardContract are the two settlement-contract
// identifiers the negRisk flag chooses between (spec §4.2 "negRisk").
const (
	negRiskContract  = "neg-risk-exchange"
	standardContract = "exchange"
)

// Client is the Venue-B REST API client.
type Client struct {
	http   *resty.Client
	auth   *venuea.Auth // EIP-712 signer, reused across venues
	apiKey string
	dryRun bool
	logger *slog.Logger
	rl     *venue.RateLimiter
}

// NewClient builds a Venue-B REST client.
func NewClient(baseURL string, auth *venuea.Auth, apiKey string, dryRun bool, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(300 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
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
		apiKey: apiKey,
		dryRun: dryRun,
		logger: logger.With("component", "venueb-client"),
		rl:     venue.NewRateLimiter(350, 300, 150),
	}
}

// GetOrderbook fetches the L2 book for a token.
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
	}
	resp, err := c.http.R().SetContext(ctx).SetQueryParam("token_id", tokenID).SetResult(&raw).Get("/book")
	if err != nil {
		return nil, &venue.NetworkError{Op: "get book", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get book: status %d: %s", resp.StatusCode(), resp.String())
	}

	ob := &types.Orderbook{TokenID: tokenID, ObservedAt: time.Now(), SourceTimestamp: time.Now()}
	for _, b := range raw.Bids {
		ob.Bids = append(ob.Bids, types.PriceLevel{Price: decimal.RequireFromString(b.Price), Size: decimal.RequireFromString(b.Size)})
	}
	for _, a := range raw.Asks {
		ob.Asks = append(ob.Asks, types.PriceLevel{Price: decimal.RequireFromString(a.Price), Size: decimal.RequireFromString(a.Size)})
	}
	return ob, nil
}

// SubmitOrder places a GTC or IOC order, routed to the settlement contract
// the negRisk flag selects.
func (c *Client) SubmitOrder(ctx context.Context, tokenID string, side types.Direction, price, qty decimal.Decimal, tick types.TickSize, feeBps int, negRisk bool, typ types.OrderType) (orderID string, err error) {
	contract := standardContract
	if negRisk {
		contract = negRiskContract
	}

	makerAmt, takerAmt := venuea.PriceToAmounts(price, qty, side, tick)
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
		FeeRateBps:    strconv.Itoa(feeBps),
		SignatureType: types.SigProxy,
		NegRisk:       negRisk,
	}

	if c.dryRun {
		c.logger.Info("DRY-RUN: would submit hedge order", "token", tokenID, "contract", contract, "type", typ)
		return "dry-run-id", nil
	}

	if err := c.rl.Order.Wait(ctx); err != nil {
		return "", err
	}

	payload := types.OrderPayload{Order: order, Owner: c.apiKey, OrderType: typ}
	var result types.OrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return "", &venue.NetworkError{Op: "post order", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return "", &venue.RejectedError{Reason: fmt.Sprintf("status %d: %s", resp.StatusCode(), resp.String())}
	}
	if !result.Success {
		if typ == types.OrderTypeIOC {
			// IOC with nothing filled is a normal outcome, not a rejection.
			return result.OrderID, nil
		}
		return "", &venue.RejectedError{Reason: result.ErrorMsg}
	}
	return result.OrderID, nil
}

// GetOrderStatus returns the normalized order status.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (*types.OrderStatus, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	var raw map[string]json.RawMessage
	resp, err := c.http.R().SetContext(ctx).SetResult(&raw).Get("/order/" + orderID)
	if err != nil {
		return nil, &venue.NetworkError{Op: "get order status", Err: err}
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get order status: status %d: %s", resp.StatusCode(), resp.String())
	}

	var state, avgPrice, filledQty string
	_ = json.Unmarshal(raw["state"], &state)
	_ = json.Unmarshal(raw["avgPrice"], &avgPrice)
	_ = json.Unmarshal(raw["filledQty"], &filledQty)

	filled, _ := decimal.NewFromString(filledQty)
	avg, _ := decimal.NewFromString(avgPrice)

	return &types.OrderStatus{
		ID:        orderID,
		State:     types.OrderState(state),
		FilledQty: filled,
		AvgPrice:  avg,
	}, nil
}

// CancelOrder cancels an order, tolerating "already gone" as success.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	if c.dryRun {
		return true, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return false, err
	}

	resp, err := c.http.R().SetContext(ctx).Delete("/order/" + orderID)
	if err != nil {
		return false, &venue.NetworkError{Op: "cancel order", Err: err}
	}
	if resp.StatusCode() == http.StatusNotFound {
		return true, nil
	}
	return resp.StatusCode() == http.StatusOK, nil
}

// GetPosition queries the operator's holding of an outcome token.
func (c *Client) GetPosition(ctx context.Context, user, tokenID string) (types.PositionSnapshot, error) {
	var raw []struct {
		Asset string `json:"asset"`
		Size  string `json:"size"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("user", user).
		SetResult(&raw).
		Get("/positions")
	if err != nil {
		return types.PositionSnapshot{}, &venue.NetworkError{Op: "get positions", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return types.PositionSnapshot{}, fmt.Errorf("get positions: status %d: %s", resp.StatusCode(), resp.String())
	}

	for _, p := range raw {
		if p.Asset == tokenID {
			size, _ := decimal.NewFromString(p.Size)
			return types.PositionSnapshot{TokenID: tokenID, Shares: size}, nil
		}
	}
	return types.PositionSnapshot{TokenID: tokenID, Shares: decimal.Zero}, nil
}
