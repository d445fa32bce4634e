// Package obcache is the process-wide Orderbook Cache (spec §4.3): a
// mapping from (venue, token) to the freshest observed orderbook, with
// TTL/stale/maxStale thresholds and a single-flight refresher.
package obcache

import (
	"fmt"
	"sort"

	"arb-engine/pkg/types"
)

// Normalize sorts levels into the required order, drops zero-size levels,
// collapses duplicate prices by summing size, and rejects a crossed book
// (spec §3 orderbook invariants).
func Normalize(ob *types.Orderbook) error {
	ob.Bids = cleanLevels(ob.Bids, true)
	ob.Asks = cleanLevels(ob.Asks, false)

	bid, hasBid := ob.BestBid()
	ask, hasAsk := ob.BestAsk()
	if hasBid && hasAsk && bid.Price.GreaterThanOrEqual(ask.Price) {
		return fmt.Errorf("crossed book for token %s: bid %s >= ask %s", ob.TokenID, bid.Price, ask.Price)
	}
	return nil
}

func cleanLevels(levels []types.PriceLevel, descending bool) []types.PriceLevel {
	byPrice := make(map[string]types.PriceLevel, len(levels))
	order := make([]string, 0, len(levels))
	for _, lvl := range levels {
		if lvl.Size.IsZero() || lvl.Size.IsNegative() {
			continue
		}
		key := lvl.Price.String()
		if existing, ok := byPrice[key]; ok {
			existing.Size = existing.Size.Add(lvl.Size)
			byPrice[key] = existing
		} else {
			byPrice[key] = lvl
			order = append(order, key)
		}
	}

	out := make([]types.PriceLevel, 0, len(order))
	for _, k := range order {
		out = append(out, byPrice[k])
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}
