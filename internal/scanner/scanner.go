// Package scanner implements the Opportunity Scanner (spec §4.9): a
// polling loop pairing listed markets across both venues and ranking
// candidate arbitrage pairs by a profit/depth composite score.
package scanner

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"arb-engine/internal/obcache"
	"arb-engine/internal/venue/venuea"
	"arb-engine/internal/venue/venueb"
	"arb-engine/pkg/types"
)

// Pairing is a statically configured (operator-supplied) correspondence
// between a Venue-A market and its Venue-B hedge tokens.
type Pairing struct {
	VenueAMarketID string
	VenueBYesToken string
	VenueBNoToken  string
	Inverted       bool
}

// Config holds the scanner's filter and ranking thresholds.
type Config struct {
	PollInterval    time.Duration
	MinProfitPct    decimal.Decimal
	MinDepth        decimal.Decimal
	MaxResultsQueue int
}

// DefaultConfig returns the spec's default 30s poll interval.
func DefaultConfig() Config {
	return Config{
		PollInterval:    30 * time.Second,
		MinProfitPct:    decimal.NewFromFloat(0.005),
		MinDepth:        decimal.NewFromFloat(10),
		MaxResultsQueue: 1,
	}
}

// Scanner periodically scores cross-venue pairs and publishes the ranked
// list of opportunities.
type Scanner struct {
	cfg      Config
	pairings []Pairing

	venueA *venuea.Client
	venueB *venueb.Client
	cache  *obcache.Cache

	logger   *slog.Logger
	resultCh chan []types.Opportunity
}

// New creates a scanner over a fixed, operator-supplied set of pairings; it
// does not discover pairings itself.
func New(cfg Config, pairings []Pairing, venueA *venuea.Client, venueB *venueb.Client, cache *obcache.Cache, logger *slog.Logger) *Scanner {
	return &Scanner{
		cfg:      cfg,
		pairings: pairings,
		venueA:   venueA,
		venueB:   venueB,
		cache:    cache,
		logger:   logger.With("component", "scanner"),
		resultCh: make(chan []types.Opportunity, 1),
	}
}

// Results returns the channel task-creation callers read ranked
// opportunities from.
func (s *Scanner) Results() <-chan []types.Opportunity {
	return s.resultCh
}

// Run polls on cfg.PollInterval until ctx is cancelled, scanning once
// immediately on startup.
func (s *Scanner) Run(ctx context.Context) {
	s.scan(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

func (s *Scanner) scan(ctx context.Context) {
	var found []types.Opportunity
	for _, pairing := range s.pairings {
		opp, ok := s.evaluate(ctx, pairing)
		if ok {
			found = append(found, opp)
		}
	}

	ranked := rank(found)
	s.logger.Info("scan complete", "pairings", len(s.pairings), "opportunities", len(ranked))

	select {
	case s.resultCh <- ranked:
	default:
		select {
		case <-s.resultCh:
		default:
		}
		s.resultCh <- ranked
	}
}

// evaluate fetches both legs' Orderbook Cache entries and computes the BUY
// arbitrage margin (Venue-A YES ask + Venue-B NO ask + fee), returning that
// opportunity when it clears the configured thresholds. SELL is not
// evaluated.
func (s *Scanner) evaluate(ctx context.Context, p Pairing) (types.Opportunity, bool) {
	market, err := s.venueA.GetMarketInfo(ctx, p.VenueAMarketID)
	if err != nil {
		return types.Opportunity{}, false
	}

	yesBook, _, err := s.cache.Get(ctx, obcache.Key{Venue: "venuea", ID: market.YesTokenID}, s.fetchVenueA)
	if err != nil {
		return types.Opportunity{}, false
	}
	hedgeBook, _, err := s.cache.Get(ctx, obcache.Key{Venue: "venueb", ID: p.VenueBNoToken}, s.fetchVenueB)
	if err != nil {
		return types.Opportunity{}, false
	}

	predictAsk, ok1 := yesBook.BestAsk()
	hedgeAsk, ok2 := hedgeBook.BestAsk()
	if !ok1 || !ok2 {
		return types.Opportunity{}, false
	}

	one := decimal.NewFromInt(1)
	fee := feeEstimate(hedgeAsk.Price, market.FeeBps)
	totalCost := predictAsk.Price.Add(hedgeAsk.Price).Add(fee)
	profit := one.Sub(totalCost)
	profitPct := profit // already expressed per $1 notional

	if profitPct.LessThan(s.cfg.MinProfitPct) {
		return types.Opportunity{}, false
	}

	depth := decimal.Min(predictAsk.Size, hedgeAsk.Size)
	if depth.LessThan(s.cfg.MinDepth) {
		return types.Opportunity{}, false
	}

	score := scoreOf(profitPct, depth)

	return types.Opportunity{
		VenueAMarketID:     p.VenueAMarketID,
		YesTokenID:         p.VenueBYesToken,
		NoTokenID:          p.VenueBNoToken,
		Inverted:           p.Inverted,
		PredictTopPrice:    predictAsk.Price,
		HedgeTopPrice:      hedgeAsk.Price,
		ProjectedProfitPct: profitPct,
		ProjectedDepth:     depth,
		Score:              score,
		NegRisk:            market.NegRisk,
		TickSize:           market.TickSize,
		FeeBps:             market.FeeBps,
		ObservedAt:         time.Now(),
	}, true
}

func (s *Scanner) fetchVenueA(ctx context.Context, key obcache.Key) (*types.Orderbook, error) {
	return s.venueA.GetOrderbook(ctx, key.ID)
}

func (s *Scanner) fetchVenueB(ctx context.Context, key obcache.Key) (*types.Orderbook, error) {
	return s.venueB.GetOrderbook(ctx, key.ID)
}

func feeEstimate(price decimal.Decimal, bps int) decimal.Decimal {
	rebate := decimal.NewFromFloat(0.9)
	one := decimal.NewFromInt(1)
	opposite := one.Sub(price)
	minSide := price
	if opposite.LessThan(price) {
		minSide = opposite
	}
	rate := decimal.NewFromInt(int64(bps)).Div(decimal.NewFromInt(10000))
	return rate.Mul(minSide).Mul(rebate)
}

// scoreOf mirrors the teacher's rankMarkets composite: profitPct * sqrt(depth).
func scoreOf(profitPct, depth decimal.Decimal) decimal.Decimal {
	depthF, _ := depth.Float64()
	profitF, _ := profitPct.Float64()
	return decimal.NewFromFloat(profitF * math.Sqrt(math.Max(depthF, 0)))
}

func rank(opps []types.Opportunity) []types.Opportunity {
	sort.Slice(opps, func(i, j int) bool {
		return opps[i].Score.GreaterThan(opps[j].Score)
	})
	return opps
}
