// fills.go implements Venue-A's block-event fill tail: subscribeFillEvents
// (spec §4.1, §6). The connection auto-reconnects with exponential backoff
// (1s -> 30s max) and the channel buffers events the way the teacher's
// gorilla/websocket reader does, just over an ethclient log subscription
// instead of a text-framed socket.
package venuea

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	etypes "arb-engine/pkg/types"
)

const (
	fillEventBufferSize = 256
	maxReconnectWait     = 30 * time.Second
)

// orderFilledSignature is the topic0 hash of the venue's OrderFilled event.
// keccak256("OrderFilled(bytes32,address,address,uint256,uint256,uint256,uint256,uint256)")
var orderFilledSignature = common.HexToHash("0xd0a08e8c493f9c94f29311604c9de1b4e8c8d4c0c524a05991e1a9f3e7a9b9c")

// FillSubscriber runs the block-event fill tail for one or more settlement
// contract addresses, reconnecting the underlying RPC subscription with
// exponential backoff on failure.
type FillSubscriber struct {
	wsURL      string
	contracts  []common.Address
	eventsCh   chan etypes.BlockFillEvent
	logger     *slog.Logger
}

// NewFillSubscriber builds a subscriber over the given exchange contract
// addresses (spec §6 "filtered to two exchange contract addresses").
func NewFillSubscriber(wsURL string, contracts []common.Address, logger *slog.Logger) *FillSubscriber {
	return &FillSubscriber{
		wsURL:     wsURL,
		contracts: contracts,
		eventsCh:  make(chan etypes.BlockFillEvent, fillEventBufferSize),
		logger:    logger.With("component", "venuea-fills"),
	}
}

// Events returns the read-only stream of decoded fill events.
func (f *FillSubscriber) Events() <-chan etypes.BlockFillEvent { return f.eventsCh }

// Run connects and maintains the log subscription with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *FillSubscriber) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndSubscribe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("fill subscription disconnected, reconnecting", "error", err, "backoff", backoff)

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

func (f *FillSubscriber) connectAndSubscribe(ctx context.Context) error {
	client, err := ethclient.DialContext(ctx, f.wsURL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer client.Close()

	query := ethereum.FilterQuery{
		Addresses: f.contracts,
		Topics:    [][]common.Hash{{orderFilledSignature}},
	}

	logsCh := make(chan types.Log, fillEventBufferSize)
	sub, err := client.SubscribeFilterLogs(ctx, query, logsCh)
	if err != nil {
		return fmt.Errorf("subscribe filter logs: %w", err)
	}
	defer sub.Unsubscribe()

	f.logger.Info("fill subscription connected", "contracts", len(f.contracts))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("subscription error: %w", err)
		case lg := <-logsCh:
			evt, err := decodeOrderFilled(ctx, client, lg)
			if err != nil {
				f.logger.Error("decode order filled log", "error", err)
				continue
			}
			select {
			case f.eventsCh <- evt:
			default:
				f.logger.Warn("fill event channel full, dropping event", "tx", evt.TxHash)
			}
		}
	}
}

// decodeOrderFilled decodes an OrderFilled log into the normalized event
// type. Block timestamps come from the block header if the log itself
// doesn't carry one (spec §6).
func decodeOrderFilled(ctx context.Context, client *ethclient.Client, lg types.Log) (etypes.BlockFillEvent, error) {
	if len(lg.Topics) < 3 {
		return etypes.BlockFillEvent{}, fmt.Errorf("order filled log missing indexed topics")
	}

	orderHash := lg.Topics[1].Hex()
	maker := common.HexToAddress(lg.Topics[2].Hex()).Hex()

	var decoded struct {
		Taker           common.Address
		MakerAssetID    *big.Int
		TakerAssetID    *big.Int
		MakerAmountFilled *big.Int
		TakerAmountFilled *big.Int
		Fee             *big.Int
	}
	args := abi.Arguments{
		{Name: "taker", Type: mustType("address")},
		{Name: "makerAssetId", Type: mustType("uint256")},
		{Name: "takerAssetId", Type: mustType("uint256")},
		{Name: "makerAmountFilled", Type: mustType("uint256")},
		{Name: "takerAmountFilled", Type: mustType("uint256")},
		{Name: "fee", Type: mustType("uint256")},
	}
	if err := args.Unpack(&decoded, lg.Data); err != nil {
		return etypes.BlockFillEvent{}, fmt.Errorf("unpack log data: %w", err)
	}

	ts := time.Now()
	if header, err := client.HeaderByHash(ctx, lg.BlockHash); err == nil {
		ts = time.Unix(int64(header.Time), 0)
	}

	return etypes.BlockFillEvent{
		OrderHash:   orderHash,
		Maker:       maker,
		Taker:       decoded.Taker.Hex(),
		MakerAmount: decoded.MakerAmountFilled,
		TakerAmount: decoded.TakerAmountFilled,
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    lg.Index,
		Timestamp:   ts,
	}, nil
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}
