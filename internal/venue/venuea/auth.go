// Package venuea implements the Venue-A gateway: authenticated REST order
// submission/cancellation/status, orderbook/market-info reads with caching,
// and a block-event fill-subscription tail.
package venuea

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"

	"arb-engine/pkg/types"
)

// Auth signs EIP-712 typed orders and maintains the bearer token used for
// authenticated trading endpoints (spec §4.1 "Protocols").
//
// The L1 signature (wallet-owned EOA) proves control of the account once, at
// challenge time; a smart-wallet/proxy signature may differ from the signer's
// own address — the contract this type offers callers is "produces an auth
// header the venue accepts", nothing more specific than that.
type Auth struct {
	privateKey    *ecdsa.PrivateKey
	address       common.Address
	funderAddress common.Address
	chainID       *big.Int
	sigType       types.SignatureType

	mu          sync.Mutex
	bearerToken string
	expiresAt   time.Time
	slack       time.Duration
}

// NewAuth builds an Auth from a hex-encoded private key.
func NewAuth(privateKeyHex, funderAddress string, chainID int64, sigType types.SignatureType, jwtSlack time.Duration) (*Auth, error) {
	keyHex := privateKeyHex
	if len(keyHex) >= 2 && keyHex[:2] == "0x" {
		keyHex = keyHex[2:]
	}
	privKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	addr := crypto.PubkeyToAddress(privKey.PublicKey)

	funder := addr
	if funderAddress != "" {
		funder = common.HexToAddress(funderAddress)
	}

	return &Auth{
		privateKey:    privKey,
		address:       addr,
		funderAddress: funder,
		chainID:       big.NewInt(chainID),
		sigType:       sigType,
		slack:         jwtSlack,
	}, nil
}

// Address returns the signer's address.
func (a *Auth) Address() common.Address { return a.address }

// FunderAddress returns the funder/proxy wallet address.
func (a *Auth) FunderAddress() common.Address { return a.funderAddress }

// ChainID returns the configured chain id.
func (a *Auth) ChainID() *big.Int { return a.chainID }

// BearerHeader returns the cached bearer token header, refreshing it first if
// it is absent or within slack of expiry. refresh is called with the mutex
// held so concurrent callers queue behind the single in-flight refresh
// (spec §5 "Venue-A JWT").
func (a *Auth) BearerHeader(ctx context.Context, refresh func(ctx context.Context) (string, time.Time, error)) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.bearerToken == "" || time.Now().Add(a.slack).After(a.expiresAt) {
		token, exp, err := refresh(ctx)
		if err != nil {
			return "", fmt.Errorf("refresh bearer token: %w", err)
		}
		a.bearerToken = token
		a.expiresAt = exp
	}
	return "Bearer " + a.bearerToken, nil
}

// Invalidate drops the cached token, forcing the next BearerHeader call to
// reauthenticate. Called by the client on a 401/403 response.
func (a *Auth) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bearerToken = ""
}

// SignChallenge produces the EIP-712 signature over the venue's auth
// challenge message, used to derive the bearer token.
func (a *Auth) SignChallenge(timestamp string, nonce int) (string, error) {
	sig, err := a.SignTypedData(
		&apitypes.TypedDataDomain{
			Name:    "VenueAAuthDomain",
			Version: "1",
			ChainId: (*ethmath.HexOrDecimal256)(new(big.Int).Set(a.chainID)),
		},
		apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"AuthChallenge": {
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		apitypes.TypedDataMessage{
			"address":   a.address.Hex(),
			"timestamp": timestamp,
			"nonce":     fmt.Sprintf("%d", nonce),
			"message":   "This message attests that I control the given wallet",
		},
		"AuthChallenge",
	)
	if err != nil {
		return "", fmt.Errorf("sign challenge: %w", err)
	}
	return "0x" + common.Bytes2Hex(sig), nil
}

// SignTypedData signs EIP-712 typed data and adjusts V to 27/28.
func (a *Auth) SignTypedData(domain *apitypes.TypedDataDomain, typesDef apitypes.Types, message apitypes.TypedDataMessage, primaryType string) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       typesDef,
		PrimaryType: primaryType,
		Domain:      *domain,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("typed data hash: %w", err)
	}

	sig, err := crypto.Sign(hash, a.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// PriceToAmounts converts a human price and size to fixed-point maker/taker
// amounts scaled to 1e6: size is truncated to 2 decimals and the notional to
// the tick's AmountDecimals. The results are not aligned to any coarser unit
// (for example, 0.50 x 100 gives 50000000, not a multiple of 1e13).
func PriceToAmounts(price, size decimal.Decimal, side types.Direction, tick types.TickSize) (maker, taker *big.Int) {
	scale := decimal.New(1, 6)
	amtDecimals := int32(tick.AmountDecimals())

	sizeRounded := size.Truncate(2)

	switch side {
	case types.BUY:
		cost := sizeRounded.Mul(price).Truncate(amtDecimals)
		maker = cost.Mul(scale).Truncate(0).BigInt()
		taker = sizeRounded.Mul(scale).Truncate(0).BigInt()
	case types.SELL:
		maker = sizeRounded.Mul(scale).Truncate(0).BigInt()
		revenue := sizeRounded.Mul(price).Truncate(amtDecimals)
		taker = revenue.Mul(scale).Truncate(0).BigInt()
	}
	return maker, taker
}
