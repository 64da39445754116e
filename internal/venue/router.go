// Package venue wraps the external liquidity venue used to convert
// native currency into fungible tokens, and implements the stateless
// swap relay that fronts it.
package venue

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrSlippageExceeded = errors.New("slippage exceeded")
	ErrUnknownPair      = errors.New("venue: unknown pair")
	ErrInvalidSwap      = errors.New("venue: invalid swap")
)

// Router is the liquidity venue's pricing and execution surface,
// mirroring the router contracts it models: a quote over a path of token
// addresses, and an execution entry point that either delivers at least
// amountOutMin to the recipient or fails.
type Router interface {
	// GetAmountsOut quotes amountIn through the path; the last element
	// of the result is the expected output amount.
	GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error)

	// SwapExactNativeForTokens spends value native currency from payer
	// and delivers at least amountOutMin of the terminal path token to
	// the recipient, or fails without effect.
	SwapExactNativeForTokens(ctx context.Context, payer common.Address, value, amountOutMin *big.Int, path []common.Address, to common.Address, deadline time.Time) (*big.Int, error)
}
