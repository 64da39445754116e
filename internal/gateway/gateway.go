// Package gateway defines the capability interfaces for the external asset
// ledgers the settlement engine depends on, together with in-memory
// implementations used by tests and the local single-process mode.
//
// The engine never assumes a transfer's side effects beyond its return
// value: a nil error means the ledger applied the mutation, anything else
// means it applied nothing.
package gateway

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Sentinel errors surfaced verbatim to callers. The engine propagates
// these unwrapped, matching the behavior of the underlying token
// contracts ("Dai/insufficient-allowance" and friends).
var (
	ErrInsufficientBalance   = errors.New("gateway: insufficient balance")
	ErrInsufficientAllowance = errors.New("gateway: insufficient allowance")
	ErrNotApprovedForAll     = errors.New("gateway: operator not approved")
	ErrUnknownToken          = errors.New("gateway: unknown token")
)

// NativeLedger is the native-currency balance ledger. Transfers are
// push-payments: the engine moves attached value between accounts.
type NativeLedger interface {
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
}

// Fungible is the ERC-20 style gateway, addressed by token contract.
// TransferFrom spends the (owner, spender) allowance; Transfer moves the
// caller's own balance.
type Fungible interface {
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, token, owner, spender common.Address, amount *big.Int) error
	Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount *big.Int) error
}

// MultiToken is the ERC-1155 style gateway, addressed by token contract
// and item id. SafeTransferFrom requires the operator to either be the
// owner or hold a standing approval-for-all grant.
type MultiToken interface {
	BalanceOf(ctx context.Context, token, owner common.Address, id *big.Int) (*big.Int, error)
	IsApprovedForAll(ctx context.Context, token, owner, operator common.Address) (bool, error)
	SetApprovalForAll(ctx context.Context, token, owner, operator common.Address, approved bool) error
	SafeTransferFrom(ctx context.Context, token, operator, from, to common.Address, id, amount *big.Int) error
}
