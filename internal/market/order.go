// Package market implements the order escrow and multi-currency
// settlement engine: a fixed-price, first-buyer-wins listing ledger with
// native and approved-token settlement paths and an automatic fee split.
package market

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Order is a seller's fixed-price listing of a quantity of a specific
// multi-token item. All fields except Active are immutable once listed;
// Active flips true→false exactly once, on settlement or cancellation.
type Order struct {
	ID       uint64
	Seller   common.Address
	Token    common.Address
	TokenID  *big.Int
	Amount   *big.Int
	Price    *big.Int
	Deadline time.Time
	Active   bool
}

// snapshot returns a deep copy so callers can never mutate ledger state
// through a read.
func (o *Order) snapshot() Order {
	return Order{
		ID:       o.ID,
		Seller:   o.Seller,
		Token:    o.Token,
		TokenID:  new(big.Int).Set(o.TokenID),
		Amount:   new(big.Int).Set(o.Amount),
		Price:    new(big.Int).Set(o.Price),
		Deadline: o.Deadline,
		Active:   o.Active,
	}
}
