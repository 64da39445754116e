package feed

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType identifies a marketplace lifecycle event.
type EventType string

const (
	EventListed     EventType = "listed"
	EventSettled    EventType = "settled"
	EventCancelled  EventType = "cancelled"
	EventFeeUpdated EventType = "fee_updated"
	EventSwapped    EventType = "swapped"
)

// Event is the unified marketplace event published to all feed consumers
// (websocket clients, the Redis writer, metrics).
type Event struct {
	Type      EventType      `json:"type"`
	OrderID   uint64         `json:"order_id,omitempty"`
	Seller    common.Address `json:"seller,omitempty"`
	Buyer     common.Address `json:"buyer,omitempty"`
	Token     common.Address `json:"token,omitempty"`
	TokenID   *big.Int       `json:"token_id,omitempty"`
	Amount    *big.Int       `json:"amount,omitempty"`
	Price     *big.Int       `json:"price,omitempty"`
	// Currency is the settlement currency; the zero address means native.
	Currency  common.Address `json:"currency,omitempty"`
	FeeRate   int64          `json:"fee_rate,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sink receives marketplace events. Publish must never block the caller;
// implementations drop on backpressure rather than stall a settlement.
type Sink interface {
	Publish(Event)
}
