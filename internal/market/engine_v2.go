package market

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/agora-markets/agora/internal/feed"
)

// EngineV2 is the second logic version. It interprets the same state
// layout as v1, so every order created under v1 stays readable and
// actionable, and adds the authorized administrative path for fee
// reconfiguration.
type EngineV2 struct {
	*Engine
	admin common.Address
}

// NewEngineV2 wraps v1 logic with the fee administration surface.
func NewEngineV2(engine *Engine, admin common.Address) *EngineV2 {
	return &EngineV2{Engine: engine, admin: admin}
}

// Name identifies this logic version.
func (e *EngineV2) Name() string { return "marketplace/v2" }

// SetFeeRate updates the fee percentage for future settlements. Only the
// designated admin may call it; orders already settled are unaffected.
func (e *EngineV2) SetFeeRate(ctx context.Context, caller common.Address, rate int64) error {
	if caller != e.admin {
		return ErrUnauthorized
	}
	if err := e.state.setFeeRate(rate); err != nil {
		return err
	}
	e.emit(feed.Event{
		Type:      feed.EventFeeUpdated,
		FeeRate:   rate,
		Timestamp: e.nowFunc(),
	})
	return nil
}
