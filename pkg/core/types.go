package core

import (
	"encoding/json"
	"fmt"
)

// Trade is an executed trade: one taker matched against one or more makers.
// Each maker carries its own entry timestamp and the volume consumed from it.
type Trade struct {
	Timestamp    float64 `json:"timestamp"`
	AssetName    string  `json:"asset_name"`
	TakingOrder  Order   `json:"taking_order"`
	MakingOrders []Order `json:"making_orders"`
}

// TradedVolume returns the total volume consumed from all makers.
func (t Trade) TradedVolume() int64 {
	var total int64
	for _, m := range t.MakingOrders {
		total += m.TradedVolume
	}
	return total
}

// Validate rejects trades whose legs cannot be accounted for.
func (t Trade) Validate() error {
	for _, m := range t.MakingOrders {
		if m.TradedVolume < 0 {
			return fmt.Errorf("making order %d: %w", m.OrderID, ErrInvalidVolume)
		}
		if m.Price < 0 {
			return fmt.Errorf("making order %d: %w", m.OrderID, ErrInvalidPrice)
		}
		if !withinAmount(m.Price, m.TradedVolume) {
			return fmt.Errorf("making order %d: traded value: %w", m.OrderID, ErrAmountOverflow)
		}
	}
	return nil
}

// clone copies the making orders so a stored trade never aliases the caller's slice.
func (t Trade) clone() Trade {
	makers := make([]Order, len(t.MakingOrders))
	copy(makers, t.MakingOrders)
	t.MakingOrders = makers
	return t
}

// String implements Stringer interface
func (t Trade) String() string {
	j, _ := json.Marshal(t)
	return string(j)
}

// RemoteError is an error reported by the matching engine for one participant.
type RemoteError struct {
	PCode   string `json:"pcode"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e RemoteError) Error() string {
	return fmt.Sprintf("remote error for %s: %s", e.PCode, e.Message)
}
