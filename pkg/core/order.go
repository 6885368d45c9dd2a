package core

import (
	"encoding/json"
	"fmt"
)

// Side represents buy or sell side of the order
type Side int

// Order sides
const (
	Sell Side = iota
	Buy
)

// String returns side as string
func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// SideOf maps the wire is_bid flag to a Side.
func SideOf(isBid bool) Side {
	if isBid {
		return Buy
	}
	return Sell
}

// Order is an order as confirmed by the matching engine.
//
// OrderID is unique among the orders resting in either book. TradedVolume is
// only meaningful when the order is carried inside a Trade.
type Order struct {
	Timestamp    float64 `json:"timestamp"`
	Price        int64   `json:"price"`
	Volume       int64   `json:"volume"`
	IsBid        bool    `json:"is_bid"`
	PCode        string  `json:"pcode"`
	TradedVolume int64   `json:"traded_volume"`
	OrderID      int64   `json:"order_id"`
	AssetName    string  `json:"asset_name"`
}

// Side returns side of the Order
func (o Order) Side() Side {
	return SideOf(o.IsBid)
}

// Notional returns price*volume of the resting order.
func (o Order) Notional() int64 {
	return o.Price * o.Volume
}

// Validate rejects orders that cannot be placed in a book.
func (o Order) Validate() error {
	if o.Volume < 0 {
		return fmt.Errorf("order %d: %w", o.OrderID, ErrInvalidVolume)
	}
	if o.Price < 0 {
		return fmt.Errorf("order %d: %w", o.OrderID, ErrInvalidPrice)
	}
	if !withinAmount(o.Price, o.Volume) {
		return fmt.Errorf("order %d: notional: %w", o.OrderID, ErrAmountOverflow)
	}
	return nil
}

// withinAmount reports whether price*volume fits in MaxAmount. Both must be
// non-negative.
func withinAmount(price, volume int64) bool {
	if volume > MaxAmount || price > MaxAmount {
		return false
	}
	return volume == 0 || price <= MaxAmount/volume
}

// String implements Stringer interface
func (o Order) String() string {
	j, _ := json.Marshal(o)
	return string(j)
}
