package core

import (
	"fmt"
	"strings"
)

// OrderBook keeps the resting orders of one side in priority order.
//
// Bids are sorted by price descending, asks by price ascending, and both
// break price ties by earliest timestamp. The book is a plain slice: books are
// bounded by the participants in one market, so the linear insert and
// removal scans stay short.
type OrderBook struct {
	side   Side
	orders []Order
}

// NewOrderBook creates an empty book for the given side
func NewOrderBook(side Side) *OrderBook {
	return &OrderBook{
		side:   side,
		orders: make([]Order, 0),
	}
}

// Side returns the side of the book
func (ob *OrderBook) Side() Side {
	return ob.side
}

// Len returns the number of resting orders
func (ob *OrderBook) Len() int {
	return len(ob.orders)
}

// Orders returns a copy of the resting orders in priority order
func (ob *OrderBook) Orders() []Order {
	orders := make([]Order, len(ob.orders))
	copy(orders, ob.orders)
	return orders
}

// Best returns the order at the top of the book
func (ob *OrderBook) Best() (Order, bool) {
	if len(ob.orders) == 0 {
		return Order{}, false
	}
	return ob.orders[0], true
}

// Contains reports whether an order with the given id is resting in the book
func (ob *OrderBook) Contains(orderID int64) bool {
	return ob.indexOf(orderID) >= 0
}

// Find returns the resting order with the given id
func (ob *OrderBook) Find(orderID int64) (Order, bool) {
	idx := ob.indexOf(orderID)
	if idx < 0 {
		return Order{}, false
	}
	return ob.orders[idx], true
}

// Insert places the order in front of the first resting order that does not
// have strictly better priority than it.
func (ob *OrderBook) Insert(order Order) {
	idx := len(ob.orders)
	for i, resting := range ob.orders {
		if !ob.ahead(resting, order) {
			idx = i
			break
		}
	}

	ob.orders = append(ob.orders, Order{})
	copy(ob.orders[idx+1:], ob.orders[idx:])
	ob.orders[idx] = order
}

// Remove deletes the order with the given id and returns it. A missing id
// leaves the book untouched and returns ErrNonexistentOrder.
func (ob *OrderBook) Remove(orderID int64) (Order, error) {
	idx := ob.indexOf(orderID)
	if idx < 0 {
		return Order{}, fmt.Errorf("%s book, order %d: %w", ob.side, orderID, ErrNonexistentOrder)
	}

	removed := ob.orders[idx]
	ob.orders = append(ob.orders[:idx], ob.orders[idx+1:]...)
	return removed, nil
}

// String implements fmt.Stringer interface
func (ob *OrderBook) String() string {
	sb := strings.Builder{}
	sb.WriteString(ob.side.String())
	for _, o := range ob.orders {
		sb.WriteString(fmt.Sprintf("\n%d -> id: %d, volume: %d, ts: %f", o.Price, o.OrderID, o.Volume, o.Timestamp))
	}
	return sb.String()
}

// ahead reports whether a has strictly better priority than b on this side.
func (ob *OrderBook) ahead(a, b Order) bool {
	if a.Price != b.Price {
		if ob.side == Buy {
			return a.Price > b.Price
		}
		return a.Price < b.Price
	}
	return a.Timestamp < b.Timestamp
}

func (ob *OrderBook) indexOf(orderID int64) int {
	for i, o := range ob.orders {
		if o.OrderID == orderID {
			return i
		}
	}
	return -1
}
