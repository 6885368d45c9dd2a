package core

// TradeLedger keeps settled trades sorted by ascending timestamp.
type TradeLedger struct {
	trades []Trade
}

// NewTradeLedger creates an empty ledger
func NewTradeLedger() *TradeLedger {
	return &TradeLedger{trades: make([]Trade, 0)}
}

// Insert stores the trade before the first trade with a later timestamp.
// Trades sharing a timestamp keep their arrival order.
func (l *TradeLedger) Insert(trade Trade) {
	idx := len(l.trades)
	for i, t := range l.trades {
		if t.Timestamp > trade.Timestamp {
			idx = i
			break
		}
	}

	l.trades = append(l.trades, Trade{})
	copy(l.trades[idx+1:], l.trades[idx:])
	l.trades[idx] = trade.clone()
}

// Len returns the number of trades
func (l *TradeLedger) Len() int {
	return len(l.trades)
}

// Trades returns a copy of the ledger in timestamp order
func (l *TradeLedger) Trades() []Trade {
	trades := make([]Trade, len(l.trades))
	for i, t := range l.trades {
		trades[i] = t.clone()
	}
	return trades
}

// Last returns the most recent trade
func (l *TradeLedger) Last() (Trade, bool) {
	if len(l.trades) == 0 {
		return Trade{}, false
	}
	return l.trades[len(l.trades)-1].clone(), true
}
