package core

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/nikolaydubina/fpdecimal"
)

// Holdings is the viewer's balance sheet.
//
// Available amounts are the settled amounts minus what the viewer's own
// resting orders currently reserve.
type Holdings struct {
	AvailableCash   fpdecimal.Decimal
	SettledCash     fpdecimal.Decimal
	AvailableAssets map[string]fpdecimal.Decimal
	SettledAssets   map[string]fpdecimal.Decimal
}

// NewHoldings seeds holdings where available and settled start equal.
func NewHoldings(cash int64, assets map[string]int64) Holdings {
	h := Holdings{
		AvailableCash:   decimalOf(cash),
		SettledCash:     decimalOf(cash),
		AvailableAssets: make(map[string]fpdecimal.Decimal, len(assets)),
		SettledAssets:   make(map[string]fpdecimal.Decimal, len(assets)),
	}
	for name, amount := range assets {
		h.AvailableAssets[name] = decimalOf(amount)
		h.SettledAssets[name] = decimalOf(amount)
	}
	return h
}

// Clone returns a deep copy.
func (h Holdings) Clone() Holdings {
	c := Holdings{
		AvailableCash:   h.AvailableCash,
		SettledCash:     h.SettledCash,
		AvailableAssets: make(map[string]fpdecimal.Decimal, len(h.AvailableAssets)),
		SettledAssets:   make(map[string]fpdecimal.Decimal, len(h.SettledAssets)),
	}
	for k, v := range h.AvailableAssets {
		c.AvailableAssets[k] = v
	}
	for k, v := range h.SettledAssets {
		c.SettledAssets[k] = v
	}
	return c
}

// Assets returns the sorted instrument names known to either asset map.
func (h Holdings) Assets() []string {
	seen := make(map[string]struct{}, len(h.AvailableAssets))
	for k := range h.AvailableAssets {
		seen[k] = struct{}{}
	}
	for k := range h.SettledAssets {
		seen[k] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

type holdingsJSON struct {
	AvailableCash   string            `json:"available_cash"`
	SettledCash     string            `json:"settled_cash"`
	AvailableAssets map[string]string `json:"available_assets"`
	SettledAssets   map[string]string `json:"settled_assets"`
}

// MarshalJSON encodes amounts as decimal strings so they survive round trips exactly.
func (h Holdings) MarshalJSON() ([]byte, error) {
	out := holdingsJSON{
		AvailableCash:   h.AvailableCash.String(),
		SettledCash:     h.SettledCash.String(),
		AvailableAssets: make(map[string]string, len(h.AvailableAssets)),
		SettledAssets:   make(map[string]string, len(h.SettledAssets)),
	}
	for k, v := range h.AvailableAssets {
		out.AvailableAssets[k] = v.String()
	}
	for k, v := range h.SettledAssets {
		out.SettledAssets[k] = v.String()
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler
func (h *Holdings) UnmarshalJSON(data []byte) error {
	var in holdingsJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	var err error
	if h.AvailableCash, err = parseAmount("available_cash", in.AvailableCash); err != nil {
		return err
	}
	if h.SettledCash, err = parseAmount("settled_cash", in.SettledCash); err != nil {
		return err
	}
	if h.AvailableAssets, err = parseAmounts("available_assets", in.AvailableAssets); err != nil {
		return err
	}
	if h.SettledAssets, err = parseAmounts("settled_assets", in.SettledAssets); err != nil {
		return err
	}
	return nil
}

func parseAmount(field, s string) (fpdecimal.Decimal, error) {
	if s == "" {
		return fpdecimal.Zero, nil
	}
	d, err := fpdecimal.FromString(s)
	if err != nil {
		return fpdecimal.Zero, fmt.Errorf("%s %q: %w", field, s, ErrInvalidArgument)
	}
	return d, nil
}

func parseAmounts(field string, in map[string]string) (map[string]fpdecimal.Decimal, error) {
	out := make(map[string]fpdecimal.Decimal, len(in))
	for k, s := range in {
		d, err := parseAmount(field+"."+k, s)
		if err != nil {
			return nil, err
		}
		out[k] = d
	}
	return out, nil
}

// decimalOf converts an integer amount exactly. Amounts up to MaxAmount
// are representable.
func decimalOf(v int64) fpdecimal.Decimal {
	return fpdecimal.FromInt(v)
}

// HoldingsLedger applies the viewer's order and trade confirmations to its
// holdings. It performs no balance checks: confirmations come from the
// matching engine, which is authoritative.
type HoldingsLedger struct {
	h Holdings
}

// NewHoldingsLedger creates a ledger seeded with a copy of initial.
func NewHoldingsLedger(initial Holdings) *HoldingsLedger {
	return &HoldingsLedger{h: initial.Clone()}
}

// OnOwnOrderEntered reserves cash for a bid or assets for an ask.
func (l *HoldingsLedger) OnOwnOrderEntered(order Order) {
	if order.IsBid {
		l.h.AvailableCash = l.h.AvailableCash.Sub(decimalOf(order.Notional()))
		return
	}
	l.addAsset(l.h.AvailableAssets, order.AssetName, -order.Volume)
}

// OnOwnOrderCanceled releases what OnOwnOrderEntered reserved.
func (l *HoldingsLedger) OnOwnOrderCanceled(order Order) {
	if order.IsBid {
		l.h.AvailableCash = l.h.AvailableCash.Add(decimalOf(order.Notional()))
		return
	}
	l.addAsset(l.h.AvailableAssets, order.AssetName, order.Volume)
}

// OnTradeLeg books one executed leg. Available and settled move together:
// the reservation made at entry nets out against the execution here.
func (l *HoldingsLedger) OnTradeLeg(price, tradedVolume int64, isBid bool, asset string) {
	cash := decimalOf(price * tradedVolume)
	volume := tradedVolume
	if !isBid {
		cash = fpdecimal.Zero.Sub(cash)
		volume = -volume
	}

	l.addAsset(l.h.AvailableAssets, asset, volume)
	l.addAsset(l.h.SettledAssets, asset, volume)
	l.h.AvailableCash = l.h.AvailableCash.Sub(cash)
	l.h.SettledCash = l.h.SettledCash.Sub(cash)
}

// Snapshot returns a deep copy of the current holdings.
func (l *HoldingsLedger) Snapshot() Holdings {
	return l.h.Clone()
}

func (l *HoldingsLedger) addAsset(m map[string]fpdecimal.Decimal, asset string, delta int64) {
	m[asset] = m[asset].Add(decimalOf(delta))
}
