package main

import (
	"math/rand"

	"github.com/erain9/marketreplica/pkg/core"
	"github.com/erain9/marketreplica/pkg/messaging"
)

const loadAsset = "A"

// feedGenerator produces a self-consistent confirmation stream: cancels and
// trades only reference orders it previously entered, and resting bids never
// cross resting asks.
type feedGenerator struct {
	rng    *rand.Rand
	pcodes []string
	bids   *core.OrderBook
	asks   *core.OrderBook
	nextID int64
	clock  float64
}

func newFeedGenerator(seed int64, pcodes []string) *feedGenerator {
	return &feedGenerator{
		rng:    rand.New(rand.NewSource(seed)),
		pcodes: pcodes,
		bids:   core.NewOrderBook(core.Buy),
		asks:   core.NewOrderBook(core.Sell),
	}
}

func (g *feedGenerator) generate(n int) []messaging.Event {
	events := make([]messaging.Event, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, g.next())
	}
	return events
}

func (g *feedGenerator) next() messaging.Event {
	g.clock += 0.001
	roll := g.rng.Float64()

	if roll < 0.15 {
		if ev, ok := g.cancel(); ok {
			return ev
		}
	}
	if roll < 0.35 {
		if ev, ok := g.trade(); ok {
			return ev
		}
	}
	return g.enter()
}

func (g *feedGenerator) order(isBid bool, price, volume int64) core.Order {
	g.nextID++
	return core.Order{
		OrderID:   g.nextID,
		Timestamp: g.clock,
		Price:     price,
		Volume:    volume,
		IsBid:     isBid,
		PCode:     g.pcodes[g.rng.Intn(len(g.pcodes))],
		AssetName: loadAsset,
	}
}

func (g *feedGenerator) enter() messaging.Event {
	isBid := g.rng.Intn(2) == 0
	price := 101 + g.rng.Int63n(10)
	if isBid {
		price = 90 + g.rng.Int63n(10)
	}

	o := g.order(isBid, price, 1+g.rng.Int63n(20))
	g.book(isBid).Insert(o)
	return messaging.OrderEntered{Order: o}
}

func (g *feedGenerator) cancel() (messaging.Event, bool) {
	book := g.book(g.rng.Intn(2) == 0)
	if book.Len() == 0 {
		return nil, false
	}
	orders := book.Orders()
	o := orders[g.rng.Intn(len(orders))]
	if _, err := book.Remove(o.OrderID); err != nil {
		return nil, false
	}
	return messaging.OrderCanceled{Order: o}, true
}

// trade fills the best resting order of a random side in full
func (g *feedGenerator) trade() (messaging.Event, bool) {
	takerIsBid := g.rng.Intn(2) == 0
	book := g.book(!takerIsBid)
	maker, ok := book.Best()
	if !ok {
		return nil, false
	}
	if _, err := book.Remove(maker.OrderID); err != nil {
		return nil, false
	}

	maker.TradedVolume = maker.Volume
	taker := g.order(takerIsBid, maker.Price, maker.Volume)
	taker.TradedVolume = maker.Volume
	return messaging.TradeConfirmed{Trade: core.Trade{
		Timestamp:    g.clock,
		AssetName:    loadAsset,
		TakingOrder:  taker,
		MakingOrders: []core.Order{maker},
	}}, true
}

func (g *feedGenerator) book(isBid bool) *core.OrderBook {
	if isBid {
		return g.bids
	}
	return g.asks
}
