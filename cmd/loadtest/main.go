package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/erain9/marketreplica/pkg/core"
	"github.com/erain9/marketreplica/pkg/messaging"
	"github.com/erain9/marketreplica/pkg/replica"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type result struct {
	pcode   string
	summary replica.LatencySummary
	bids    []core.Order
	asks    []core.Order
	trades  int
	err     error
}

func main() {
	participants := flag.Int("participants", 50, "Number of replicas, one per participant")
	events := flag.Int("events", 100000, "Number of confirmations in the generated feed")
	eventRate := flag.Float64("rate", 0, "Events per second per replica, 0 for unlimited")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Feed generator seed")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		log.Info().Msg("Received interrupt signal, cleaning up...")
		cancel()
	}()

	pcodes := make([]string, *participants)
	for i := range pcodes {
		pcodes[i] = fmt.Sprintf("p%d", i)
	}
	feed := newFeedGenerator(*seed, pcodes).generate(*events)
	log.Info().Int("events", len(feed)).Int("participants", len(pcodes)).Int64("seed", *seed).Msg("Generated feed")

	start := time.Now()
	results := replay(ctx, feed, pcodes, *eventRate)
	duration := time.Since(start)

	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			log.Error().Err(r.err).Str("pcode", r.pcode).Msg("Replica failed")
		}
	}
	mismatches := diverged(results)

	total := len(feed) * len(pcodes)
	log.Info().
		Dur("duration", duration).
		Int("applied", total).
		Float64("events_per_sec", float64(total)/duration.Seconds()).
		Msg("Load test completed")
	if len(results) > 0 {
		s := results[0].summary
		log.Info().
			Str("pcode", results[0].pcode).
			Float64("mean_us", s.MeanUs).
			Int64("p50_us", s.P50Us).
			Int64("p99_us", s.P99Us).
			Int64("max_us", s.MaxUs).
			Msg("Apply latency")
	}

	if failed > 0 || mismatches > 0 {
		log.Error().Int("failed", failed).Int("diverged", mismatches).Msg("Replicas disagree")
		os.Exit(1)
	}
}

// replay runs one replica per participant over the same feed
func replay(ctx context.Context, feed []messaging.Event, pcodes []string, eventRate float64) []result {
	results := make([]result, len(pcodes))
	var wg sync.WaitGroup

	for i, pcode := range pcodes {
		wg.Add(1)
		go func(i int, pcode string) {
			defer wg.Done()
			results[i] = replayOne(ctx, feed, pcode, eventRate)
		}(i, pcode)
	}

	wg.Wait()
	return results
}

func replayOne(ctx context.Context, feed []messaging.Event, pcode string, eventRate float64) result {
	res := result{pcode: pcode}

	rep, err := replica.New(replica.Config{
		PCode:    pcode,
		Holdings: core.NewHoldings(1_000_000, map[string]int64{loadAsset: 10_000}),
	}, replica.WithLogger(zerolog.Nop()))
	if err != nil {
		res.err = err
		return res
	}

	var limiter *rate.Limiter
	if eventRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(eventRate), 1)
	}

	for _, ev := range feed {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				res.err = fmt.Errorf("rate limiter error: %w", err)
				return res
			}
		}
		if err := rep.Apply(ctx, ev); err != nil {
			res.err = fmt.Errorf("apply %s: %w", ev.Kind(), err)
			return res
		}
	}

	res.summary = rep.Stats().Summary()
	res.bids = rep.Bids()
	res.asks = rep.Asks()
	res.trades = len(rep.Trades())
	return res
}

// diverged counts replicas whose books differ from the first one
func diverged(results []result) int {
	if len(results) == 0 {
		return 0
	}
	ref := results[0]
	n := 0
	for _, r := range results[1:] {
		if r.trades != ref.trades || !sameOrders(r.bids, ref.bids) || !sameOrders(r.asks, ref.asks) {
			n++
		}
	}
	return n
}

func sameOrders(a, b []core.Order) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
