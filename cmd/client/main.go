package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/erain9/marketreplica/pkg/core"
	"github.com/erain9/marketreplica/pkg/messaging"
	"github.com/erain9/marketreplica/pkg/replica"
	"github.com/erain9/marketreplica/pkg/server"
	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	serverAddr = flag.String("addr", "http://localhost:8080", "Base URL of the replica's HTTP API")
	timeout    = flag.Duration("timeout", 10*time.Second, "Request timeout")
)

// apiClient talks to the replica's HTTP API
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string, timeout time.Duration) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	flag.Usage = printUsage
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newAPIClient(*serverAddr, *timeout)
	if err := runCommand(ctx, client, os.Stdout, args[0], args[1:]); err != nil {
		log.Fatal().Err(err).Str("command", args[0]).Msg("Command failed")
	}
}

func runCommand(ctx context.Context, client *apiClient, out io.Writer, command string, args []string) error {
	switch command {
	case "state":
		snap, err := client.state(ctx)
		if err != nil {
			return err
		}
		return renderState(out, snap)
	case "stats":
		summary, err := client.stats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "events: %d  mean: %.1fus  p50: %dus  p99: %dus  max: %dus\n",
			summary.Count, summary.MeanUs, summary.P50Us, summary.P99Us, summary.MaxUs)
		return nil
	case "enter":
		req, err := parseEnter(args)
		if err != nil {
			return err
		}
		if err := client.enter(ctx, req); err != nil {
			return err
		}
		log.Info().Int64("price", req.Price).Int64("volume", req.Volume).Bool("is_bid", req.IsBid).Msg("Order sent")
		return nil
	case "cancel", "accept":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s <order_id>", command)
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid order id %q", args[0])
		}
		if err := client.orderAction(ctx, id, command); err != nil {
			return err
		}
		log.Info().Int64("order_id", id).Str("action", command).Msg("Request sent")
		return nil
	case "watch":
		return client.watch(ctx, out)
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

// parseEnter reads: <buy|sell> <price> <volume> <asset>
func parseEnter(args []string) (server.EnterOrderRequest, error) {
	if len(args) != 4 {
		return server.EnterOrderRequest{}, errors.New("usage: enter <buy|sell> <price> <volume> <asset>")
	}

	var req server.EnterOrderRequest
	switch strings.ToLower(args[0]) {
	case "buy", "bid":
		req.IsBid = true
	case "sell", "ask":
	default:
		return req, fmt.Errorf("unknown side %q", args[0])
	}

	var err error
	if req.Price, err = strconv.ParseInt(args[1], 10, 64); err != nil {
		return req, fmt.Errorf("invalid price %q", args[1])
	}
	if req.Volume, err = strconv.ParseInt(args[2], 10, 64); err != nil {
		return req, fmt.Errorf("invalid volume %q", args[2])
	}
	req.AssetName = args[3]
	return req, nil
}

func (c *apiClient) state(ctx context.Context) (core.Snapshot, error) {
	body, err := c.do(ctx, http.MethodGet, "/state", nil, http.StatusOK)
	if err != nil {
		return core.Snapshot{}, err
	}
	return core.UnmarshalSnapshot(body)
}

func (c *apiClient) stats(ctx context.Context) (replica.LatencySummary, error) {
	var summary replica.LatencySummary
	body, err := c.do(ctx, http.MethodGet, "/stats", nil, http.StatusOK)
	if err != nil {
		return summary, err
	}
	err = json.Unmarshal(body, &summary)
	return summary, err
}

func (c *apiClient) enter(ctx context.Context, req server.EnterOrderRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, "/orders", data, http.StatusAccepted)
	return err
}

func (c *apiClient) orderAction(ctx context.Context, id int64, action string) error {
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/orders/%d/%s", id, action), nil, http.StatusAccepted)
	return err
}

func (c *apiClient) do(ctx context.Context, method, path string, body []byte, want int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != want {
		var e server.ErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("%s %s: %s (%d)", method, path, e.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	return data, nil
}

// watch prints every notification from the replica's feed until the feed
// closes or ctx is canceled
func (c *apiClient) watch(ctx context.Context, out io.Writer) error {
	url := "ws" + strings.TrimPrefix(c.base, "http") + "/feed"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", url, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var env messaging.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		ev, err := messaging.Decode(env)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, describeEvent(ev))
	}
}

func describeEvent(ev messaging.Event) string {
	switch e := ev.(type) {
	case messaging.OrderEntered:
		return fmt.Sprintf("%s %s", color.CyanString("entered "), e.Order)
	case messaging.OrderCanceled:
		return fmt.Sprintf("%s %s", color.YellowString("canceled"), e.Order)
	case messaging.TradeConfirmed:
		return fmt.Sprintf("%s %s", color.GreenString("trade   "), e.Trade)
	case messaging.RemoteError:
		return fmt.Sprintf("%s %s", color.RedString("error   "), e.Err.Message)
	default:
		return fmt.Sprintf("unknown %T", ev)
	}
}

func renderState(out io.Writer, snap core.Snapshot) error {
	cyan := color.New(color.FgCyan).SprintfFunc()
	red := color.New(color.FgRed).SprintfFunc()
	green := color.New(color.FgGreen).SprintfFunc()

	fmt.Fprintf(out, "%s %s", cyan("Participant:"), snap.PCode)
	if snap.TimeRemaining != nil {
		fmt.Fprintf(out, "   %s %ds", cyan("Time remaining:"), *snap.TimeRemaining)
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
		cyan("ID"), cyan("Price"), cyan("Volume"), cyan("Asset"), cyan("Trader"), cyan("Side"))

	// Asks print worst first so the spread sits in the middle.
	for i := len(snap.Asks) - 1; i >= 0; i-- {
		o := snap.Asks[i]
		fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\t%s\t\n", o.OrderID, o.Price, o.Volume, o.AssetName, o.PCode, red("ASK"))
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n", "--", "--", "--", "--", "--", "--")
	for _, o := range snap.Bids {
		fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\t%s\t\n", o.OrderID, o.Price, o.Volume, o.AssetName, o.PCode, green("BID"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%s\n", cyan("Trades"))
	for _, t := range snap.Trades {
		fmt.Fprintf(out, "  %.3f  %s  volume %d  makers %d\n", t.Timestamp, t.AssetName, t.TradedVolume(), len(t.MakingOrders))
	}

	h := snap.Holdings
	fmt.Fprintf(out, "\n%s\n", cyan("Holdings"))
	w = tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "%s\t%s\t%s\t\n", "", cyan("Available"), cyan("Settled"))
	fmt.Fprintf(w, "%s\t%s\t%s\t\n", "cash", h.AvailableCash, h.SettledCash)
	for _, name := range h.Assets() {
		fmt.Fprintf(w, "%s\t%s\t%s\t\n", name, h.AvailableAssets[name], h.SettledAssets[name])
	}
	return w.Flush()
}

func printUsage() {
	fmt.Println("Usage: client [-addr http://host:port] <command> [args]")
	fmt.Println("  state                                   Show books, trades and holdings")
	fmt.Println("  stats                                   Show event apply latency")
	fmt.Println("  enter <buy|sell> <price> <volume> <asset>")
	fmt.Println("  cancel <order_id>")
	fmt.Println("  accept <order_id>")
	fmt.Println("  watch                                   Stream confirmations as they arrive")
	fmt.Println("\nExamples:")
	fmt.Println("  client enter buy 100 5 A")
	fmt.Println("  client cancel 42")
}
