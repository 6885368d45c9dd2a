package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erain9/marketreplica/config"
	"github.com/erain9/marketreplica/pkg/backend/memory"
	redisbackend "github.com/erain9/marketreplica/pkg/backend/redis"
	"github.com/erain9/marketreplica/pkg/core"
	"github.com/erain9/marketreplica/pkg/countdown"
	"github.com/erain9/marketreplica/pkg/db/queue"
	"github.com/erain9/marketreplica/pkg/gateway"
	"github.com/erain9/marketreplica/pkg/logging"
	"github.com/erain9/marketreplica/pkg/messaging"
	"github.com/erain9/marketreplica/pkg/messaging/kafka"
	"github.com/erain9/marketreplica/pkg/otel"
	"github.com/erain9/marketreplica/pkg/replica"
	"github.com/erain9/marketreplica/pkg/server"
	wstransport "github.com/erain9/marketreplica/pkg/transport/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/zap"
	tomb "gopkg.in/tomb.v2"
)

const shutdownTimeout = 5 * time.Second

// transport bundles the event source and request sender of one session
type transport struct {
	source messaging.EventSource
	sender messaging.RequestSender
	close  func() error
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.Setup(logging.Config{Level: cfg.Server.LogLevel, Format: cfg.Server.LogFormat})
	logger := logging.Component("replicad")

	if err := config.LoadEnvFile(cfg.EnvFile); err != nil {
		logger.Fatal().Err(err).Msg("Failed to load env file")
	}
	session, err := config.LoadSession(cfg.SessionFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load session")
	}
	logger = logger.With().Str("pcode", session.PCode).Logger()

	cleanup, err := otel.Init(otel.Config{
		Endpoint:         cfg.Telemetry.Endpoint,
		CollectorEnabled: cfg.Telemetry.Enabled,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize OpenTelemetry")
	}
	defer cleanup()

	if err := run(cfg, session, logger); err != nil {
		logger.Error().Err(err).Msg("Replica stopped")
		cleanup()
		os.Exit(1)
	}
	logger.Info().Msg("Shutdown complete")
}

func run(cfg *config.Config, session config.Session, logger zerolog.Logger) error {
	var t tomb.Tomb
	ctx := t.Context(logger.WithContext(logging.WithPCode(context.Background(), session.PCode)))

	metrics := otel.DefaultReplicaMetrics()

	store, err := newSnapshotStore(cfg)
	if err != nil {
		return err
	}

	rep, restored, err := newReplica(ctx, cfg, session, store, metrics, logger)
	if err != nil {
		return err
	}

	tr, err := dialTransport(ctx, cfg, session.PCode, rep.Seq(), logger)
	if err != nil {
		return err
	}

	gw := gateway.New(tr.sender, session.PCode,
		gateway.WithRateLimit(cfg.Gateway.RPS, cfg.Gateway.Burst),
		gateway.WithLogger(logger),
		gateway.WithMetrics(metrics),
	)

	timer := newCountdown(session, restored, logger)

	feed := server.NewFeed(session.PCode, logger)
	rep.Subscribe(feed)

	handler := server.NewHandler(rep,
		server.WithGateway(gw),
		server.WithCountdown(timer),
		server.WithFeed(feed),
		server.WithCORS(cfg.Server.CORSOrigins),
		server.WithHandlerLogger(logger),
	)
	admin := server.NewAdminServer(logger)

	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.GRPCAddr, err)
	}
	httpServer := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: handler}

	if timer != nil {
		timer.Start(ctx)
	}

	t.Go(func() error {
		admin.SetServing(true)
		handler.SetServing(true)
		defer admin.SetServing(false)
		defer handler.SetServing(false)

		err := rep.Run(ctx, tr.source)
		switch {
		case err == nil:
			// The engine closed the session; keep serving the final state.
			logger.Info().Msg("Session ended")
			return nil
		case errors.Is(err, context.Canceled):
			return nil
		default:
			return err
		}
	})

	t.Go(func() error {
		return admin.Serve(grpcLis)
	})

	t.Go(func() error {
		logger.Info().Str("addr", httpServer.Addr).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if store != nil {
		t.Go(func() error {
			return saveSnapshots(ctx, &t, store, rep, timer, cfg.Snapshot.Interval, logger)
		})
	}

	t.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
			t.Kill(nil)
		case <-t.Dying():
		}
		return nil
	})

	t.Go(func() error {
		<-t.Dying()

		admin.Stop()
		feed.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown error")
		}
		if err := tr.close(); err != nil {
			logger.Warn().Err(err).Msg("Transport close error")
		}
		return nil
	})

	return t.Wait()
}

func newSnapshotStore(cfg *config.Config) (core.SnapshotStore, error) {
	switch cfg.Snapshot.Store {
	case config.StoreMemory:
		return memory.NewMemoryBackend(), nil
	case config.StoreRedis:
		zapLogger, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("failed to create zap logger: %w", err)
		}
		redisbackend.SetDefaultRedisOptions(&redisbackend.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return redisbackend.NewRedisBackend(redisbackend.GetRedisClient(), cfg.Redis.Prefix, cfg.Redis.TTL, zapLogger), nil
	default:
		return nil, nil
	}
}

// newReplica builds a fresh replica from the session seed, or restores the
// stored snapshot when restore is enabled and one exists. The restored
// snapshot is returned too, nil for a fresh replica.
func newReplica(ctx context.Context, cfg *config.Config, session config.Session, store core.SnapshotStore,
	metrics *otel.ReplicaMetrics, logger zerolog.Logger) (*replica.Replicator, *core.Snapshot, error) {
	opts := []replica.Option{
		replica.WithLogger(logger),
		replica.WithMetrics(metrics),
	}

	if store != nil && cfg.Snapshot.Restore {
		snap, err := store.Load(ctx, session.PCode)
		switch {
		case err == nil:
			logger.Info().
				Uint64("seq", snap.Seq).
				Int("bids", len(snap.Bids)).
				Int("asks", len(snap.Asks)).
				Int("trades", len(snap.Trades)).
				Msg("Restoring replica from snapshot")
			rep, err := replica.NewFromSnapshot(snap, opts...)
			if err != nil {
				return nil, nil, err
			}
			return rep, &snap, nil
		case errors.Is(err, core.ErrSnapshotNotFound):
			logger.Info().Msg("No stored snapshot, starting fresh")
		default:
			return nil, nil, fmt.Errorf("failed to load snapshot: %w", err)
		}
	}

	rep, err := replica.New(replica.Config{PCode: session.PCode, Holdings: session.Holdings()}, opts...)
	return rep, nil, err
}

// newCountdown returns nil unless the session has a finite round. A restored
// snapshot carries on from the time it had left.
func newCountdown(session config.Session, restored *core.Snapshot, logger zerolog.Logger) *countdown.Timer {
	if session.RoundSeconds <= 0 {
		return nil
	}
	seconds := session.RoundSeconds
	if restored != nil && restored.TimeRemaining != nil {
		seconds = *restored.TimeRemaining
	}
	return countdown.New(seconds, countdown.OnTick(func(remaining int) {
		if remaining == 0 {
			logger.Info().Msg("Round over")
		}
	}))
}

// dialTransport connects the session's event source and request sender. A
// non-zero resumeSeq is the position of the last envelope the replica has
// already applied.
func dialTransport(ctx context.Context, cfg *config.Config, pcode string, resumeSeq uint64, logger zerolog.Logger) (*transport, error) {
	switch cfg.Transport.Kind {
	case config.TransportWebsocket:
		if resumeSeq != 0 {
			return nil, fmt.Errorf("websocket transport cannot resume from seq %d", resumeSeq)
		}
		s, err := wstransport.Dial(ctx, cfg.Transport.WebsocketURL, nil, logger)
		if err != nil {
			return nil, err
		}
		return &transport{source: s, sender: s, close: s.Close}, nil

	case config.TransportKafka:
		if cfg.Kafka.Client == config.ClientSarama {
			src, err := queue.NewQueueEventSource(cfg.Kafka.Brokers, cfg.Kafka.EventTopic, cfg.Kafka.Partition, resumeSeq)
			if err != nil {
				return nil, err
			}
			sender, err := queue.NewQueueRequestSender(cfg.Kafka.Brokers, cfg.Kafka.RequestTopic, pcode)
			if err != nil {
				_ = src.Close()
				return nil, err
			}
			return &transport{source: src, sender: sender, close: func() error {
				return errors.Join(src.Close(), sender.Close())
			}}, nil
		}

		// Every replica reads the whole event stream, so instances never
		// share a group unless one is configured.
		groupID := cfg.Kafka.GroupID
		if groupID == "" {
			groupID = "replica-" + pcode + "-" + uuid.NewString()
		}
		src := kafka.NewEventSource(cfg.Kafka.Brokers, cfg.Kafka.EventTopic, groupID, logger)
		sender := kafka.NewRequestSender(cfg.Kafka.Brokers, cfg.Kafka.RequestTopic, pcode)
		return &transport{source: src, sender: sender, close: func() error {
			return errors.Join(src.Close(), sender.Close())
		}}, nil

	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport.Kind)
	}
}

// saveSnapshots stores the replica every interval and once more on shutdown.
// timer may be nil.
func saveSnapshots(ctx context.Context, t *tomb.Tomb, store core.SnapshotStore, rep *replica.Replicator,
	timer *countdown.Timer, interval time.Duration, logger zerolog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	save := func(ctx context.Context) {
		snap := rep.Snapshot()
		if timer != nil {
			remaining := timer.Remaining()
			snap.TimeRemaining = &remaining
		}

		ctx, span := otel.StartSnapshotSpan(ctx, rep.PCode())
		err := store.Save(ctx, snap)
		otel.EndSpan(span, err)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to save snapshot")
			return
		}
		logger.Debug().Uint64("seq", snap.Seq).Msg("Snapshot saved")
	}

	for {
		select {
		case <-ticker.C:
			save(ctx)
		case <-t.Dying():
			finalCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			save(finalCtx)
			cancel()
			return nil
		}
	}
}
