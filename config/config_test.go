package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load([]string{"-ws_url", "ws://engine/session"})
	require.NoError(t, err)

	assert.Equal(t, ":50051", cfg.Server.GRPCAddr)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, TransportWebsocket, cfg.Transport.Kind)
	assert.Equal(t, "ws://engine/session", cfg.Transport.WebsocketURL)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, StoreNone, cfg.Snapshot.Store)
	assert.Equal(t, 10*time.Second, cfg.Snapshot.Interval)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoad_Flags(t *testing.T) {
	cfg, err := Load([]string{
		"-grpc_port", "6000",
		"-transport", "kafka",
		"-kafka_brokers", "b1:9092, b2:9092",
		"-kafka_client", "sarama",
		"-snapshot_store", "memory",
		"-session", "/etc/session.yaml",
		"-env_file", "/etc/replica.env",
		"-cors_origins", "http://a.local,http://b.local",
	})
	require.NoError(t, err)

	assert.Equal(t, ":6000", cfg.Server.GRPCAddr)
	assert.Equal(t, TransportKafka, cfg.Transport.Kind)
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, ClientSarama, cfg.Kafka.Client)
	assert.Equal(t, StoreMemory, cfg.Snapshot.Store)
	assert.Equal(t, "/etc/session.yaml", cfg.SessionFile)
	assert.Equal(t, "/etc/replica.env", cfg.EnvFile)
	assert.Equal(t, []string{"http://a.local", "http://b.local"}, cfg.Server.CORSOrigins)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "replicad.yaml", `
server:
  http_addr: ":9090"
  log_level: debug
transport:
  kind: kafka
kafka:
  brokers: ["k1:9092"]
  event_topic: events
  group_id: viewer-1
redis:
  addr: redis:6379
  ttl: 30m
snapshot:
  store: redis
  interval: 5s
  restore: true
telemetry:
  enabled: true
  endpoint: collector:4317
gateway:
  rps: 20
  burst: 5
`)
	cfg, err := Load([]string{"-config", path})
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.HTTPAddr)
	assert.Equal(t, ":50051", cfg.Server.GRPCAddr)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, TransportKafka, cfg.Transport.Kind)
	assert.Equal(t, []string{"k1:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "events", cfg.Kafka.EventTopic)
	assert.Equal(t, "market-requests", cfg.Kafka.RequestTopic)
	assert.Equal(t, "viewer-1", cfg.Kafka.GroupID)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Redis.TTL)
	assert.Equal(t, StoreRedis, cfg.Snapshot.Store)
	assert.Equal(t, 5*time.Second, cfg.Snapshot.Interval)
	assert.True(t, cfg.Snapshot.Restore)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "collector:4317", cfg.Telemetry.Endpoint)
	assert.Equal(t, 20.0, cfg.Gateway.RPS)
	assert.Equal(t, 5, cfg.Gateway.Burst)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"websocket without url", nil},
		{"unknown transport", []string{"-transport", "carrier-pigeon"}},
		{"unknown kafka client", []string{"-transport", "kafka", "-kafka_client", "zmq"}},
		{"unknown store", []string{"-ws_url", "ws://x", "-snapshot_store", "disk"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.args)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_RestoreNeedsKafka(t *testing.T) {
	path := writeFile(t, "replicad.yaml", `
transport:
  kind: websocket
  websocket_url: ws://engine/session
snapshot:
  store: memory
  restore: true
`)
	_, err := Load([]string{"-config", path})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestLoad_BadFlag(t *testing.T) {
	_, err := Load([]string{"-no_such_flag"})
	assert.Error(t, err)
}
