package testutil

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// DockerContainer is a throwaway container started for a test
type DockerContainer struct {
	ID       string
	Name     string
	HostPort string
}

// Addr returns the host address of the container's published port
func (c *DockerContainer) Addr() string {
	return "localhost:" + c.HostPort
}

// StartRedisContainer starts redis:alpine on hostPort and waits for PING
func StartRedisContainer(ctx context.Context, hostPort string) (*DockerContainer, error) {
	name := fmt.Sprintf("marketreplica-redis-test-%d", time.Now().UnixNano())

	cmd := exec.CommandContext(ctx, "docker", "run", "--rm", "-d",
		"--name", name,
		"-p", hostPort+":6379",
		"redis:alpine")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to start Redis container: %w, output: %s", err, output)
	}

	container := &DockerContainer{
		ID:       strings.TrimSpace(string(output)),
		Name:     name,
		HostPort: hostPort,
	}

	client := redis.NewClient(&redis.Options{Addr: container.Addr()})
	defer client.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	for {
		if _, err := client.Ping(pingCtx).Result(); err == nil {
			return container, nil
		}
		select {
		case <-pingCtx.Done():
			_ = container.Stop(context.Background())
			return nil, fmt.Errorf("timed out waiting for Redis to be ready")
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// Stop removes the container
func (c *DockerContainer) Stop(ctx context.Context) error {
	output, err := exec.CommandContext(ctx, "docker", "rm", "-f", c.ID).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to stop container %s: %w, output: %s", c.ID, err, output)
	}
	return nil
}

// WithRedis runs fn against a fresh Redis container, skipping the test when
// Docker is unavailable. The container is removed when the test ends.
func WithRedis(t testing.TB, fn func(redisAddr string)) {
	t.Helper()

	container, err := StartRedisContainer(context.Background(), "6380")
	if err != nil {
		t.Skip("Skipping test: could not start Redis container:", err)
		return
	}
	t.Cleanup(func() {
		_ = container.Stop(context.Background())
	})

	fn(container.Addr())
}
