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

// DockerContainer is a container started for a test.
type DockerContainer struct {
	ID        string
	Name      string
	Type      string
	HostPort  string
	StartedAt time.Time
}

// Addr is the container's host address.
func (c *DockerContainer) Addr() string {
	return "localhost:" + c.HostPort
}

func runContainer(ctx context.Context, typ, hostPort string, args ...string) (*DockerContainer, error) {
	name := fmt.Sprintf("darkpool-%s-test-%d", typ, time.Now().UnixNano())
	cmdArgs := append([]string{"run", "--rm", "-d", "--name", name}, args...)
	output, err := exec.CommandContext(ctx, "docker", cmdArgs...).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to start %s container: %w, output: %s", typ, err, output)
	}
	return &DockerContainer{
		ID:        strings.TrimSpace(string(output)),
		Name:      name,
		Type:      typ,
		HostPort:  hostPort,
		StartedAt: time.Now(),
	}, nil
}

// StartRedisContainer starts a Redis container on host port 6380 and waits
// until it answers PING.
func StartRedisContainer(ctx context.Context) (*DockerContainer, error) {
	container, err := runContainer(ctx, "redis", "6380", "-p", "6380:6379", "redis:alpine")
	if err != nil {
		return nil, err
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

// StartKafkaContainer starts a single-node KRaft Kafka broker on host port
// 9092 and creates KafkaTestTopic.
func StartKafkaContainer(ctx context.Context) (*DockerContainer, error) {
	container, err := runContainer(ctx, "kafka", "9092", "-p", "9092:9092", "apache/kafka:latest")
	if err != nil {
		return nil, err
	}

	for i := 0; i < 40; i++ {
		create := exec.CommandContext(ctx,
			"docker", "exec", container.Name,
			"/opt/kafka/bin/kafka-topics.sh", "--create", "--if-not-exists",
			"--bootstrap-server", "localhost:9092",
			"--replication-factor", "1",
			"--partitions", "1",
			"--topic", KafkaTestTopic,
		)
		if err := create.Run(); err == nil {
			return container, nil
		}
		select {
		case <-ctx.Done():
			_ = container.Stop(context.Background())
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	_ = container.Stop(context.Background())
	return nil, fmt.Errorf("timed out waiting for Kafka to be ready")
}

// Stop removes the container.
func (c *DockerContainer) Stop(ctx context.Context) error {
	output, err := exec.CommandContext(ctx, "docker", "rm", "-f", c.ID).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to stop container %s: %w, output: %s", c.ID, err, output)
	}
	return nil
}

// WithRedis runs testFunc against a Redis reachable at RedisAddr, or a
// throwaway container when none is. The test is skipped if neither works.
func WithRedis(t testing.TB, testFunc func(redisAddr string)) {
	t.Helper()
	if redisReachable(RedisAddr) {
		testFunc(RedisAddr)
		return
	}

	container, err := StartRedisContainer(context.Background())
	if err != nil {
		t.Skip("Skipping test: could not start Redis container:", err)
		return
	}
	t.Cleanup(func() { _ = container.Stop(context.Background()) })
	testFunc(container.Addr())
}

func redisReachable(addr string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	return client.Ping(ctx).Err() == nil
}
