package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// Local addresses of the integration dependencies. DARKPOOL_TEST_REDIS_ADDR
// and DARKPOOL_TEST_KAFKA_ADDR override them.
var (
	RedisAddr = envOr("DARKPOOL_TEST_REDIS_ADDR", "localhost:6379")
	KafkaAddr = envOr("DARKPOOL_TEST_KAFKA_ADDR", "localhost:9092")
)

// KafkaTestTopic is the event topic integration tests publish to.
const KafkaTestTopic = "darkpool-test"

const probeTimeout = 2 * time.Second

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// SkipIfRedisUnavailable skips t unless a Redis server answers PING at addr.
func SkipIfRedisUnavailable(t *testing.T, addr string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
}

// SkipIfKafkaUnavailable skips t unless the broker at addr serves metadata
// for the darkpool test topic.
func SkipIfKafkaUnavailable(t *testing.T, addr string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	conn, err := kafka.DialContext(ctx, "tcp", addr)
	if err != nil {
		t.Skipf("kafka not reachable at %s: %v", addr, err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(probeTimeout))
	partitions, err := conn.ReadPartitions(KafkaTestTopic)
	if err != nil || len(partitions) == 0 {
		t.Skipf("kafka at %s has no %s topic: %v", addr, KafkaTestTopic, err)
	}
}
