package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/erain9/darkpool/pkg/db/queue"
	"github.com/erain9/darkpool/pkg/messaging"
	"github.com/erain9/darkpool/pkg/messaging/kafka"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Event sources.
const (
	sourceKafka = "kafka"
	sourceQueue = "queue"
)

// eventSource is a consumer of published darkpool events.
type eventSource interface {
	Consume(ctx context.Context, handler func(*messaging.Event) error) error
	Close() error
}

type kafkaSource struct{ *kafka.EventConsumer }

func (s kafkaSource) Consume(ctx context.Context, handler func(*messaging.Event) error) error {
	return s.Run(ctx, handler)
}

type queueSource struct{ *queue.QueueMessageConsumer }

func (s queueSource) Consume(ctx context.Context, handler func(*messaging.Event) error) error {
	return s.ConsumeEvents(ctx, handler)
}

var openSource = func(source string, brokers []string, topic, group string) (eventSource, error) {
	switch source {
	case sourceKafka:
		return kafkaSource{kafka.NewEventConsumer(brokers, topic, group, log.Logger)}, nil
	case sourceQueue:
		c, err := queue.NewQueueMessageConsumer(brokers, topic)
		if err != nil {
			return nil, err
		}
		return queueSource{c}, nil
	default:
		return nil, fmt.Errorf("unknown source %q (want %s or %s)", source, sourceKafka, sourceQueue)
	}
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("Watch failed")
	}
}

// run streams events matching the filters to out as JSON lines until ctx
// is cancelled.
func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("darkpool-watch", flag.ContinueOnError)
	source := fs.String("source", sourceKafka, "Event source: kafka or queue")
	brokers := fs.String("brokers", "localhost:9092", "Comma separated broker addresses")
	topic := fs.String("topic", queue.DefaultTopic, "Events topic")
	group := fs.String("group", "darkpool-watch", "Consumer group (kafka source only)")
	market := fs.String("market", "", "Only show events for this market")
	types := fs.String("types", "", "Comma separated event types to show, e.g. trade_executed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	want := make(map[messaging.EventType]bool)
	for _, t := range splitList(*types) {
		want[messaging.EventType(strings.ToLower(t))] = true
	}
	marketFilter := strings.ToLower(*market)

	src, err := openSource(*source, splitList(*brokers), *topic, *group)
	if err != nil {
		return err
	}
	defer src.Close()

	log.Info().Str("source", *source).Str("topic", *topic).Msg("Watching events")

	enc := json.NewEncoder(out)
	var shown int
	err = src.Consume(ctx, func(ev *messaging.Event) error {
		if marketFilter != "" && strings.ToLower(ev.Market) != marketFilter {
			return nil
		}
		if len(want) > 0 && !want[ev.Type] {
			return nil
		}
		shown++
		return enc.Encode(ev)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Int("events", shown).Msg("Watch stopped")
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
