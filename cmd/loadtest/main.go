package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/erain9/darkpool/pkg/auth"
	"github.com/erain9/darkpool/pkg/core"
	"github.com/erain9/darkpool/pkg/otel"
	"github.com/erain9/darkpool/pkg/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Latencies are recorded in microseconds, up to one minute.
const (
	minLatency = 1
	maxLatency = int64(time.Minute / time.Microsecond)
	sigFigs    = 3
)

// Operation labels.
const (
	opPlace    = "place"
	opDelegate = "delegate"
	opMatch    = "match"
)

type latencies map[string]*hdrhistogram.Histogram

func newLatencies() latencies {
	l := make(latencies)
	for _, op := range []string{opPlace, opDelegate, opMatch} {
		l[op] = hdrhistogram.New(minLatency, maxLatency, sigFigs)
	}
	return l
}

func (l latencies) record(op string, start time.Time) {
	us := time.Since(start).Microseconds()
	if us < minLatency {
		us = minLatency
	}
	// Values above the range are dropped by RecordValue.
	_ = l[op].RecordValue(us)
}

func (l latencies) merge(other latencies) {
	for op, h := range other {
		l[op].Merge(h)
	}
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	grpcAddr := flag.String("grpc-addr", "localhost:50051", "gRPC server address")
	workers := flag.Int("workers", 50, "Number of concurrent trading pairs")
	pairs := flag.Int("pairs", 100, "Matched order pairs per worker")
	rps := flag.Float64("rate", 500, "Maximum requests per second across all workers")
	flag.Parse()

	conn, err := grpc.NewClient(*grpcAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otel.NewGRPCClientStatsHandler()),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect")
	}
	defer conn.Close()
	client := server.NewClient(conn)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	authority, err := auth.GenerateKey()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to generate authority key")
	}
	// A fresh authority key doubles as a fresh market id.
	market := authority.Identity()
	initReq := &core.InitializeOrderbookRequest{Market: market}
	if err := auth.Sign(authority, initReq); err != nil {
		log.Fatal().Err(err).Msg("Failed to sign")
	}
	if _, err := client.InitializeOrderbook(ctx, initReq); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize orderbook")
	}
	log.Info().Str("market", market.Hex()).Msg("Created orderbook")

	limiter := rate.NewLimiter(rate.Limit(*rps), max(1, int(*rps)))
	tradeBase := uint64(time.Now().Unix()) << 20

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		total    = newLatencies()
		failures atomic.Int64
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		failures.Add(1)
		errOnce.Do(func() { firstErr = err })
	}

	start := time.Now()
	log.Info().Int("workers", *workers).Int("pairs", *pairs).Float64("rate", *rps).Msg("Starting load test")

	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			lat := newLatencies()
			defer func() {
				mu.Lock()
				total.merge(lat)
				mu.Unlock()
			}()

			t := &trader{client: client, limiter: limiter, market: market, authority: authority, lat: lat}
			if err := t.newKeys(); err != nil {
				fail(err)
				return
			}
			for p := 0; p < *pairs; p++ {
				tradeID := tradeBase + uint64(worker*(*pairs)+p) + 1
				if err := t.pair(ctx, uint64(p+1), tradeID); err != nil {
					if ctx.Err() != nil {
						return
					}
					fail(err)
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	report(total, elapsed, failures.Load())
	if firstErr != nil {
		log.Error().Err(firstErr).Msg("First error")
		os.Exit(1)
	}
}

// trader owns one buyer and one seller key and settles matched pairs.
type trader struct {
	client    *server.Client
	limiter   *rate.Limiter
	market    core.Identity
	authority *auth.Signer
	buyer     *auth.Signer
	seller    *auth.Signer
	lat       latencies
}

func (t *trader) newKeys() error {
	var err error
	if t.buyer, err = auth.GenerateKey(); err != nil {
		return err
	}
	t.seller, err = auth.GenerateKey()
	return err
}

func (t *trader) call(ctx context.Context, op string, signer *auth.Signer, req auth.Signable, fn func() error) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := auth.Sign(signer, req); err != nil {
		return err
	}
	start := time.Now()
	err := fn()
	t.lat.record(op, start)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (t *trader) pair(ctx context.Context, orderID, tradeID uint64) error {
	validUntil := time.Now().Add(10 * time.Minute).Unix()

	for _, leg := range []struct {
		signer *auth.Signer
		side   core.Side
		price  uint64
	}{
		{t.buyer, core.Buy, 101},
		{t.seller, core.Sell, 99},
	} {
		place := &core.PlaceOrderRequest{Market: t.market, OrderID: orderID, Side: leg.side, Amount: 10, Price: leg.price}
		if err := t.call(ctx, opPlace, leg.signer, place, func() error {
			_, err := t.client.PlaceOrder(ctx, place)
			return err
		}); err != nil {
			return err
		}

		delegate := &core.DelegateOrderRequest{
			Order:        core.OrderKey{Owner: leg.signer.Identity(), OrderID: orderID},
			ValidUntil:   validUntil,
			CommitFreqMs: 30000,
		}
		if err := t.call(ctx, opDelegate, leg.signer, delegate, func() error {
			_, err := t.client.DelegateOrder(ctx, delegate)
			return err
		}); err != nil {
			return err
		}
	}

	match := &core.MatchOrdersRequest{
		Market:  t.market,
		TradeID: tradeID,
		Buy:     core.OrderKey{Owner: t.buyer.Identity(), OrderID: orderID},
		Sell:    core.OrderKey{Owner: t.seller.Identity(), OrderID: orderID},
	}
	return t.call(ctx, opMatch, t.authority, match, func() error {
		_, err := t.client.MatchOrders(ctx, match)
		return err
	})
}

func report(total latencies, elapsed time.Duration, failures int64) {
	ops := make([]string, 0, len(total))
	for op := range total {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	var requests int64
	for _, op := range ops {
		h := total[op]
		requests += h.TotalCount()
		log.Info().
			Str("op", op).
			Int64("count", h.TotalCount()).
			Float64("mean_us", h.Mean()).
			Int64("p50_us", h.ValueAtQuantile(50)).
			Int64("p99_us", h.ValueAtQuantile(99)).
			Int64("p999_us", h.ValueAtQuantile(99.9)).
			Int64("max_us", h.Max()).
			Msg("Latency")
	}

	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(requests) / elapsed.Seconds()
	}
	log.Info().
		Dur("elapsed", elapsed).
		Int64("requests", requests).
		Int64("failures", failures).
		Float64("req_per_sec", throughput).
		Msg("Load test completed")
}
