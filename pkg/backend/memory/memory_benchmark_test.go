package memory

import (
	"context"
	"testing"

	"github.com/erain9/darkpool/pkg/core"
)

var benchMarket = core.MustParseIdentity("0x0202020202020202020202020202020202020202")

func BenchmarkMemoryBackend_CreateOrder(b *testing.B) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		o, err := core.NewOrder(benchMarket, benchMarket, uint64(i+1), core.Buy, 10, 100, 0)
		if err != nil {
			b.Fatal(err)
		}
		if err := backend.Commit(ctx, core.NewTx().PutOrder(o)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMemoryBackend_GetOrder(b *testing.B) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	o, err := core.NewOrder(benchMarket, benchMarket, 1, core.Sell, 10, 100, 0)
	if err != nil {
		b.Fatal(err)
	}
	if err := backend.Commit(ctx, core.NewTx().PutOrder(o)); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := backend.GetOrder(ctx, o.OrderKey()); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMemoryBackend_UpdateOrderbook(b *testing.B) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	if err := backend.Commit(ctx, core.NewTx().PutOrderbook(core.NewOrderbook(benchMarket, benchMarket))); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ob, err := backend.GetOrderbook(ctx, benchMarket)
		if err != nil {
			b.Fatal(err)
		}
		ob.OrderCount++
		if err := backend.Commit(ctx, core.NewTx().PutOrderbook(ob)); err != nil {
			b.Fatal(err)
		}
	}
}
