package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/erain9/darkpool/pkg/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type replaySource struct {
	events []*messaging.Event
	closed bool
}

func (r *replaySource) Consume(_ context.Context, handler func(*messaging.Event) error) error {
	for _, ev := range r.events {
		if err := handler(ev); err != nil {
			return err
		}
	}
	return nil
}

func (r *replaySource) Close() error {
	r.closed = true
	return nil
}

func useReplay(t *testing.T, events ...*messaging.Event) (*replaySource, *[]string) {
	t.Helper()
	src := &replaySource{events: events}
	var opened []string
	orig := openSource
	openSource = func(source string, brokers []string, topic, group string) (eventSource, error) {
		opened = append(opened, source, topic)
		opened = append(opened, brokers...)
		return src, nil
	}
	t.Cleanup(func() { openSource = orig })
	return src, &opened
}

func decodeLines(t *testing.T, out *bytes.Buffer) []messaging.Event {
	t.Helper()
	var events []messaging.Event
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		var ev messaging.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	return events
}

func TestWatchFilters(t *testing.T) {
	now := time.Now()
	placed := messaging.NewEvent(messaging.EventOrderPlaced, "0xAA", now)
	trade := messaging.NewEvent(messaging.EventTradeExecuted, "0xaa", now)
	trade.TradeExecuted = &messaging.TradeExecuted{TradeID: 9, Amount: 4, Price: 11}
	other := messaging.NewEvent(messaging.EventTradeExecuted, "0xbb", now)

	src, opened := useReplay(t, placed, trade, other)

	var out bytes.Buffer
	err := run(context.Background(), []string{
		"-source", "queue", "-brokers", "b1:9092, b2:9092", "-topic", "events",
		"-market", "0xAA", "-types", "TRADE_EXECUTED",
	}, &out)
	require.NoError(t, err)
	assert.True(t, src.closed)
	assert.Equal(t, []string{"queue", "events", "b1:9092", "b2:9092"}, *opened)

	events := decodeLines(t, &out)
	require.Len(t, events, 1)
	assert.Equal(t, trade.ID, events[0].ID)
	require.NotNil(t, events[0].TradeExecuted)
	assert.Equal(t, uint64(9), events[0].TradeExecuted.TradeID)
}

func TestWatchNoFilters(t *testing.T) {
	now := time.Now()
	useReplay(t,
		messaging.NewEvent(messaging.EventOrderPlaced, "0xaa", now),
		messaging.NewEvent(messaging.EventMarketPaused, "0xbb", now),
	)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), nil, &out))
	assert.Len(t, decodeLines(t, &out), 2)
}

func TestWatchUnknownSource(t *testing.T) {
	err := run(context.Background(), []string{"-source", "carrier-pigeon"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "unknown source")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b,"))
	assert.Nil(t, splitList(""))
}
