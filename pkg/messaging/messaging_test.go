package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	a := NewEvent(EventOrderPlaced, "0xf1", at)
	b := NewEvent(EventOrderPlaced, "0xf1", at)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, time.UTC, a.Time.Location())
	assert.True(t, at.Equal(a.Time))
}

func TestFanout(t *testing.T) {
	ctx := context.Background()
	first := NewMockMessageSender()
	second := NewMockMessageSender()
	f := NewFanout(first, nil, second)
	assert.Equal(t, 2, f.Len())

	event := NewEvent(EventMarketPaused, "0xf1", time.Now())
	require.NoError(t, f.SendEvent(ctx, event))
	assert.Len(t, first.Events(), 1)
	assert.Len(t, second.Events(), 1)

	// A failing sender does not stop delivery to the others.
	boom := errors.New("boom")
	first.FailWith(boom)
	err := f.SendEvent(ctx, event)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, second.Events(), 2)

	third := NewMockMessageSender()
	f.Add(third)
	f.Add(nil)
	assert.Equal(t, 3, f.Len())
	assert.NoError(t, f.Close())
}

func TestMockMessageSenderEventsOfType(t *testing.T) {
	m := NewMockMessageSender()
	ctx := context.Background()
	require.NoError(t, m.SendEvent(ctx, NewEvent(EventOrderPlaced, "m", time.Now())))
	require.NoError(t, m.SendEvent(ctx, NewEvent(EventTradeExecuted, "m", time.Now())))
	require.NoError(t, m.SendEvent(ctx, NewEvent(EventOrderPlaced, "m", time.Now())))

	assert.Len(t, m.EventsOfType(EventOrderPlaced), 2)
	assert.Len(t, m.EventsOfType(EventOrderCancelled), 0)
}
