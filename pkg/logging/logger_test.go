package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/metadata"
)

func captureGlobal(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = orig })
	return &buf
}

func TestFromContextRequestID(t *testing.T) {
	buf := captureGlobal(t)

	logger := FromContext(WithRequestID(context.Background(), "req-42"))
	logger.Info().Msg("order placed")
	assert.Contains(t, buf.String(), `"request_id":"req-42"`)

	buf.Reset()
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDHeader, "req-43"))
	logger = FromContext(ctx)
	logger.Warn().Msg("stale read")
	assert.Contains(t, buf.String(), `"request_id":"req-43"`)

	buf.Reset()
	logger = FromContext(context.Background())
	logger.Debug().Msg("no id")
	assert.NotContains(t, buf.String(), "request_id")
}

func TestWithRequestIDMintsID(t *testing.T) {
	id, ok := RequestID(WithRequestID(context.Background(), ""))
	assert.True(t, ok)
	assert.Len(t, id, 36)
}
