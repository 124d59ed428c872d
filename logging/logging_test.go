package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-ledger/logging"
)

func TestNew_ProductionIsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New("production", "info", "", &buf)

	logger.Debug("hidden")
	logger.Info("leave created", "employee_id", 7)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "leave created", line["msg"])
	assert.Equal(t, float64(7), line["employee_id"])
	assert.Contains(t, line["source"], "logging_test.go:")
}

func TestNew_FormatOverride(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New("production", "debug", "text", &buf)
	logger.Debug("visible")

	assert.Contains(t, buf.String(), "msg=visible")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, logging.ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, logging.ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, logging.ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, logging.ParseLevel("verbose"))
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	base := logging.New("development", "info", "json", &buf)
	scoped := base.With("request_id", "abc")

	ctx := logging.WithContext(context.Background(), scoped)
	logging.FromContext(ctx, base).Info("hello")
	assert.Contains(t, buf.String(), `"request_id":"abc"`)

	assert.Same(t, base, logging.FromContext(context.Background(), base))
	assert.NotNil(t, logging.FromContext(context.Background(), nil))
}
