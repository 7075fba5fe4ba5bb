package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitJSONFormatProducesParsableLines(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, slog.LevelInfo, true)

	Component("test").Info("hello", "key", "value")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "hello", entry["msg"])
	require.Equal(t, "test", entry["component"])
	require.Equal(t, "value", entry["key"])
}

func TestInitTextFormatOmitsJSONBraces(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, slog.LevelInfo, false)

	Root().Info("plain")

	require.False(t, strings.HasPrefix(buf.String(), "{"))
	require.Contains(t, buf.String(), "plain")
}

func TestInitRespectsLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, slog.LevelWarn, true)

	Root().Info("should be filtered out")
	require.Empty(t, buf.String())

	Root().Warn("should appear")
	require.NotEmpty(t, buf.String())
}

func TestComponentTagsLoggerWithName(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, slog.LevelInfo, true)

	Component("rpcpool").Info("tagged")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "rpcpool", entry["component"])
}
