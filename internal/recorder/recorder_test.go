package recorder

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisabledRecorderRecordIsNoOp(t *testing.T) {
	r, err := New(t.TempDir(), false)
	require.NoError(t, err)
	require.Same(t, disabled, r)
	r.Record(KindDecision, nil, map[string]any{"x": 1})
	require.Equal(t, int64(0), r.Dropped())
	r.Close()
}

func TestEnabledRecorderWritesNDJSONFile(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, true)
	require.NoError(t, err)

	block := uint64(42)
	r.Record(KindBlockStart, &block, map[string]any{"dex": "uniswap_v2"})
	r.Close()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	f, err := os.Open(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var e Event
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
	require.Equal(t, KindBlockStart, e.Kind)
	require.Equal(t, uint64(42), *e.Block)
}

func TestRecordDropsWhenConsumerNotReady(t *testing.T) {
	r := &Recorder{enabled: true, events: make(chan Event), done: make(chan struct{})}
	close(r.done) // no consumer draining r.events

	r.Record(KindError, nil, nil)
	require.Equal(t, int64(1), r.Dropped())
}

func TestNewCreatesDirIfMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "events")
	r, err := New(dir, true)
	require.NoError(t, err)
	defer r.Close()

	_, err = os.Stat(dir)
	require.NoError(t, err)
}
