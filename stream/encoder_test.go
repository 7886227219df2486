package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/simon020286/go-promptchain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func frames(t *testing.T, raw string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, block := range strings.Split(strings.TrimSuffix(raw, "\n\n"), "\n\n") {
		require.True(t, strings.HasPrefix(block, "data: "), "frame %q", block)
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(block, "data: ")), &m))
		out = append(out, m)
	}
	return out
}

func TestEncoder_FrameShapes(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, WithClock(func() time.Time { return fixedTime }), WithContinuationID(4))

	require.NoError(t, enc.WriteChunk(1, 2, "hel"))
	require.NoError(t, enc.WriteResult(models.StepResult{InputIndex: 1, ConfigIndex: 2, Cost: 0.5, Duration: 1.25, Failed: true}))
	require.NoError(t, enc.WriteLast(1, 2))

	got := frames(t, buf.String())
	require.Len(t, got, 3)

	assert.Equal(t, map[string]any{
		"inputIndex":     1.0,
		"configIndex":    2.0,
		"message":        "hel",
		"continuationID": 4.0,
		"timestamp":      "2024-03-01T12:00:00Z",
	}, got[0])
	assert.Equal(t, map[string]any{
		"inputIndex":     1.0,
		"configIndex":    2.0,
		"cost":           0.5,
		"duration":       1.25,
		"failed":         true,
		"continuationID": 4.0,
		"timestamp":      "2024-03-01T12:00:00Z",
	}, got[1])
	assert.Equal(t, true, got[2]["isLast"])
	assert.NotContains(t, got[2], "message")
}

func TestEncoder_FlushesEveryFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	enc := NewEncoder(rec)

	require.NoError(t, enc.WriteChunk(0, 0, "a"))
	assert.True(t, rec.Flushed)
	assert.True(t, strings.HasSuffix(rec.Body.String(), "\n\n"))
}

func TestEncoder_ConcurrentWritersDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	var wg sync.WaitGroup
	for row := 0; row < 8; row++ {
		row := row
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = enc.WriteChunk(row, 0, strings.Repeat("x", 100))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, frames(t, buf.String()), 400)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("client gone") }

func TestEncoder_StepCompleteFunc(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	var persisted []models.StepResult
	hook := enc.StepCompleteFunc(func(_ context.Context, r models.StepResult) error {
		persisted = append(persisted, r)
		return nil
	})

	require.NoError(t, hook(context.Background(), models.StepResult{Output: "o", Cost: 1}))
	assert.Len(t, persisted, 1)
	assert.Len(t, frames(t, buf.String()), 1)

	broken := NewEncoder(failingWriter{})
	err := broken.StepCompleteFunc(nil)(context.Background(), models.StepResult{})
	assert.Error(t, err)
	assert.Error(t, broken.Err())

	// Chunk and last adapters swallow write errors
	broken.ChunkFunc()(0, 0, "x")
	broken.LastFunc()(0, 0)
}
