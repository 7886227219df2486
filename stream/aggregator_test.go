package stream

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/simon020286/go-promptchain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ignoreTime = cmpopts.IgnoreFields(models.PartialRun{}, "Timestamp")

func frame(inputIndex, configIndex int, message string) string {
	return fmt.Sprintf("data: {\"inputIndex\":%d,\"configIndex\":%d,\"message\":%q,\"timestamp\":\"2024-03-01T12:00:00Z\"}\n\n", inputIndex, configIndex, message)
}

// chunkedReader returns its parts one Read at a time
type chunkedReader struct {
	parts []string
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.parts) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.parts[0])
	r.parts[0] = r.parts[0][n:]
	if r.parts[0] == "" {
		r.parts = r.parts[1:]
	}
	return n, nil
}

func consume(t *testing.T, inputCount int, r io.Reader) [][]models.PartialRun {
	t.Helper()
	var snapshots [][]models.PartialRun
	err := NewAggregator(nil).Consume(context.Background(), inputCount, r, func(s []models.PartialRun) {
		snapshots = append(snapshots, s)
	})
	require.NoError(t, err)
	return snapshots
}

func TestAggregator_ConcatenatesMessages(t *testing.T) {
	r := &chunkedReader{parts: []string{frame(0, 0, "hello") + frame(0, 0, " world")}}
	snapshots := consume(t, 1, r)

	require.Len(t, snapshots, 1)
	want := []models.PartialRun{{ID: 0, InputIndex: 0, Index: 0, Output: "hello world"}}
	if diff := cmp.Diff(want, snapshots[0], ignoreTime); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregator_IDsFollowWidestRow(t *testing.T) {
	r := &chunkedReader{parts: []string{
		frame(0, 0, "a"),
		frame(1, 0, "b"),
		frame(0, 1, "c"),
	}}
	snapshots := consume(t, 2, r)
	require.Len(t, snapshots, 3)

	// One step known: rows are one slot wide
	assert.Equal(t, []int64{0, 1}, ids(snapshots[1]))

	final := snapshots[2]
	want := []models.PartialRun{
		{ID: 0, InputIndex: 0, Index: 0, Output: "a"},
		{ID: 1, InputIndex: 0, Index: 1, Output: "c"},
		{ID: 2, InputIndex: 1, Index: 0, Output: "b"},
	}
	if diff := cmp.Diff(want, final, ignoreTime); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregator_IDsAreUnique(t *testing.T) {
	// Row 1 is wider than row 0, and row 0 has a gap
	var sb strings.Builder
	for _, slot := range [][2]int{{0, 0}, {1, 0}, {1, 1}, {1, 2}, {2, 2}, {0, 3}} {
		sb.WriteString(frame(slot[0], slot[1], "x"))
	}
	snapshots := consume(t, 3, iotest.OneByteReader(strings.NewReader(sb.String())))

	for i, snap := range snapshots {
		seen := make(map[int64]bool)
		for _, run := range snap {
			require.False(t, seen[run.ID], "snapshot %d reuses id %d", i, run.ID)
			seen[run.ID] = true
		}
	}
}

func TestAggregator_OutputIndependentOfBatching(t *testing.T) {
	var sb strings.Builder
	var want [2]strings.Builder
	for i := 0; i < 40; i++ {
		row := i % 2
		msg := fmt.Sprintf("<%d>", i)
		sb.WriteString(frame(row, 0, msg))
		want[row].WriteString(msg)
	}
	stream := sb.String()

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 20; trial++ {
		var parts []string
		for rest := stream; rest != ""; {
			n := 1 + rng.Intn(50)
			if n > len(rest) {
				n = len(rest)
			}
			parts = append(parts, rest[:n])
			rest = rest[n:]
		}

		snapshots := consume(t, 2, &chunkedReader{parts: parts})
		final := snapshots[len(snapshots)-1]
		require.Len(t, final, 2)
		assert.Equal(t, want[0].String(), final[0].Output)
		assert.Equal(t, want[1].String(), final[1].Output)
	}
}

func TestAggregator_SkipsMalformedFrames(t *testing.T) {
	raw := frame(0, 0, "ok") +
		"data: {not json}\n\n" +
		": comment line\n" +
		"data: {\"inputIndex\":-1,\"configIndex\":0}\n\n" +
		frame(0, 0, "!")
	snapshots := consume(t, 1, strings.NewReader(raw))

	final := snapshots[len(snapshots)-1]
	require.Len(t, final, 1)
	assert.Equal(t, "ok!", final[0].Output)
}

func TestAggregator_SkipsOutOfRangeIndexes(t *testing.T) {
	raw := frame(0, 0, "a") +
		"data: {\"inputIndex\":0,\"configIndex\":400000000,\"message\":\"huge\"}\n\n" +
		"data: {\"inputIndex\":400000000,\"configIndex\":0,\"message\":\"huge\"}\n\n" +
		frame(2, 0, "past the last row") +
		frame(1, 1, "b")
	snapshots := consume(t, 2, strings.NewReader(raw))

	final := snapshots[len(snapshots)-1]
	require.Len(t, final, 2)
	assert.Equal(t, []int64{0, 3}, ids(final))
	assert.Equal(t, "a", final[0].Output)
	assert.Equal(t, "b", final[1].Output)
}

func TestAggregator_CompletionAndLastFrames(t *testing.T) {
	raw := frame(0, 0, "partial") +
		"data: {\"inputIndex\":0,\"configIndex\":0,\"cost\":0.5,\"duration\":2,\"failed\":true,\"continuationID\":7,\"timestamp\":\"2024-03-01T12:00:05Z\"}\n\n" +
		"data: {\"inputIndex\":0,\"configIndex\":0,\"isLast\":true,\"timestamp\":\"2024-03-01T12:00:06Z\"}\n\n"
	snapshots := consume(t, 1, &chunkedReader{parts: []string{raw}})

	want := []models.PartialRun{{
		ID:             0,
		Output:         "partial",
		Cost:           0.5,
		Duration:       2,
		Timestamp:      time.Date(2024, 3, 1, 12, 0, 5, 0, time.UTC),
		Failed:         true,
		IsLast:         true,
		ContinuationID: 7,
	}}
	if diff := cmp.Diff(want, snapshots[0]); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregator_SnapshotOnEveryRead(t *testing.T) {
	raw := frame(0, 0, "a")
	// Split mid-frame: the first read completes nothing but still publishes
	r := &chunkedReader{parts: []string{raw[:10], raw[10:]}}
	snapshots := consume(t, 1, r)

	require.Len(t, snapshots, 2)
	assert.Empty(t, snapshots[0])
	assert.Len(t, snapshots[1], 1)
}

func TestAggregator_UnterminatedFinalFrame(t *testing.T) {
	raw := strings.TrimSuffix(frame(0, 0, "tail"), "\n\n")
	snapshots := consume(t, 1, &chunkedReader{parts: []string{raw}})

	final := snapshots[len(snapshots)-1]
	require.Len(t, final, 1)
	assert.Equal(t, "tail", final[0].Output)
}

func TestAggregator_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()

	done := make(chan error, 1)
	go func() {
		done <- NewAggregator(nil).Consume(ctx, 1, pr, func([]models.PartialRun) {
			cancel()
		})
	}()

	_, _ = pw.Write([]byte(frame(0, 0, "x")))
	assert.ErrorIs(t, <-done, context.Canceled)
	pw.Close()
}

func TestEncoderToAggregator(t *testing.T) {
	pr, pw := io.Pipe()
	enc := NewEncoder(pw)

	go func() {
		_ = enc.WriteChunk(0, 0, "Hel")
		_ = enc.WriteChunk(0, 0, "lo")
		_ = enc.WriteResult(models.StepResult{InputIndex: 0, ConfigIndex: 0, Cost: 1})
		_ = enc.WriteChunk(1, 0, "Hi")
		_ = enc.WriteResult(models.StepResult{InputIndex: 1, ConfigIndex: 0, Failed: true})
		_ = enc.WriteLast(0, 0)
		_ = enc.WriteLast(1, 0)
		pw.Close()
	}()

	snapshots := consume(t, 2, pr)
	final := snapshots[len(snapshots)-1]

	want := []models.PartialRun{
		{ID: 0, InputIndex: 0, Output: "Hello", Cost: 1, IsLast: true},
		{ID: 1, InputIndex: 1, Output: "Hi", Failed: true, IsLast: true},
	}
	if diff := cmp.Diff(want, final, ignoreTime); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func ids(runs []models.PartialRun) []int64 {
	out := make([]int64, len(runs))
	for i, r := range runs {
		out[i] = r.ID
	}
	return out
}
