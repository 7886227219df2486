package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"

	"github.com/simon020286/go-promptchain/models"
	"go.uber.org/zap"
)

const readBufferSize = 32 * 1024

// maxFrameIndex bounds the input and config indexes a frame may address
const maxFrameIndex = 1 << 16

// Aggregator folds progress frames into partial runs, one per
// (inputIndex, configIndex). It is not safe for concurrent use.
type Aggregator struct {
	runs    map[int]map[int]*models.PartialRun
	pending []byte
	logger  *zap.Logger

	// inputCount, when set, bounds the input index of accepted frames
	inputCount int
}

// NewAggregator creates an empty aggregator
func NewAggregator(logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		runs:   make(map[int]map[int]*models.PartialRun),
		logger: logger,
	}
}

// Consume reads r until end of stream. After every Read, including reads
// that only complete a frame or carry none, onSnapshot receives all partial
// runs ordered by id. Frames addressing an input index at or past
// inputCount are skipped.
func (a *Aggregator) Consume(ctx context.Context, inputCount int, r io.Reader, onSnapshot func([]models.PartialRun)) error {
	a.inputCount = inputCount

	buf := make([]byte, readBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.Read(buf)
		if n > 0 {
			a.Feed(buf[:n])
		}
		if n > 0 || err == nil {
			if onSnapshot != nil {
				onSnapshot(a.Snapshot())
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				if a.flushPending() && onSnapshot != nil {
					onSnapshot(a.Snapshot())
				}
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
	}
}

// Feed folds the complete frames in data, keeping an unterminated tail for
// the next call
func (a *Aggregator) Feed(data []byte) {
	a.pending = append(a.pending, data...)

	for {
		i := bytes.IndexByte(a.pending, '\n')
		if i < 0 {
			break
		}
		line := a.pending[:i]
		a.pending = a.pending[i+1:]
		a.processLine(line)
	}

	if len(a.pending) == 0 {
		a.pending = nil
	}
}

// flushPending processes a final frame that lacked a trailing newline
func (a *Aggregator) flushPending() bool {
	if len(a.pending) == 0 {
		return false
	}
	a.processLine(a.pending)
	a.pending = nil
	return true
}

func (a *Aggregator) processLine(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}

	payload, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		a.logger.Debug("ignoring non-data line", zap.ByteString("line", line))
		return
	}

	var ev models.ProgressEvent
	if err := json.Unmarshal(bytes.TrimSpace(payload), &ev); err != nil {
		a.logger.Warn("skipping malformed frame", zap.ByteString("frame", payload), zap.Error(err))
		return
	}
	if ev.InputIndex < 0 || ev.ConfigIndex < 0 {
		a.logger.Warn("skipping frame with negative index", zap.Int("input_index", ev.InputIndex), zap.Int("config_index", ev.ConfigIndex))
		return
	}
	if ev.InputIndex >= maxFrameIndex || ev.ConfigIndex >= maxFrameIndex ||
		(a.inputCount > 0 && ev.InputIndex >= a.inputCount) {
		a.logger.Warn("skipping frame with out of range index", zap.Int("input_index", ev.InputIndex), zap.Int("config_index", ev.ConfigIndex))
		return
	}

	a.apply(ev)
}

func (a *Aggregator) apply(ev models.ProgressEvent) {
	run := a.lookup(ev.InputIndex, ev.ConfigIndex)

	if ev.IsLast {
		run.IsLast = true
		return
	}

	run.Output += ev.Message
	run.Cost = ev.Cost
	run.Duration = ev.Duration
	run.Timestamp = ev.Timestamp
	run.Failed = ev.Failed
	if ev.ContinuationID != 0 {
		run.ContinuationID = ev.ContinuationID
	}
}

// lookup returns the partial run for a slot, creating it on first use
func (a *Aggregator) lookup(inputIndex, configIndex int) *models.PartialRun {
	row, ok := a.runs[inputIndex]
	if !ok {
		row = make(map[int]*models.PartialRun)
		a.runs[inputIndex] = row
	}

	run, ok := row[configIndex]
	if !ok {
		run = &models.PartialRun{InputIndex: inputIndex, Index: configIndex}
		row[configIndex] = run
	}
	return run
}

// maxSteps is the widest row so far, counted as highest populated slot + 1
func (a *Aggregator) maxSteps() int {
	maxSteps := 0
	for _, row := range a.runs {
		for i := range row {
			if i+1 > maxSteps {
				maxSteps = i + 1
			}
		}
	}
	return maxSteps
}

// Snapshot assigns ids and returns copies of all partial runs sorted by id
func (a *Aggregator) Snapshot() []models.PartialRun {
	width := a.maxSteps()

	var out []models.PartialRun
	for _, row := range a.runs {
		for _, run := range row {
			run.ID = int64(run.InputIndex*width + run.Index)
			out = append(out, *run)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}
