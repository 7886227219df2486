// Package stream carries chain progress over a line-oriented "data: <json>"
// frame protocol and rebuilds partial runs from it on the client side.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/simon020286/go-promptchain/models"
	"go.uber.org/zap"
)

const framePrefix = "data: "

// Encoder writes progress frames. Rows may run concurrently, so every write
// is serialized; each frame is flushed as soon as it is written.
type Encoder struct {
	mu             sync.Mutex
	w              io.Writer
	flusher        http.Flusher
	continuationID int64
	now            func() time.Time
	logger         *zap.Logger
	err            error
}

type EncoderOption func(*Encoder)

// WithContinuationID stamps every frame with a continuation id
func WithContinuationID(id int64) EncoderOption {
	return func(e *Encoder) {
		e.continuationID = id
	}
}

// WithClock overrides the frame timestamp source
func WithClock(now func() time.Time) EncoderOption {
	return func(e *Encoder) {
		e.now = now
	}
}

// WithEncoderLogger sets the logger used for write failures
func WithEncoderLogger(logger *zap.Logger) EncoderOption {
	return func(e *Encoder) {
		e.logger = logger
	}
}

// NewEncoder creates an encoder on w. If w is an http.Flusher it is flushed
// after every frame.
func NewEncoder(w io.Writer, opts ...EncoderOption) *Encoder {
	e := &Encoder{
		w:      w,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WriteEvent writes one frame
func (e *Encoder) WriteEvent(ev models.ProgressEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}
	if ev.ContinuationID == 0 {
		ev.ContinuationID = e.continuationID
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := fmt.Fprintf(e.w, "%s%s\n\n", framePrefix, data); err != nil {
		if e.err == nil {
			e.err = err
		}
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

// WriteChunk writes a partial output frame
func (e *Encoder) WriteChunk(inputIndex, configIndex int, message string) error {
	return e.WriteEvent(models.ProgressEvent{
		InputIndex:  inputIndex,
		ConfigIndex: configIndex,
		Message:     message,
	})
}

// WriteResult writes a step completion frame
func (e *Encoder) WriteResult(result models.StepResult) error {
	return e.WriteEvent(models.ProgressEvent{
		InputIndex:     result.InputIndex,
		ConfigIndex:    result.ConfigIndex,
		Cost:           result.Cost,
		Duration:       result.Duration,
		Failed:         result.Failed,
		ContinuationID: result.ContinuationID,
	})
}

// WriteLast marks the final step executed for a row
func (e *Encoder) WriteLast(inputIndex, configIndex int) error {
	return e.WriteEvent(models.ProgressEvent{
		InputIndex:  inputIndex,
		ConfigIndex: configIndex,
		IsLast:      true,
	})
}

// Err returns the first write error, if any
func (e *Encoder) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// ChunkFunc adapts the encoder to the sequencer's chunk callback
func (e *Encoder) ChunkFunc() func(inputIndex, configIndex int, message string) {
	return func(inputIndex, configIndex int, message string) {
		if err := e.WriteChunk(inputIndex, configIndex, message); err != nil {
			e.logger.Debug("dropping chunk", zap.Int("input_index", inputIndex), zap.Int("config_index", configIndex), zap.Error(err))
		}
	}
}

// LastFunc adapts the encoder to the sequencer's row-done callback
func (e *Encoder) LastFunc() func(inputIndex, configIndex int) {
	return func(inputIndex, configIndex int) {
		if err := e.WriteLast(inputIndex, configIndex); err != nil {
			e.logger.Debug("dropping last frame", zap.Int("input_index", inputIndex), zap.Error(err))
		}
	}
}

// StepCompleteFunc writes the completion frame and then hands the result to
// next, which may be nil. A write failure halts the row.
func (e *Encoder) StepCompleteFunc(next func(context.Context, models.StepResult) error) func(context.Context, models.StepResult) error {
	return func(ctx context.Context, result models.StepResult) error {
		if err := e.WriteResult(result); err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		return next(ctx, result)
	}
}
