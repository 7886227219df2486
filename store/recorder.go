package store

import (
	"context"
	"sync"

	"github.com/simon020286/go-promptchain/models"
	"go.uber.org/zap"
)

// Recorder saves every completed step of one chain run
type Recorder struct {
	store          *SQLite
	executionID    string
	rows           []models.InputRow
	continuationID int64
	parentRunID    int64
	userID         int64
	logger         *zap.Logger

	mu sync.Mutex
	// lastSaved is the id of the latest run saved per input index
	lastSaved map[int]int64
}

type RecorderOption func(*Recorder)

// WithParentRun links every saved run to a parent run
func WithParentRun(id int64) RecorderOption {
	return func(r *Recorder) {
		r.parentRunID = id
	}
}

// WithContinuation marks every saved run as part of a continuation chain
func WithContinuation(id int64) RecorderOption {
	return func(r *Recorder) {
		r.continuationID = id
	}
}

// WithUser attributes saved runs to a user
func WithUser(id int64) RecorderOption {
	return func(r *Recorder) {
		r.userID = id
	}
}

// WithRecorderLogger sets the logger
func WithRecorderLogger(logger *zap.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// NewRecorder creates a recorder for one execution over rows
func (s *SQLite) NewRecorder(executionID string, rows []models.InputRow, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:       s,
		executionID: executionID,
		rows:        rows,
		logger:      zap.NewNop(),
		lastSaved:   make(map[int]int64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record saves a step result. Its signature matches the sequencer's step
// completion hook.
func (r *Recorder) Record(ctx context.Context, result models.StepResult) error {
	var inputs map[string]string
	if result.InputIndex >= 0 && result.InputIndex < len(r.rows) {
		inputs = r.rows[result.InputIndex]
	}

	continuationID := result.ContinuationID
	if continuationID == 0 {
		continuationID = r.continuationID
	}

	run := &models.Run{
		ExecutionID:    r.executionID,
		VersionID:      result.VersionID,
		InputIndex:     result.InputIndex,
		Index:          result.ConfigIndex,
		Inputs:         inputs,
		Output:         result.Output,
		Cost:           result.Cost,
		Duration:       result.Duration,
		Failed:         result.Failed,
		ContinuationID: continuationID,
		ParentRunID:    r.parentRunID,
		UserID:         r.userID,
	}

	id, err := r.store.SaveRun(ctx, run)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.lastSaved[result.InputIndex] = id
	r.mu.Unlock()
	r.logger.Debug("Run saved",
		zap.Int64("run_id", id),
		zap.String("execution_id", r.executionID),
		zap.Int("input_index", result.InputIndex),
		zap.Int("config_index", result.ConfigIndex))
	return nil
}

// RowDone marks the latest run saved for a row as its last. Its signature
// matches the sequencer's row-done hook; rows that saved nothing are skipped.
func (r *Recorder) RowDone(inputIndex, configIndex int) {
	r.mu.Lock()
	id, ok := r.lastSaved[inputIndex]
	r.mu.Unlock()
	if !ok {
		return
	}

	// The row has ended, possibly because the request was cancelled
	if err := r.store.MarkLast(context.Background(), id); err != nil {
		r.logger.Warn("Failed to mark last run",
			zap.Int64("run_id", id),
			zap.Int("input_index", inputIndex),
			zap.Int("config_index", configIndex),
			zap.Error(err))
	}
}
