package models

import "time"

// PartialRun is the client-side reconstruction of one step's output for one
// input row, built up frame by frame.
type PartialRun struct {
	ID             int64     `json:"id"`
	InputIndex     int       `json:"inputIndex"`
	Index          int       `json:"index"`
	Output         string    `json:"output"`
	Cost           float64   `json:"cost"`
	Duration       float64   `json:"duration"`
	Timestamp      time.Time `json:"timestamp"`
	Failed         bool      `json:"failed,omitempty"`
	IsLast         bool      `json:"isLast,omitempty"`
	ContinuationID int64     `json:"continuationID,omitempty"`
}

// AsRun converts the partial run into a Run flagged as partial
func (p PartialRun) AsRun() *Run {
	return &Run{
		ID:             p.ID,
		InputIndex:     p.InputIndex,
		Index:          p.Index,
		Output:         p.Output,
		Cost:           p.Cost,
		Duration:       p.Duration,
		Timestamp:      p.Timestamp,
		Failed:         p.Failed,
		IsLast:         p.IsLast,
		ContinuationID: p.ContinuationID,
		Partial:        true,
	}
}

// Run is a persisted step execution.
// Zero ParentRunID / ContinuationID mean "not set".
type Run struct {
	ID             int64             `json:"id"`
	ExecutionID    string            `json:"executionID,omitempty"`
	VersionID      int64             `json:"versionID,omitempty"`
	InputIndex     int               `json:"inputIndex"`
	Index          int               `json:"index"`
	Inputs         map[string]string `json:"inputs,omitempty"`
	Output         string            `json:"output"`
	Cost           float64           `json:"cost"`
	Duration       float64           `json:"duration"`
	Timestamp      time.Time         `json:"timestamp"`
	Failed         bool              `json:"failed,omitempty"`
	IsLast         bool              `json:"isLast,omitempty"`
	ContinuationID int64             `json:"continuationID,omitempty"`
	ParentRunID    int64             `json:"parentRunID,omitempty"`
	Labels         []string          `json:"labels"`
	UserID         int64             `json:"userID,omitempty"`
	Rating         string            `json:"rating,omitempty"`
	Continuations  []*Run            `json:"continuations,omitempty"`

	// Partial marks runs still streaming (not yet read back from storage)
	Partial bool `json:"partial,omitempty"`

	// Head is the unmerged first item of a merged group
	Head *Run `json:"-"`
}
