package models

import "time"

// ProgressEvent is a single frame of the run stream.
// Chunk frames carry Message, completion frames carry Cost/Duration/Failed,
// and an IsLast frame marks the final step executed for an input row.
type ProgressEvent struct {
	InputIndex     int       `json:"inputIndex"`
	ConfigIndex    int       `json:"configIndex"`
	Message        string    `json:"message,omitempty"`
	Cost           float64   `json:"cost,omitempty"`
	Duration       float64   `json:"duration,omitempty"`
	Failed         bool      `json:"failed,omitempty"`
	ContinuationID int64     `json:"continuationID,omitempty"`
	IsLast         bool      `json:"isLast,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
