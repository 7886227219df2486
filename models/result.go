package models

// StepResult is what a step reports once it has finished for one input row
type StepResult struct {
	InputIndex     int      `json:"inputIndex"`
	ConfigIndex    int      `json:"configIndex"`
	Kind           StepKind `json:"kind"`
	VersionID      int64    `json:"versionID,omitempty"`
	Output         string   `json:"output"`
	Cost           float64  `json:"cost"`
	Duration       float64  `json:"duration"` // seconds
	Failed         bool     `json:"failed,omitempty"`
	Cached         bool     `json:"cached,omitempty"`
	ContinuationID int64    `json:"continuationID,omitempty"`
}
