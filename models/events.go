package models

import (
	"time"
)

// EventType is the type of a lifecycle event emitted by the sequencer
type EventType string

const (
	// Chain events
	EventChainStarted   EventType = "chain.started"
	EventChainCompleted EventType = "chain.completed"

	// Row events
	EventRowStarted   EventType = "row.started"
	EventRowCompleted EventType = "row.completed"
	EventRowHalted    EventType = "row.halted"

	// Step events
	EventStepCompleted EventType = "step.completed"
	EventStepFailed    EventType = "step.failed"
	EventSandboxAbort  EventType = "sandbox.abort"
)

// Halt reasons carried by EventRowHalted
const (
	HaltEmptyOutput    = "empty_output"
	HaltProviderFailed = "provider_failed"
	HaltNoResult       = "no_result"
	HaltSandboxAbort   = "sandbox_abort"
	HaltCallbackError  = "callback_error"
)

// Event is a lifecycle event of a chain run
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// EventListener receives lifecycle events from the sequencer
type EventListener interface {
	OnEvent(event Event)
}

// EventListenerFunc adapts a function to EventListener
type EventListenerFunc func(event Event)

func (f EventListenerFunc) OnEvent(event Event) {
	f(event)
}
