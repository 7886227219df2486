package promptchain

import (
	"sync"
	"time"

	"github.com/simon020286/go-promptchain/models"
)

// eventBus manages event distribution to registered listeners (private)
type eventBus struct {
	listeners []models.EventListener
	mutex     sync.RWMutex
	pendingWg sync.WaitGroup // Tracks events being processed
}

// newEventBus creates a new eventBus instance (private)
func newEventBus() *eventBus {
	return &eventBus{
		listeners: make([]models.EventListener, 0),
	}
}

// addListener registers a new listener
func (eb *eventBus) addListener(listener models.EventListener) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	eb.listeners = append(eb.listeners, listener)
}

// Emit sends an event to all registered listeners
func (eb *eventBus) Emit(eventType models.EventType, data map[string]interface{}) {
	eb.mutex.RLock()
	listeners := make([]models.EventListener, len(eb.listeners))
	copy(listeners, eb.listeners)
	eb.mutex.RUnlock()

	if len(listeners) == 0 {
		return
	}

	event := models.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	// Notify all listeners asynchronously to avoid blocking execution
	for _, listener := range listeners {
		eb.pendingWg.Add(1)
		go func(l models.EventListener) {
			defer eb.pendingWg.Done()
			l.OnEvent(event)
		}(listener)
	}
}

// Wait waits for all pending events to be processed
func (eb *eventBus) Wait() {
	eb.pendingWg.Wait()
}

func (eb *eventBus) EmitChainStarted(steps, rows int) {
	eb.Emit(models.EventChainStarted, map[string]interface{}{
		"steps": steps,
		"rows":  rows,
	})
}

func (eb *eventBus) EmitChainCompleted(duration time.Duration, err error) {
	data := map[string]interface{}{
		"duration": duration,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Emit(models.EventChainCompleted, data)
}

func (eb *eventBus) EmitRowStarted(inputIndex int) {
	eb.Emit(models.EventRowStarted, map[string]interface{}{
		"input_index": inputIndex,
	})
}

func (eb *eventBus) EmitRowCompleted(inputIndex, steps int) {
	eb.Emit(models.EventRowCompleted, map[string]interface{}{
		"input_index": inputIndex,
		"steps":       steps,
	})
}

func (eb *eventBus) EmitRowHalted(inputIndex, configIndex int, reason string) {
	eb.Emit(models.EventRowHalted, map[string]interface{}{
		"input_index":  inputIndex,
		"config_index": configIndex,
		"reason":       reason,
	})
}

// EmitStepResult emits step.completed or step.failed depending on the result
func (eb *eventBus) EmitStepResult(result models.StepResult) {
	eventType := models.EventStepCompleted
	if result.Failed {
		eventType = models.EventStepFailed
	}
	eb.Emit(eventType, map[string]interface{}{
		"input_index":  result.InputIndex,
		"config_index": result.ConfigIndex,
		"kind":         string(result.Kind),
		"cost":         result.Cost,
		"duration":     result.Duration,
		"cached":       result.Cached,
	})
}

func (eb *eventBus) EmitSandboxAbort(inputIndex, configIndex int, cause error) {
	eb.Emit(models.EventSandboxAbort, map[string]interface{}{
		"input_index":  inputIndex,
		"config_index": configIndex,
		"error":        cause.Error(),
	})
}
