package sandbox

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/metrics"
	"sync"
	"time"

	"github.com/dop251/goja"
)

const (
	sampleInterval = 5 * time.Millisecond
	heapMetric     = "/memory/classes/heap/objects:bytes"
)

// Evaluation outcomes, shared by the in-process path and the worker protocol
const (
	statusOK        = "ok"
	statusThrew     = "threw"
	statusBind      = "bind"
	statusTimeout   = "timeout"
	statusMemory    = "memory"
	statusCancelled = "cancelled"
)

type limits struct {
	Timeout          time.Duration `json:"timeout"`
	MemoryLimit      uint64        `json:"memoryLimit"`
	MaxCallStackSize int           `json:"maxCallStackSize"`
}

type outcome struct {
	Status  string `json:"status"`
	Output  string `json:"output,omitempty"`
	Defined bool   `json:"defined,omitempty"`
	Message string `json:"message,omitempty"`
}

// inProcessSlot serializes in-process evaluations so that heap growth is at
// least not shared between two running snippets
var inProcessSlot = make(chan struct{}, 1)

func evaluateInProcess(ctx context.Context, code string, values map[string]any, lim limits) outcome {
	select {
	case inProcessSlot <- struct{}{}:
	case <-ctx.Done():
		return outcome{Status: statusCancelled, Message: ctx.Err().Error()}
	}
	defer func() { <-inProcessSlot }()

	return runVM(ctx, code, values, lim)
}

// runVM evaluates already wrapped code in a fresh runtime
func runVM(ctx context.Context, code string, values map[string]any, lim limits) outcome {
	vm := goja.New()
	vm.SetMaxCallStackSize(lim.MaxCallStackSize)

	for id, value := range values {
		if err := vm.Set(id, value); err != nil {
			return outcome{Status: statusBind, Message: fmt.Sprintf("failed to bind '%s' in sandbox: %v", id, err)}
		}
	}

	// Taken before the code runs so that an up-front allocation counts
	baseline := heapInUse()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		watch(ctx, vm, done, baseline, lim)
	}()

	value, err := vm.RunString(code)
	close(done)
	wg.Wait()

	if err != nil {
		var interrupted *goja.InterruptedError
		if !errors.As(err, &interrupted) {
			return outcome{Status: statusThrew, Message: err.Error()}
		}
		switch interrupted.Value() {
		case ErrTimeout:
			return outcome{Status: statusTimeout}
		case ErrMemoryLimit:
			return outcome{Status: statusMemory}
		}
		return outcome{Status: statusCancelled, Message: fmt.Sprint(interrupted.Value())}
	}

	// Code that allocates and returns between two samples is caught here
	if overLimit(baseline, lim.MemoryLimit) {
		runtime.GC()
		if overLimit(baseline, lim.MemoryLimit) {
			return outcome{Status: statusMemory}
		}
	}
	runtime.KeepAlive(value)

	return export(vm, value)
}

// watch interrupts vm on timeout, cancellation or heap growth until done closes
func watch(ctx context.Context, vm *goja.Runtime, done <-chan struct{}, baseline uint64, lim limits) {
	timer := time.NewTimer(lim.Timeout)
	defer timer.Stop()
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
			return
		case <-timer.C:
			vm.Interrupt(ErrTimeout)
			return
		case <-ticker.C:
			if !overLimit(baseline, lim.MemoryLimit) {
				continue
			}
			// Garbage counts until swept; only abort on memory that survives a collection
			runtime.GC()
			if overLimit(baseline, lim.MemoryLimit) {
				vm.Interrupt(ErrMemoryLimit)
				return
			}
		}
	}
}

func overLimit(baseline, limit uint64) bool {
	current := heapInUse()
	return current > baseline && current-baseline > limit
}

func heapInUse() uint64 {
	sample := []metrics.Sample{{Name: heapMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}

// export coerces a JS value into the string handed to the next step
func export(vm *goja.Runtime, value goja.Value) outcome {
	if value == nil || goja.IsUndefined(value) {
		return outcome{Status: statusOK}
	}

	if obj, ok := value.(*goja.Object); ok {
		if stringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify")); ok {
			encoded, err := stringify(goja.Undefined(), obj)
			if err == nil && encoded != nil && !goja.IsUndefined(encoded) {
				return outcome{Status: statusOK, Output: encoded.String(), Defined: true}
			}
		}
	}

	return outcome{Status: statusOK, Output: value.String(), Defined: true}
}
