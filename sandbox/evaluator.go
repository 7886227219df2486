// Package sandbox evaluates user-authored JavaScript snippets in a fresh goja
// runtime per call, bounded by a wall-clock timeout and a heap ceiling.
//
// By default every evaluation runs in a short-lived worker process started
// from the current executable, so the heap ceiling measures that evaluation
// alone and a runaway snippet can be killed outright.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/simon020286/go-promptchain/variables"
	"go.uber.org/zap"
)

const (
	DefaultTimeout          = time.Second
	DefaultMemoryLimit      = 8 << 20
	DefaultMaxCallStackSize = 1024
)

var (
	// ErrTimeout is the cause of an abort after the wall-clock limit
	ErrTimeout = errors.New("evaluation timed out")

	// ErrMemoryLimit is the cause of an abort after the heap ceiling was crossed
	ErrMemoryLimit = errors.New("evaluation exceeded memory limit")
)

// AbortError reports an evaluation the host stopped forcibly
type AbortError struct {
	Cause error
}

func (e *AbortError) Error() string {
	return "code evaluation aborted: " + e.Cause.Error()
}

func (e *AbortError) Unwrap() error {
	return e.Cause
}

// ChunkFunc receives text that should reach the client as partial output
type ChunkFunc func(message string)

// Result of a successful evaluation. Defined is false when the code returned
// undefined (or threw), which callers treat as "no output".
type Result struct {
	Output  string
	Defined bool
}

// Config bounds every evaluation
type Config struct {
	// Timeout is the wall-clock limit. Default: 1s
	Timeout time.Duration

	// MemoryLimit is the heap growth allowed during one evaluation, in bytes.
	// Default: 8 MiB
	MemoryLimit uint64

	// MaxCallStackSize bounds JS recursion. Default: 1024
	MaxCallStackSize int

	// InProcess runs evaluations in the calling process, one at a time.
	// Heap readings are then process-wide, so allocations made elsewhere in
	// the host count against the running evaluation.
	InProcess bool

	Logger *zap.Logger
}

// Evaluator runs code snippets. It is safe for concurrent use; each call gets
// its own runtime.
type Evaluator struct {
	cfg Config

	// command is the worker executable, empty when running in process
	command string
}

// New creates an evaluator, filling unset limits with defaults
func New(cfg Config) *Evaluator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MemoryLimit == 0 {
		cfg.MemoryLimit = DefaultMemoryLimit
	}
	if cfg.MaxCallStackSize <= 0 {
		cfg.MaxCallStackSize = DefaultMaxCallStackSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	e := &Evaluator{cfg: cfg}
	if !cfg.InProcess {
		exe, err := os.Executable()
		if err != nil {
			cfg.Logger.Warn("Sandbox worker unavailable, evaluating in process", zap.Error(err))
			e.cfg.InProcess = true
		} else {
			e.command = exe
		}
	}
	return e
}

func (e *Evaluator) limits() limits {
	return limits{
		Timeout:          e.cfg.Timeout,
		MemoryLimit:      e.cfg.MemoryLimit,
		MaxCallStackSize: e.cfg.MaxCallStackSize,
	}
}

// Evaluate runs code with the identifiers of sc bound as globals.
//
// A thrown exception is forwarded to onChunk and reported as "no output"
// with a nil error. A timeout or memory abort is forwarded to onChunk and
// returned as *AbortError.
func (e *Evaluator) Evaluate(ctx context.Context, code string, sc *Context, onChunk ChunkFunc) (Result, error) {
	var values map[string]any
	if sc != nil {
		values = sc.Values()
	}

	// Wrap the code in an anonymous function so it can use return
	wrapped := "(function() {\n" + variables.ToIdentifiers(code) + "\n})()"

	var out outcome
	if e.command == "" {
		out = evaluateInProcess(ctx, wrapped, values, e.limits())
	} else {
		var err error
		out, err = e.evaluateInWorker(ctx, wrapped, values)
		if err != nil {
			return Result{}, err
		}
	}

	return e.result(ctx, out, onChunk)
}

func (e *Evaluator) result(ctx context.Context, out outcome, onChunk ChunkFunc) (Result, error) {
	var cause error
	switch out.Status {
	case statusOK:
		return Result{Output: out.Output, Defined: out.Defined}, nil
	case statusThrew:
		e.cfg.Logger.Warn("Sandbox evaluation threw", zap.String("error", out.Message))
		emit(onChunk, out.Message)
		return Result{}, nil
	case statusBind:
		return Result{}, errors.New(out.Message)
	case statusTimeout:
		cause = ErrTimeout
	case statusMemory:
		cause = ErrMemoryLimit
	case statusCancelled:
		cause = ctx.Err()
		if cause == nil {
			cause = context.Canceled
		}
	default:
		return Result{}, fmt.Errorf("sandbox: unknown evaluation status %q", out.Status)
	}

	abort := &AbortError{Cause: cause}
	e.cfg.Logger.Warn("Sandbox evaluation aborted", zap.Error(abort))
	emit(onChunk, abort.Error())
	return Result{}, abort
}

func emit(onChunk ChunkFunc, message string) {
	if onChunk != nil {
		onChunk(message)
	}
}
