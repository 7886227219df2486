package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// workerEnv marks a process started to run a single evaluation
const workerEnv = "PROMPTCHAIN_SANDBOX_WORKER"

// workerStartGrace is added to the timeout before the host kills a worker
// that failed to stop itself
const workerStartGrace = 2 * time.Second

type workerRequest struct {
	Code   string         `json:"code"`
	Values map[string]any `json:"values,omitempty"`
	Limits limits         `json:"limits"`
}

// Any binary importing this package can serve as its own worker
func init() {
	if os.Getenv(workerEnv) != "1" {
		return
	}
	os.Exit(serveWorker(os.Stdin, os.Stdout, os.Stderr))
}

// serveWorker runs one request read from r and writes the outcome to w
func serveWorker(r io.Reader, w, errw io.Writer) int {
	var req workerRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		fmt.Fprintf(errw, "sandbox worker: invalid request: %v\n", err)
		return 2
	}

	out := runVM(context.Background(), req.Code, req.Values, req.Limits)
	if err := json.NewEncoder(w).Encode(out); err != nil {
		fmt.Fprintf(errw, "sandbox worker: %v\n", err)
		return 2
	}
	return 0
}

func (e *Evaluator) evaluateInWorker(ctx context.Context, code string, values map[string]any) (outcome, error) {
	req, err := json.Marshal(workerRequest{Code: code, Values: values, Limits: e.limits()})
	if err != nil {
		return outcome{}, fmt.Errorf("failed to encode sandbox request: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout+workerStartGrace)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, e.command)
	cmd.Env = append(os.Environ(), workerEnv+"=1")
	cmd.Stdin = bytes.NewReader(req)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	switch {
	case ctx.Err() != nil:
		return outcome{Status: statusCancelled}, nil
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return outcome{Status: statusTimeout}, nil
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) && exitErr.ExitCode() == -1 {
			// Killed by a signal we did not send, typically the OOM killer
			e.cfg.Logger.Warn("Sandbox worker killed", zap.Error(runErr))
			return outcome{Status: statusMemory}, nil
		}
		return outcome{}, fmt.Errorf("sandbox worker failed: %w: %s", runErr, strings.TrimSpace(stderr.String()))
	}

	var out outcome
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return outcome{}, fmt.Errorf("failed to decode sandbox outcome: %w", err)
	}
	return out, nil
}
