// Package promptchain runs ordered chains of prompt and code steps once per
// input row, streaming partial output and reporting each completed step.
package promptchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/simon020286/go-promptchain/cache"
	"github.com/simon020286/go-promptchain/models"
	"github.com/simon020286/go-promptchain/provider"
	"github.com/simon020286/go-promptchain/sandbox"
	"github.com/simon020286/go-promptchain/variables"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// StepCompleteFunc is invoked once per completed step. An error halts the
// row it belongs to.
type StepCompleteFunc func(ctx context.Context, result models.StepResult) error

// ChunkFunc receives partial output of a step as soon as it is available
type ChunkFunc func(inputIndex, configIndex int, message string)

// RowDoneFunc reports the last step executed for an input row
type RowDoneFunc func(inputIndex, configIndex int)

// RunOptions controls a single chain run
type RunOptions struct {
	// UseCache serves repeated prompts from the response cache
	UseCache bool

	// UseIdentifierCase camel-cases variable names in templates and bindings
	UseIdentifierCase bool

	// ContinuationID is copied into every StepResult
	ContinuationID int64

	// OnRowDone is called once per row after it finishes or halts
	OnRowDone RowDoneFunc
}

// Sequencer executes chains. A Sequencer is safe for concurrent runs.
type Sequencer struct {
	predictor   provider.Predictor
	evaluator   *sandbox.Evaluator
	cache       cache.Store
	logger      *zap.Logger
	concurrency int

	// Event handling (private)
	eventBus *eventBus
}

type Option func(*Sequencer)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Sequencer) {
		s.logger = logger
	}
}

// WithCache sets the response cache used when RunOptions.UseCache is set
func WithCache(store cache.Store) Option {
	return func(s *Sequencer) {
		s.cache = store
	}
}

// WithConcurrency runs up to n rows in parallel. Steps within a row always
// run in order.
func WithConcurrency(n int) Option {
	return func(s *Sequencer) {
		s.concurrency = n
	}
}

// NewSequencer creates a sequencer
func NewSequencer(predictor provider.Predictor, evaluator *sandbox.Evaluator, opts ...Option) *Sequencer {
	s := &Sequencer{
		predictor:   predictor,
		evaluator:   evaluator,
		logger:      zap.NewNop(),
		concurrency: 1,
		eventBus:    newEventBus(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.evaluator == nil {
		s.evaluator = sandbox.New(sandbox.Config{Logger: s.logger})
	}
	return s
}

// AddListener registers a lifecycle event listener
func (s *Sequencer) AddListener(listener models.EventListener) {
	s.eventBus.addListener(listener)
}

// Run executes steps for every row. Rows are independent: a failing or
// halting row never affects another. The returned error is non-nil only for
// an invalid chain or a cancelled context.
func (s *Sequencer) Run(ctx context.Context, steps []models.Step, rows []models.InputRow, opts RunOptions, onStepComplete StepCompleteFunc, onChunk ChunkFunc) (err error) {
	if err := Validate(steps, rows); err != nil {
		return fmt.Errorf("invalid chain: %w", err)
	}

	if onStepComplete == nil {
		onStepComplete = func(context.Context, models.StepResult) error { return nil }
	}
	if onChunk == nil {
		onChunk = func(int, int, string) {}
	}

	predictor := s.predictor
	if opts.UseCache && s.cache != nil {
		predictor = provider.WithCache(predictor, s.cache, s.logger)
	}

	r := &chainRun{
		Sequencer:      s,
		steps:          steps,
		opts:           opts,
		predictor:      predictor,
		onStepComplete: onStepComplete,
		onChunk:        onChunk,
	}

	startTime := time.Now()
	s.eventBus.EmitChainStarted(len(steps), len(rows))
	s.logger.Info("Chain started", zap.Int("steps", len(steps)), zap.Int("rows", len(rows)))
	defer func() {
		duration := time.Since(startTime)
		s.eventBus.EmitChainCompleted(duration, err)
		s.eventBus.Wait()
		s.logger.Info("Chain completed", zap.Duration("duration", duration), zap.Error(err))
	}()

	if s.concurrency <= 1 {
		for inputIndex, row := range rows {
			if err := r.runRow(ctx, inputIndex, row); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for inputIndex, row := range rows {
		inputIndex, row := inputIndex, row
		g.Go(func() error {
			return r.runRow(gctx, inputIndex, row)
		})
	}
	return g.Wait()
}

// Validate checks a chain before it runs: every step is well formed and
// every dynamic input is bound by an earlier step or by every row.
func Validate(steps []models.Step, rows []models.InputRow) error {
	bound := make(map[string]bool)
	bind := func(name string) {
		bound[name] = true
		bound[variables.CamelCase(name)] = true
	}

	if len(rows) > 0 {
		for name := range rows[0] {
			inAll := true
			for _, row := range rows[1:] {
				if _, ok := row[name]; !ok {
					inAll = false
					break
				}
			}
			if inAll {
				bind(name)
			}
		}
	}

	for i, step := range steps {
		if err := step.Check(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}

		switch step.Kind {
		case models.StepKindPrompt:
			for _, name := range step.Prompt.DynamicInputs {
				if !bound[name] && !bound[variables.CamelCase(name)] {
					return models.ErrUnboundInput(i, name)
				}
			}
		case models.StepKindCode:
			if step.Code.Code == "" {
				return fmt.Errorf("step %d: %w", i, models.ErrMissingConfig("code"))
			}
		}

		if name := step.OutputName(); name != "" {
			bind(name)
		}
	}

	return nil
}

// chainRun holds what is shared by every row of one Run call
type chainRun struct {
	*Sequencer
	steps          []models.Step
	opts           RunOptions
	predictor      provider.Predictor
	onStepComplete StepCompleteFunc
	onChunk        ChunkFunc
}

// runRow executes the steps for one row until the last step or a halt.
// Only context cancellation is returned as an error.
func (r *chainRun) runRow(ctx context.Context, inputIndex int, row models.InputRow) error {
	exec := newExecution(row, r.opts.UseIdentifierCase)
	logger := r.logger.With(zap.Int("input_index", inputIndex))

	lastIndex := -1
	defer func() {
		if lastIndex >= 0 && r.opts.OnRowDone != nil {
			r.opts.OnRowDone(inputIndex, lastIndex)
		}
	}()

	r.eventBus.EmitRowStarted(inputIndex)

	for configIndex, step := range r.steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastIndex = configIndex

		var (
			output string
			halt   string
			err    error
		)
		switch step.Kind {
		case models.StepKindPrompt:
			output, halt, err = r.runPrompt(ctx, exec, inputIndex, configIndex, step.Prompt)
		case models.StepKindCode:
			output, halt, err = r.runCode(ctx, exec, inputIndex, configIndex, step.Code)
		}
		if err != nil {
			return err
		}

		if halt != "" {
			logger.Info("Row halted", zap.Int("config_index", configIndex), zap.String("reason", halt))
			r.eventBus.EmitRowHalted(inputIndex, configIndex, halt)
			return nil
		}

		exec.bind(step.OutputName(), output)
	}

	r.eventBus.EmitRowCompleted(inputIndex, len(r.steps))
	return nil
}

func (r *chainRun) runPrompt(ctx context.Context, exec *execution, inputIndex, configIndex int, step *models.PromptStep) (string, string, error) {
	prompt := exec.resolve(step.Text)
	exec.appendContext(prompt)

	sent := prompt
	if step.IncludeContext {
		sent = exec.runningContext
	}

	streamed := false
	stream := func(chunk string) {
		if chunk == "" {
			return
		}
		streamed = true
		r.onChunk(inputIndex, configIndex, chunk)
	}

	startTime := time.Now()
	pred, err := r.predictor.Predict(ctx, provider.Request{Prompt: sent, Config: step.Config}, stream)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", "", ctxErr
		}
		r.logger.Warn("Prediction failed",
			zap.Int("input_index", inputIndex),
			zap.Int("config_index", configIndex),
			zap.String("provider", step.Config.Provider),
			zap.Error(err))
		pred.Failed = true
	}
	if pred.Duration == 0 {
		pred.Duration = time.Since(startTime).Seconds()
	}

	if !streamed && pred.Output != "" {
		r.onChunk(inputIndex, configIndex, pred.Output)
	}

	result := models.StepResult{
		InputIndex:     inputIndex,
		ConfigIndex:    configIndex,
		Kind:           models.StepKindPrompt,
		VersionID:      step.VersionID,
		Output:         pred.Output,
		Cost:           pred.Cost,
		Duration:       pred.Duration,
		Failed:         pred.Failed,
		Cached:         pred.Cached,
		ContinuationID: r.opts.ContinuationID,
	}
	if halt, err := r.complete(ctx, result); halt != "" || err != nil {
		return "", halt, err
	}

	switch {
	case pred.Failed:
		return "", models.HaltProviderFailed, nil
	case pred.Output == "":
		return "", models.HaltEmptyOutput, nil
	}

	exec.appendContext("\n\n" + pred.Output + "\n\n")
	return pred.Output, "", nil
}

func (r *chainRun) runCode(ctx context.Context, exec *execution, inputIndex, configIndex int, step *models.CodeStep) (string, string, error) {
	chunk := func(message string) {
		r.onChunk(inputIndex, configIndex, message)
	}

	startTime := time.Now()
	res, err := r.evaluator.Evaluate(ctx, step.Code, exec.sandbox, chunk)
	duration := time.Since(startTime).Seconds()

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", "", ctxErr
		}

		var abort *sandbox.AbortError
		if !errors.As(err, &abort) {
			r.logger.Warn("Code step could not start", zap.Int("input_index", inputIndex), zap.Int("config_index", configIndex), zap.Error(err))
			return "", models.HaltNoResult, nil
		}

		r.eventBus.EmitSandboxAbort(inputIndex, configIndex, abort)
		result := models.StepResult{
			InputIndex:     inputIndex,
			ConfigIndex:    configIndex,
			Kind:           models.StepKindCode,
			Output:         abort.Error(),
			Duration:       duration,
			Failed:         true,
			ContinuationID: r.opts.ContinuationID,
		}
		if halt, err := r.complete(ctx, result); halt != "" || err != nil {
			return "", halt, err
		}
		return "", models.HaltSandboxAbort, nil
	}

	if !res.Defined {
		return "", models.HaltNoResult, nil
	}

	chunk(res.Output)

	result := models.StepResult{
		InputIndex:     inputIndex,
		ConfigIndex:    configIndex,
		Kind:           models.StepKindCode,
		Output:         res.Output,
		Duration:       duration,
		ContinuationID: r.opts.ContinuationID,
	}
	if halt, err := r.complete(ctx, result); halt != "" || err != nil {
		return "", halt, err
	}
	return res.Output, "", nil
}

// complete hands a result to the step-complete hook. A hook error halts the
// row, unless the context is gone, in which case the run stops.
func (r *chainRun) complete(ctx context.Context, result models.StepResult) (string, error) {
	r.eventBus.EmitStepResult(result)

	if err := r.onStepComplete(ctx, result); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		r.logger.Error("Step completion hook failed",
			zap.Int("input_index", result.InputIndex),
			zap.Int("config_index", result.ConfigIndex),
			zap.Error(err))
		return models.HaltCallbackError, nil
	}
	return "", nil
}
