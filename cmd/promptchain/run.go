package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/simon020286/go-promptchain"
	"github.com/simon020286/go-promptchain/builder"
	"github.com/simon020286/go-promptchain/models"
	"github.com/simon020286/go-promptchain/store"
	"github.com/simon020286/go-promptchain/stream"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type runFlags struct {
	inputs         []string
	inputsFile     string
	useCache       bool
	camelCase      bool
	concurrency    int
	continuationID int64
	parentRunID    int64
	persist        bool
	jsonOutput     bool
	progress       bool
}

func newRunCmd(c *cli) *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run <chain-file|chain-name>",
		Short: "Run a chain locally and print the output of every step",
		Long: `Runs a chain definition once per input row. Progress is encoded as a
stream of frames and decoded back into partial runs, exactly as an HTTP client
of "promptchain serve" would see it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.concurrency > 0 {
				c.cfg.Concurrency = f.concurrency
			}

			a, err := newApp(c.cfg, c.logger, f.persist)
			if err != nil {
				return err
			}
			defer a.close()

			def, err := a.resolveChain(args[0])
			if err != nil {
				return err
			}

			inputs, err := loadInputs(f.inputs, f.inputsFile)
			if err != nil {
				return err
			}
			if len(inputs) > 0 {
				cfg := *def
				cfg.Inputs = inputs
				def = &cfg
			}

			steps, rows, err := promptchain.BuildFromConfig(def)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			partials, err := runLocal(ctx, a, steps, rows, f, c.logger, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return printPartials(cmd.OutOrStdout(), partials, f.jsonOutput)
		},
	}

	cmd.Flags().StringArrayVarP(&f.inputs, "input", "i", nil, "Input variable as name=value (repeatable, forms one row)")
	cmd.Flags().StringVar(&f.inputsFile, "inputs", "", "YAML or JSON file with a list of input rows")
	cmd.Flags().BoolVar(&f.useCache, "cache", false, "Serve repeated prompts from the response cache")
	cmd.Flags().BoolVar(&f.camelCase, "camel-case", false, "Camel-case variable names")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "Rows run in parallel (default from config)")
	cmd.Flags().Int64Var(&f.continuationID, "continuation", 0, "Continuation id stamped on every step")
	cmd.Flags().Int64Var(&f.parentRunID, "parent", 0, "Parent run id of the saved runs")
	cmd.Flags().BoolVar(&f.persist, "save", false, "Save completed steps to the run store")
	cmd.Flags().BoolVar(&f.jsonOutput, "json", false, "Print partial runs as JSON")
	cmd.Flags().BoolVar(&f.progress, "progress", false, "Print a progress line after every read")
	return cmd
}

// runLocal pipes the sequencer's frames through the aggregator and returns
// the final partial runs
func runLocal(ctx context.Context, a *app, steps []models.Step, rows []models.InputRow, f *runFlags, logger *zap.Logger, progress io.Writer) ([]models.PartialRun, error) {
	pr, pw := io.Pipe()
	defer pr.Close()

	enc := stream.NewEncoder(pw,
		stream.WithContinuationID(f.continuationID),
		stream.WithEncoderLogger(logger))

	last := enc.LastFunc()
	onRowDone := last
	var persist func(context.Context, models.StepResult) error
	if a.store != nil {
		executionID := builder.GenerateExecutionID()
		rec := a.store.NewRecorder(executionID, rows,
			store.WithParentRun(f.parentRunID),
			store.WithContinuation(f.continuationID),
			store.WithRecorderLogger(logger))
		persist = rec.Record
		onRowDone = func(inputIndex, configIndex int) {
			rec.RowDone(inputIndex, configIndex)
			last(inputIndex, configIndex)
		}
		logger.Info("Saving runs", zap.String("execution_id", executionID))
	}

	opts := promptchain.RunOptions{
		UseCache:          f.useCache,
		UseIdentifierCase: f.camelCase,
		ContinuationID:    f.continuationID,
		OnRowDone:         onRowDone,
	}

	runErr := make(chan error, 1)
	go func() {
		err := a.sequencer.Run(ctx, steps, rows, opts, enc.StepCompleteFunc(persist), enc.ChunkFunc())
		pw.CloseWithError(err)
		runErr <- err
	}()

	var onSnapshot func([]models.PartialRun)
	if f.progress {
		onSnapshot = func(snapshot []models.PartialRun) {
			var done int
			for _, p := range snapshot {
				if p.IsLast {
					done++
				}
			}
			fmt.Fprintf(progress, "\r%d/%d rows done, %d steps streaming", done, len(rows), len(snapshot))
		}
	}

	agg := stream.NewAggregator(logger)
	if err := agg.Consume(ctx, len(rows), pr, onSnapshot); err != nil {
		pr.CloseWithError(err)
		<-runErr
		return nil, err
	}
	if f.progress {
		fmt.Fprintln(progress)
	}

	if err := <-runErr; err != nil {
		return nil, err
	}
	return agg.Snapshot(), nil
}

// loadInputs builds input rows from name=value flags (one row) or a file
func loadInputs(pairs []string, path string) ([]map[string]string, error) {
	var rows []map[string]string

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read inputs %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &rows); err != nil {
			return nil, fmt.Errorf("failed to parse inputs %s: %w", path, err)
		}
	}

	if len(pairs) > 0 {
		row := make(map[string]string, len(pairs))
		for _, pair := range pairs {
			name, value, ok := strings.Cut(pair, "=")
			if !ok || name == "" {
				return nil, fmt.Errorf("invalid input %q, expected name=value", pair)
			}
			row[name] = value
		}
		rows = append(rows, row)
	}

	return rows, nil
}

func printPartials(w io.Writer, partials []models.PartialRun, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(partials)
	}

	for _, p := range partials {
		status := ""
		if p.Failed {
			status = " (failed)"
		}
		fmt.Fprintf(w, "== row %d, step %d%s\n%s\n", p.InputIndex, p.Index, status, strings.TrimSpace(p.Output))
	}
	return nil
}
