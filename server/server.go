// Package server exposes chain runs over HTTP. Runs stream their progress as
// server-sent events; persisted runs can be listed, rated and labelled.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/simon020286/go-promptchain"
	"github.com/simon020286/go-promptchain/builder"
	"github.com/simon020286/go-promptchain/config"
	"github.com/simon020286/go-promptchain/models"
	"github.com/simon020286/go-promptchain/runs"
	"github.com/simon020286/go-promptchain/store"
	"github.com/simon020286/go-promptchain/stream"
	"go.uber.org/zap"
)

// Server holds the dependencies of the HTTP handlers
type Server struct {
	Sequencer *promptchain.Sequencer

	// Store persists every completed step; runs are not saved without it
	Store *store.SQLite

	// Chains resolves chains by name
	Chains *builder.ChainRegistry

	// Metrics is served on /metrics when set
	Metrics http.Handler

	Logger *zap.Logger
}

// RunRequest is the body of POST /api/chains/run. Either Chain names a
// registered chain or Steps defines one inline. Inputs override the inputs of
// a named chain when set.
type RunRequest struct {
	Chain          string              `json:"chain,omitempty"`
	Steps          []config.StepConfig `json:"steps,omitempty"`
	Inputs         []map[string]string `json:"inputs,omitempty"`
	UseCache       bool                `json:"useCache,omitempty"`
	UseCamelCase   bool                `json:"useCamelCase,omitempty"`
	ContinuationID int64               `json:"continuationID,omitempty"`
	ParentRunID    int64               `json:"parentRunID,omitempty"`
	UserID         int64               `json:"userID,omitempty"`
}

// NewHandler creates the HTTP handler
func NewHandler(s *Server) http.Handler {
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.Health)
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/chains", s.ListChains)
		r.Post("/chains/run", s.RunChain)
		r.Get("/runs", s.ListRuns)
		r.Get("/runs/{id}", s.GetRun)
		r.Post("/runs/{id}/rating", s.RateRun)
		r.Post("/runs/{id}/labels", s.LabelRun)
	})

	return r
}

// Health handles GET /healthz
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.Logger)
}

// ListChains handles GET /api/chains
func (s *Server) ListChains(w http.ResponseWriter, r *http.Request) {
	names := []string{}
	if s.Chains != nil {
		names = s.Chains.List()
	}
	writeJSON(w, http.StatusOK, names, s.Logger)
}

// RunChain handles POST /api/chains/run. Once the chain is accepted the
// response is a stream of "data: <json>" frames.
func (s *Server) RunChain(w http.ResponseWriter, r *http.Request) {
	var body RunRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.Logger.Warn("RunChain: invalid request body", zap.Error(err))
		return
	}

	cfg, err := s.chainConfig(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	steps, rows, err := promptchain.BuildFromConfig(cfg)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid chain: %v", err), http.StatusBadRequest)
		return
	}

	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	executionID := builder.GenerateExecutionID()
	logger := s.Logger.With(zap.String("execution_id", executionID))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Execution-ID", executionID)
	w.WriteHeader(http.StatusOK)

	enc := stream.NewEncoder(w,
		stream.WithContinuationID(body.ContinuationID),
		stream.WithEncoderLogger(logger))

	last := enc.LastFunc()
	onRowDone := last
	var persist func(ctx context.Context, result models.StepResult) error
	if s.Store != nil {
		rec := s.Store.NewRecorder(executionID, rows,
			store.WithParentRun(body.ParentRunID),
			store.WithContinuation(body.ContinuationID),
			store.WithUser(body.UserID),
			store.WithRecorderLogger(logger))
		persist = rec.Record
		onRowDone = func(inputIndex, configIndex int) {
			rec.RowDone(inputIndex, configIndex)
			last(inputIndex, configIndex)
		}
	}

	opts := promptchain.RunOptions{
		UseCache:          body.UseCache,
		UseIdentifierCase: body.UseCamelCase,
		ContinuationID:    body.ContinuationID,
		OnRowDone:         onRowDone,
	}

	start := time.Now()
	err = s.Sequencer.Run(r.Context(), steps, rows, opts, enc.StepCompleteFunc(persist), enc.ChunkFunc())
	if err != nil {
		logger.Warn("Chain run ended with error", zap.Error(err))
		return
	}
	logger.Info("Chain run streamed",
		zap.Int("steps", len(steps)),
		zap.Int("rows", len(rows)),
		zap.Duration("duration", time.Since(start)))
}

func (s *Server) chainConfig(body RunRequest) (*config.ChainConfig, error) {
	if body.Chain == "" {
		if len(body.Steps) == 0 {
			return nil, errors.New("either 'chain' or 'steps' is required")
		}
		return &config.ChainConfig{Name: "inline", Steps: body.Steps, Inputs: body.Inputs}, nil
	}

	if s.Chains == nil {
		return nil, fmt.Errorf("chain %q not found", body.Chain)
	}
	def, ok := s.Chains.Get(body.Chain)
	if !ok {
		return nil, fmt.Errorf("chain %q not found", body.Chain)
	}

	cfg := *def
	if len(body.Inputs) > 0 {
		cfg.Inputs = body.Inputs
	}
	return &cfg, nil
}

// ListRuns handles GET /api/runs. Runs are merged into continuation groups
// and sorted; group=time or group=row additionally buckets them.
func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		http.Error(w, "Run storage not configured", http.StatusNotImplemented)
		return
	}

	q := r.URL.Query()
	opts := store.ListOptions{
		ExecutionID: q.Get("execution"),
		Label:       q.Get("label"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		opts.Limit = limit
	}
	if v := q.Get("user"); v != "" {
		user, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "Invalid user", http.StatusBadRequest)
			return
		}
		opts.UserID = user
	}

	items, err := s.Store.ListRuns(r.Context(), opts)
	if err != nil {
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		s.Logger.Error("ListRuns failed", zap.Error(err))
		return
	}

	sorted := runs.SortRuns(runs.Merge(items))
	if sorted == nil {
		sorted = []*models.Run{}
	}

	switch q.Get("group") {
	case "":
		writeJSON(w, http.StatusOK, sorted, s.Logger)
	case "time":
		gap := runs.DefaultGroupGap
		if v := q.Get("gap"); v != "" {
			gap, err = time.ParseDuration(v)
			if err != nil {
				http.Error(w, "Invalid gap", http.StatusBadRequest)
				return
			}
		}
		writeJSON(w, http.StatusOK, runs.GroupByTime(sorted, gap), s.Logger)
	case "row":
		writeJSON(w, http.StatusOK, runs.GroupByRow(sorted, rowIndexOf(sorted)), s.Logger)
	default:
		http.Error(w, "Invalid group, expected 'time' or 'row'", http.StatusBadRequest)
	}
}

// rowIndexOf numbers the distinct input rows in order of first appearance
func rowIndexOf(items []*models.Run) runs.RowIndex {
	rows := make([]models.InputRow, 0, len(items))
	for _, item := range items {
		rows = append(rows, item.Inputs)
	}
	return runs.NewRowIndex(rows)
}

// GetRun handles GET /api/runs/{id}
func (s *Server) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}

	run, err := s.Store.GetRun(r.Context(), id)
	if err != nil {
		s.storeError(w, "GetRun", err)
		return
	}
	writeJSON(w, http.StatusOK, run, s.Logger)
}

// RateRun handles POST /api/runs/{id}/rating with body {"rating": "..."}
func (s *Server) RateRun(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}

	var body struct {
		Rating string `json:"rating"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.Store.SetRating(r.Context(), id, body.Rating); err != nil {
		s.storeError(w, "RateRun", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LabelRun handles POST /api/runs/{id}/labels with body {"label": "..."}
func (s *Server) LabelRun(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}

	var body struct {
		Label string `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Label == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.Store.AddLabel(r.Context(), id, body.Label); err != nil {
		s.storeError(w, "LabelRun", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) runID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if s.Store == nil {
		http.Error(w, "Run storage not configured", http.StatusNotImplemented)
		return 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid run id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, store.ErrRunNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, "Storage error", http.StatusInternalServerError)
	s.Logger.Error(op+" failed", zap.Error(err))
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Response encode failed", zap.Error(err))
	}
}
