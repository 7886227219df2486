package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/simon020286/go-promptchain"
	"github.com/simon020286/go-promptchain/builder"
	"github.com/simon020286/go-promptchain/config"
	"github.com/simon020286/go-promptchain/metrics"
	"github.com/simon020286/go-promptchain/models"
	"github.com/simon020286/go-promptchain/provider"
	"github.com/simon020286/go-promptchain/store"
	"github.com/simon020286/go-promptchain/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	chains := builder.NewChainRegistry(nil)
	require.NoError(t, chains.Register(&config.ChainConfig{
		Name: "greet",
		Steps: []config.StepConfig{
			{Type: "prompt", Config: map[string]interface{}{"text": "Hello {{name}}", "output": "greeting"}},
		},
		Inputs: []map[string]string{{"name": "world"}},
	}))

	collector := metrics.NewCollector(nil)
	seq := promptchain.NewSequencer(provider.Echo{}, nil)
	seq.AddListener(collector)

	s := &Server{
		Sequencer: seq,
		Store:     st,
		Chains:    chains,
		Metrics:   collector.Handler(),
	}
	return s, NewHandler(s)
}

func post(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b)))
	return w
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func aggregate(t *testing.T, body string, rows int) []models.PartialRun {
	t.Helper()
	agg := stream.NewAggregator(nil)
	require.NoError(t, agg.Consume(context.Background(), rows, strings.NewReader(body), nil))
	return agg.Snapshot()
}

func TestHealth(t *testing.T) {
	_, h := newTestServer(t)

	w := get(h, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRunChain_InlineStreamsAndPersists(t *testing.T) {
	_, h := newTestServer(t)

	w := post(t, h, "/api/chains/run", RunRequest{
		Steps: []config.StepConfig{
			{Type: "prompt", Config: map[string]interface{}{"text": "Hello {{name}}", "output": "greeting"}},
			{Type: "code", Config: map[string]interface{}{"code": "return {{greeting}}.length", "output": "size"}},
		},
		Inputs: []map[string]string{{"name": "ada"}, {"name": "grace"}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	executionID := w.Header().Get("X-Execution-ID")
	require.NotEmpty(t, executionID)

	partials := aggregate(t, w.Body.String(), 2)
	require.Len(t, partials, 4)
	assert.Equal(t, "Hello ada", partials[0].Output)
	assert.Equal(t, "9", partials[1].Output)
	assert.True(t, partials[1].IsLast)
	assert.Equal(t, "Hello grace", partials[2].Output)
	assert.Equal(t, "11", partials[3].Output)

	w = get(h, "/api/runs?execution="+executionID)
	require.Equal(t, http.StatusOK, w.Code)

	var listed []*models.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed, 4)
	for _, run := range listed {
		assert.Equal(t, executionID, run.ExecutionID)
		assert.NotEmpty(t, run.Inputs["name"])
		assert.Equal(t, run.Index == 1, run.IsLast, "run %d of row %d", run.Index, run.InputIndex)
	}
}

func TestRunChain_NamedChain(t *testing.T) {
	_, h := newTestServer(t)

	w := post(t, h, "/api/chains/run", RunRequest{Chain: "greet"})
	require.Equal(t, http.StatusOK, w.Code)

	partials := aggregate(t, w.Body.String(), 1)
	require.Len(t, partials, 1)
	assert.Equal(t, "Hello world", partials[0].Output)

	w = post(t, h, "/api/chains/run", RunRequest{Chain: "greet", Inputs: []map[string]string{{"name": "gopher"}}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Hello gopher", aggregate(t, w.Body.String(), 1)[0].Output)
}

func TestRunChain_Rejected(t *testing.T) {
	_, h := newTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"empty", RunRequest{}},
		{"unknown chain", RunRequest{Chain: "missing"}},
		{"unknown step type", RunRequest{Steps: []config.StepConfig{{Type: "shell", Config: map[string]interface{}{}}}}},
		{"unbound dynamic input", RunRequest{Steps: []config.StepConfig{
			{Type: "prompt", Config: map[string]interface{}{"text": "{{later}}", "dynamic_inputs": []string{"later"}}},
		}}},
		{"not json", "{"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(t, h, "/api/chains/run", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestListRuns_GroupsAndFilters(t *testing.T) {
	_, h := newTestServer(t)

	w := post(t, h, "/api/chains/run", RunRequest{Chain: "greet", Inputs: []map[string]string{{"name": "a"}, {"name": "b"}}})
	require.Equal(t, http.StatusOK, w.Code)

	w = get(h, "/api/runs?group=row")
	require.Equal(t, http.StatusOK, w.Code)
	var byRow [][]*models.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &byRow))
	assert.Len(t, byRow, 2)

	w = get(h, "/api/runs?group=time")
	require.Equal(t, http.StatusOK, w.Code)
	var byTime [][]*models.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &byTime))
	require.Len(t, byTime, 1)
	assert.Len(t, byTime[0], 2)

	assert.Equal(t, http.StatusBadRequest, get(h, "/api/runs?group=week").Code)
	assert.Equal(t, http.StatusBadRequest, get(h, "/api/runs?limit=x").Code)

	w = get(h, "/api/runs?execution=nope")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestRateAndLabelRun(t *testing.T) {
	s, h := newTestServer(t)

	id, err := s.Store.SaveRun(context.Background(), &models.Run{ExecutionID: "e", Output: "x"})
	require.NoError(t, err)
	path := "/api/runs/" + strconv.FormatInt(id, 10)

	assert.Equal(t, http.StatusNoContent, post(t, h, path+"/rating", map[string]string{"rating": "positive"}).Code)
	assert.Equal(t, http.StatusNoContent, post(t, h, path+"/labels", map[string]string{"label": "golden"}).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, h, path+"/labels", map[string]string{}).Code)

	w := get(h, path)
	require.Equal(t, http.StatusOK, w.Code)
	var run models.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, "positive", run.Rating)
	assert.Equal(t, []string{"golden"}, run.Labels)

	w = get(h, "/api/runs?label=golden")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"golden"`)

	assert.Equal(t, http.StatusNotFound, get(h, "/api/runs/9999").Code)
	assert.Equal(t, http.StatusBadRequest, get(h, "/api/runs/abc").Code)
}

func TestListChainsAndMetrics(t *testing.T) {
	_, h := newTestServer(t)

	w := get(h, "/api/chains")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["greet"]`, w.Body.String())

	require.Equal(t, http.StatusOK, post(t, h, "/api/chains/run", RunRequest{Chain: "greet"}).Code)

	w = get(h, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `promptchain_rows_total{outcome="completed"} 1`)
}

func TestWithoutStore(t *testing.T) {
	h := NewHandler(&Server{Sequencer: promptchain.NewSequencer(provider.Echo{}, nil)})

	assert.Equal(t, http.StatusNotImplemented, get(h, "/api/runs").Code)
	assert.Equal(t, http.StatusNotFound, get(h, "/metrics").Code)

	w := post(t, h, "/api/chains/run", RunRequest{
		Steps: []config.StepConfig{{Type: "prompt", Config: map[string]interface{}{"text": "hi"}}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hi", aggregate(t, w.Body.String(), 1)[0].Output)
}
