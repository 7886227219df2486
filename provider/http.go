package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/simon020286/go-promptchain/config"
	"go.uber.org/zap"
)

const defaultPredictPath = "/v1/predict"

// HTTP calls a model backend speaking a small JSON contract.
//
// Request body:
//
//	{"model": "...", "prompt": "...", "temperature": 0.7, "maxTokens": 256, "stream": true}
//
// The backend answers either with a JSON body {"output", "cost", "failed"}
// or, with Content-Type text/event-stream, with "data:" frames of
// {"delta", "cost", "failed"} where deltas are concatenated.
type HTTP struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
	logger  *zap.Logger
}

type predictBody struct {
	Model       string  `json:"model,omitempty"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	Stream      bool    `json:"stream"`
}

type predictResponse struct {
	Output string  `json:"output"`
	Delta  string  `json:"delta"`
	Cost   float64 `json:"cost"`
	Failed bool    `json:"failed"`
}

// NewHTTP creates an HTTP predictor from a provider configuration
func NewHTTP(name string, cfg config.ProviderConfig, logger *zap.Logger) (*HTTP, error) {
	if err := cfg.Validate(name); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		resolved, err := config.ResolveEnv(v)
		if err != nil {
			return nil, fmt.Errorf("provider %s: header %s: %w", name, k, err)
		}
		headers[k] = resolved
	}

	if cfg.Auth != nil {
		authHeaders, err := renderAuthHeaders(cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		for k, v := range authHeaders {
			headers[k] = v
		}
	}

	path := cfg.Path
	if path == "" {
		path = defaultPredictPath
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTP{
		name:    name,
		url:     strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/"),
		headers: headers,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(zap.String("provider", name)),
	}, nil
}

func (h *HTTP) Predict(ctx context.Context, req Request, stream StreamFunc) (Prediction, error) {
	start := time.Now()

	body, err := json.Marshal(predictBody{
		Model:       req.Config.Model,
		Prompt:      req.Prompt,
		Temperature: req.Config.Temperature,
		MaxTokens:   req.Config.MaxTokens,
		Stream:      stream != nil,
	})
	if err != nil {
		return Prediction{Failed: true}, fmt.Errorf("failed to serialize body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return Prediction{Failed: true}, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for key, value := range h.headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Prediction{Failed: true}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Prediction{Failed: true, Duration: time.Since(start).Seconds()},
			fmt.Errorf("HTTP request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var p Prediction
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		p, err = h.readStream(resp.Body, stream)
	} else {
		p, err = readJSON(resp.Body)
	}
	p.Duration = time.Since(start).Seconds()
	if err != nil {
		p.Failed = true
		return p, err
	}

	h.logger.Debug("prediction completed",
		zap.Int("output_len", len(p.Output)),
		zap.Float64("cost", p.Cost),
		zap.Bool("failed", p.Failed))
	return p, nil
}

func readJSON(r io.Reader) (Prediction, error) {
	var body predictResponse
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return Prediction{}, fmt.Errorf("failed to decode JSON response: %w", err)
	}
	return Prediction{Output: body.Output, Cost: body.Cost, Failed: body.Failed}, nil
}

func (h *HTTP) readStream(r io.Reader, stream StreamFunc) (Prediction, error) {
	var (
		p   Prediction
		out strings.Builder
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		payload, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var frame predictResponse
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			h.logger.Warn("skipping malformed frame", zap.Error(err))
			continue
		}

		if frame.Delta != "" {
			out.WriteString(frame.Delta)
			if stream != nil {
				stream(frame.Delta)
			}
		}
		if frame.Cost != 0 {
			p.Cost = frame.Cost
		}
		if frame.Failed {
			p.Failed = true
		}
	}

	p.Output = out.String()
	if err := scanner.Err(); err != nil {
		return p, fmt.Errorf("failed to read event stream: %w", err)
	}
	return p, nil
}

// renderAuthHeaders builds the authentication headers for a provider
func renderAuthHeaders(auth *config.AuthConfig) (map[string]string, error) {
	headers := make(map[string]string)

	switch auth.Type {
	case "bearer", "api_key":
		value, err := config.ResolveEnv(auth.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve auth value: %w", err)
		}
		header := auth.Header
		if header == "" {
			header = "Authorization"
		}
		if auth.Type == "bearer" && !strings.HasPrefix(value, "Bearer ") {
			value = "Bearer " + value
		}
		headers[header] = value

	case "basic":
		username, err := config.ResolveEnv(auth.Username)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve auth username: %w", err)
		}
		password, err := config.ResolveEnv(auth.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve auth password: %w", err)
		}
		credentials := fmt.Sprintf("%s:%s", username, password)
		encoded := base64.StdEncoding.EncodeToString([]byte(credentials))
		headers["Authorization"] = "Basic " + encoded
	}

	return headers, nil
}

// FromConfig builds a registry from configured providers
func FromConfig(providers map[string]config.ProviderConfig, fallback string, logger *zap.Logger) (*Registry, error) {
	reg := NewRegistry(fallback)
	for name, cfg := range providers {
		switch cfg.Type {
		case "echo":
			reg.Register(name, Echo{})
		case "http":
			p, err := NewHTTP(name, cfg, logger)
			if err != nil {
				return nil, err
			}
			reg.Register(name, p)
		default:
			return nil, fmt.Errorf("provider %s: unknown type '%s'", name, cfg.Type)
		}
	}
	return reg, nil
}
