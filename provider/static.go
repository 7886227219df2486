package provider

import (
	"context"
	"strings"
	"time"
)

// Echo returns the prompt as the completion, streamed word by word.
// It is the default provider for local runs without a model backend.
type Echo struct{}

func (Echo) Predict(ctx context.Context, req Request, stream StreamFunc) (Prediction, error) {
	start := time.Now()

	words := strings.SplitAfter(req.Prompt, " ")
	for _, w := range words {
		if err := ctx.Err(); err != nil {
			return Prediction{}, err
		}
		if w != "" && stream != nil {
			stream(w)
		}
	}

	return Prediction{
		Output:   req.Prompt,
		Duration: time.Since(start).Seconds(),
	}, nil
}

// Static answers from a fixed table keyed by prompt. Unknown prompts get
// Default.
type Static struct {
	Responses map[string]Prediction
	Default   Prediction
}

func (s *Static) Predict(ctx context.Context, req Request, _ StreamFunc) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	if p, ok := s.Responses[req.Prompt]; ok {
		return p, nil
	}
	return s.Default, nil
}
