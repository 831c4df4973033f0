package contentgen

import (
	"context"
	"errors"
	"time"

	"github.com/yungbote/neurobridge-ale/internal/observability"
	"github.com/yungbote/neurobridge-ale/internal/platform/llm"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
)

var ErrEmptyContent = errors.New("model returned no usable content")

type LLMGenerator struct {
	client    llm.Client
	maxTokens int
	log       *logger.Logger
}

func NewLLMGenerator(client llm.Client, maxTokens int, log *logger.Logger) *LLMGenerator {
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	return &LLMGenerator{
		client:    client,
		maxTokens: maxTokens,
		log:       log.With("generator", GeneratorLLM, "provider", client.Provider(), "model", client.Model()),
	}
}

func (g *LLMGenerator) Name() string { return GeneratorLLM }

// Generate fails closed: any provider error or empty answer is returned
// without a partial Output.
func (g *LLMGenerator) Generate(ctx context.Context, in Input) (Output, error) {
	req := BuildPrompt(in, g.maxTokens)
	start := time.Now()
	resp, err := g.client.Complete(ctx, req)
	observability.ObserveLLMCall(g.client.Provider(), err, time.Since(start))
	if err != nil {
		return Output{}, err
	}
	body := Sanitize(StripFences(resp.Text))
	if body == "" {
		return Output{}, ErrEmptyContent
	}
	g.log.Debug("LLM content generated",
		"kind", string(in.Kind),
		"learner_id", in.LearnerID,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
	)
	return Output{
		Title:          titleFor(in),
		BodyHTML:       body,
		TargetConcepts: targetConcepts(in),
		Difficulty:     DifficultyFor(in.Kind),
		Generator:      GeneratorLLM,
	}, nil
}
