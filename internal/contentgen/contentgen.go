// Package contentgen turns a learner's struggle on a block into a short HTML
// artifact, either through a language model or from a fixed template library.
package contentgen

import (
	"context"

	types "github.com/yungbote/neurobridge-ale/internal/domain"
	"github.com/yungbote/neurobridge-ale/internal/domain/learning"
)

const (
	GeneratorLLM      = "llm"
	GeneratorTemplate = "template"

	// TemplateMarker is present in every template-produced body.
	TemplateMarker = `data-ale-generator="template"`
)

type Input struct {
	Kind            learning.GenerationKind
	LearnerID       int64
	Block           *types.Block
	Question        *types.Question
	Failures        int
	FragileConcepts []string
	FrequentErrors  []string
}

type Output struct {
	Title          string
	BodyHTML       string
	BodyMarkdown   *string
	TargetConcepts []string
	Difficulty     int
	Generator      string
}

type Generator interface {
	Name() string
	Generate(ctx context.Context, in Input) (Output, error)
}

// WordLimit is the length budget given to the model for each kind.
func WordLimit(kind learning.GenerationKind) int {
	switch kind {
	case learning.GenerationRemediation:
		return 300
	case learning.GenerationAlternative:
		return 250
	}
	return 300
}

func DifficultyFor(kind learning.GenerationKind) int {
	switch kind {
	case learning.GenerationRemediation, learning.GenerationSimplification:
		return 2
	case learning.GenerationDeepening:
		return 4
	}
	return 3
}

func titleFor(in Input) string {
	name := "this block"
	if in.Block != nil && in.Block.Title != "" {
		name = in.Block.Title
	}
	switch in.Kind {
	case learning.GenerationRemediation:
		return "Review: " + name
	case learning.GenerationAlternative:
		return "Another way to look at " + name
	case learning.GenerationSimplification:
		return name + ", step by step"
	case learning.GenerationDeepening:
		return "Going further with " + name
	}
	return name
}

func targetConcepts(in Input) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in.FragileConcepts))
	for _, c := range in.FragileConcepts {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
