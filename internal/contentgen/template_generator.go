package contentgen

import (
	"context"
	_ "embed"
	"fmt"
	"html"
	"math/rand"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/neurobridge-ale/internal/domain/learning"
)

//go:embed templates.yaml
var templatesYAML []byte

type templateEntry struct {
	Body string `yaml:"body"`
}

type TemplateLibrary map[learning.GenerationKind][]templateEntry

func ParseTemplates(raw []byte) (TemplateLibrary, error) {
	var lib TemplateLibrary
	if err := yaml.Unmarshal(raw, &lib); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	for _, kind := range []learning.GenerationKind{
		learning.GenerationRemediation,
		learning.GenerationAlternative,
		learning.GenerationSimplification,
		learning.GenerationDeepening,
	} {
		if len(lib[kind]) == 0 {
			return nil, fmt.Errorf("parse templates: no templates for %q", kind)
		}
		for i, e := range lib[kind] {
			if !strings.Contains(e.Body, "<p>") {
				return nil, fmt.Errorf("parse templates: %s[%d] has no <p> to carry the marker", kind, i)
			}
		}
	}
	return lib, nil
}

// TemplateGenerator picks uniformly among the library entries for a kind.
type TemplateGenerator struct {
	lib TemplateLibrary
	mu  sync.Mutex
	rng *rand.Rand
}

func NewTemplateGenerator() (*TemplateGenerator, error) {
	lib, err := ParseTemplates(templatesYAML)
	if err != nil {
		return nil, err
	}
	return NewTemplateGeneratorWith(lib, rand.New(rand.NewSource(time.Now().UnixNano()))), nil
}

func NewTemplateGeneratorWith(lib TemplateLibrary, rng *rand.Rand) *TemplateGenerator {
	return &TemplateGenerator{lib: lib, rng: rng}
}

func (g *TemplateGenerator) Name() string { return GeneratorTemplate }

func (g *TemplateGenerator) Generate(ctx context.Context, in Input) (Output, error) {
	entries := g.lib[in.Kind]
	if len(entries) == 0 {
		return Output{}, fmt.Errorf("no templates for kind %q", in.Kind)
	}
	g.mu.Lock()
	pick := entries[g.rng.Intn(len(entries))]
	g.mu.Unlock()

	blockTitle := "this block"
	if in.Block != nil && in.Block.Title != "" {
		blockTitle = in.Block.Title
	}
	question := "this question"
	if in.Question != nil && strings.TrimSpace(in.Question.Statement) != "" {
		question = strings.TrimSpace(in.Question.Statement)
	}
	concepts := strings.Join(targetConcepts(in), ", ")
	if concepts == "" {
		concepts = "the core idea of the block"
	}
	body := strings.NewReplacer(
		"{{block_title}}", html.EscapeString(blockTitle),
		"{{question}}", html.EscapeString(question),
		"{{concepts}}", html.EscapeString(concepts),
	).Replace(strings.TrimSpace(pick.Body))

	return Output{
		Title:          titleFor(in),
		BodyHTML:       strings.Replace(body, "<p>", "<p "+TemplateMarker+">", 1),
		TargetConcepts: targetConcepts(in),
		Difficulty:     DifficultyFor(in.Kind),
		Generator:      GeneratorTemplate,
	}, nil
}
