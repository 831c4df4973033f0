package contentgen

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"golang.org/x/net/html"

	types "github.com/yungbote/neurobridge-ale/internal/domain"
	"github.com/yungbote/neurobridge-ale/internal/domain/learning"
	"github.com/yungbote/neurobridge-ale/internal/platform/llm"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
)

func sampleInput(kind learning.GenerationKind) Input {
	return Input{
		Kind:            kind,
		LearnerID:       1,
		Block:           &types.Block{ID: 7, Title: "Fractions", Body: "<p>" + strings.Repeat("ab é ", 200) + "</p>"},
		Question:        &types.Question{ID: 42, Statement: "What is 1/2 + 1/4?"},
		Failures:        3,
		FragileConcepts: []string{"common denominator", "common denominator", "addition"},
	}
}

func TestExcerptCapsRunes(t *testing.T) {
	got := Excerpt("<p>Hello <strong>world</strong></p>", ExcerptLimit)
	if got != "Hello world" {
		t.Fatalf("Excerpt: want=%q got=%q", "Hello world", got)
	}
	long := Excerpt(sampleInput(learning.GenerationAlternative).Block.Body, ExcerptLimit)
	if n := utf8.RuneCountInString(long); n != ExcerptLimit {
		t.Fatalf("Excerpt: want %d runes, got %d", ExcerptLimit, n)
	}
}

func TestStripFences(t *testing.T) {
	cases := map[string]string{
		"```html\n<p>x</p>\n```": "<p>x</p>",
		"```\n<p>x</p>```":       "<p>x</p>",
		"<p>x</p>":               "<p>x</p>",
		"  <p>x</p>\n```":        "<p>x</p>",
	}
	for in, want := range cases {
		if got := StripFences(in); got != want {
			t.Fatalf("StripFences(%q): want=%q got=%q", in, want, got)
		}
	}
}

func TestSanitize(t *testing.T) {
	in := `<div class="x"><p style="color:red">Hi <a href="#">there</a></p><script>alert(1)</script><ul><li>one</li></ul></div>`
	want := `<p>Hi there</p><ul><li>one</li></ul>`
	if got := Sanitize(in); got != want {
		t.Fatalf("Sanitize: want=%q got=%q", want, got)
	}
}

func TestSanitizeDropsMarkupOutsideAllowedTags(t *testing.T) {
	cases := map[string]string{
		`<p>t</p><img src=x onerror=alert(1)`:                    `<p>t</p>`,
		`<p>a<!-- <script>x</script> -->b</p>`:                   `<p>ab</p>`,
		`<p>a<!-->-->b</p>`:                                      `<p>a--&gt;b</p>`,
		`<p>a<![CDATA[<img src=x>]]>b</p>`:                       `<p>a]]&gt;b</p>`,
		`<P ONCLICK="x">1 &lt; 2</P>`:                            `<p>1 &lt; 2</p>`,
		`<h3>t</h3><style>p{}</style><noscript><img></noscript>`: `<h3>t</h3>`,
	}
	for in, want := range cases {
		if got := Sanitize(in); got != want {
			t.Fatalf("Sanitize(%q): want=%q got=%q", in, want, got)
		}
	}
}

func TestBuildPrompt(t *testing.T) {
	req := BuildPrompt(sampleInput(learning.GenerationRemediation), 2000)
	if req.MaxTokens != 2000 {
		t.Fatalf("MaxTokens: want=2000 got=%d", req.MaxTokens)
	}
	for _, want := range []string{"300 words", "p, h3, h4, ul, ol, li, strong, em", "code fences"} {
		if !strings.Contains(req.System, want) {
			t.Fatalf("system prompt missing %q: %s", want, req.System)
		}
	}
	for _, want := range []string{"What is 1/2 + 1/4?", "Failed attempts: 3", "common denominator, addition", "Fractions"} {
		if !strings.Contains(req.User, want) {
			t.Fatalf("user prompt missing %q: %s", want, req.User)
		}
	}
	alt := BuildPrompt(sampleInput(learning.GenerationAlternative), 2000)
	if !strings.Contains(alt.System, "250 words") {
		t.Fatalf("alternative prompt should cap at 250 words: %s", alt.System)
	}
}

func TestLLMGenerator(t *testing.T) {
	var seen llm.Request
	client := llm.ClientFunc(func(ctx context.Context, req llm.Request) (llm.Response, error) {
		seen = req
		return llm.Response{Text: "```html\n<h3>Try this</h3><p>Halves are <em>two</em> quarters.</p>\n```"}, nil
	})
	g := NewLLMGenerator(client, 0, logger.Nop())
	out, err := g.Generate(context.Background(), sampleInput(learning.GenerationAlternative))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if seen.MaxTokens != llm.DefaultMaxTokens {
		t.Fatalf("MaxTokens: want=%d got=%d", llm.DefaultMaxTokens, seen.MaxTokens)
	}
	if out.BodyHTML != "<h3>Try this</h3><p>Halves are <em>two</em> quarters.</p>" {
		t.Fatalf("BodyHTML: got=%q", out.BodyHTML)
	}
	if out.Generator != GeneratorLLM || out.Difficulty != 3 || len(out.TargetConcepts) != 2 {
		t.Fatalf("Output: got=%+v", out)
	}
}

func TestLLMGeneratorFailsClosed(t *testing.T) {
	boom := &llm.ProviderError{Provider: "x", StatusCode: 503, Err: errors.New("down")}
	g := NewLLMGenerator(llm.ClientFunc(func(ctx context.Context, req llm.Request) (llm.Response, error) {
		return llm.Response{}, boom
	}), 100, logger.Nop())
	out, err := g.Generate(context.Background(), sampleInput(learning.GenerationRemediation))
	if !errors.Is(err, boom) {
		t.Fatalf("Generate: want provider error, got %v", err)
	}
	if out.BodyHTML != "" {
		t.Fatalf("Generate: want empty output on failure")
	}

	empty := NewLLMGenerator(llm.ClientFunc(func(ctx context.Context, req llm.Request) (llm.Response, error) {
		return llm.Response{Text: "<script>x</script>"}, nil
	}), 100, logger.Nop())
	if _, err := empty.Generate(context.Background(), sampleInput(learning.GenerationRemediation)); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("Generate: want ErrEmptyContent, got %v", err)
	}
}

func TestTemplateLibraryParses(t *testing.T) {
	lib, err := ParseTemplates(templatesYAML)
	if err != nil {
		t.Fatalf("ParseTemplates: %v", err)
	}
	if len(lib[learning.GenerationRemediation]) < 2 || len(lib[learning.GenerationAlternative]) < 2 {
		t.Fatalf("library too small: %v", lib)
	}
	if _, err := ParseTemplates([]byte("remediation: []\n")); err == nil {
		t.Fatalf("ParseTemplates: want error for missing kinds")
	}
	noP := "remediation: [{body: '<h3>x</h3>'}]\nalternative: [{body: '<p>x</p>'}]\nsimplification: [{body: '<p>x</p>'}]\ndeepening: [{body: '<p>x</p>'}]\n"
	if _, err := ParseTemplates([]byte(noP)); err == nil {
		t.Fatalf("ParseTemplates: want error for missing kinds")
	}
}

func TestTemplateGeneratorMarkerAndEscaping(t *testing.T) {
	lib, err := ParseTemplates(templatesYAML)
	if err != nil {
		t.Fatalf("ParseTemplates: %v", err)
	}
	g := NewTemplateGeneratorWith(lib, rand.New(rand.NewSource(1)))
	in := sampleInput(learning.GenerationRemediation)
	in.Block.Title = "<b>x</b>"
	for i := 0; i < 20; i++ {
		out, err := g.Generate(context.Background(), in)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if !strings.Contains(out.BodyHTML, TemplateMarker) {
			t.Fatalf("missing marker: %s", out.BodyHTML)
		}
		walk(out.BodyHTML, func(tt html.TokenType, tag string, _ []byte) {
			if tt != html.TextToken && !allowedTg[tag] {
				t.Fatalf("template uses tag %q outside the allowed set: %s", tag, out.BodyHTML)
			}
		})
		if strings.Contains(out.BodyHTML, "<b>") {
			t.Fatalf("placeholder not escaped: %s", out.BodyHTML)
		}
		if out.Generator != GeneratorTemplate || out.Difficulty != 2 {
			t.Fatalf("Output: got=%+v", out)
		}
	}
}

func TestTemplateGeneratorPicksAcrossLibrary(t *testing.T) {
	lib, err := ParseTemplates(templatesYAML)
	if err != nil {
		t.Fatalf("ParseTemplates: %v", err)
	}
	g := NewTemplateGeneratorWith(lib, rand.New(rand.NewSource(7)))
	bodies := map[string]bool{}
	for i := 0; i < 60; i++ {
		out, _ := g.Generate(context.Background(), sampleInput(learning.GenerationAlternative))
		bodies[out.BodyHTML] = true
	}
	if len(bodies) != len(lib[learning.GenerationAlternative]) {
		t.Fatalf("want every template picked, got %d of %d", len(bodies), len(lib[learning.GenerationAlternative]))
	}
}
