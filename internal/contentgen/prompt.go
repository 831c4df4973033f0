package contentgen

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/yungbote/neurobridge-ale/internal/domain/learning"
	"github.com/yungbote/neurobridge-ale/internal/platform/llm"
)

const ExcerptLimit = 500

var AllowedTags = []string{"p", "h3", "h4", "ul", "ol", "li", "strong", "em"}

// Excerpt returns the block body as plain text capped at limit runes.
func Excerpt(body string, limit int) string {
	var parts []string
	walk(body, func(tt html.TokenType, tag string, text []byte) {
		if tt == html.TextToken {
			parts = append(parts, string(text))
		}
	})
	text := strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit])
}

// StripFences removes a leading and trailing markdown code fence.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

const systemPrompt = `You write short, encouraging study aids for a learner inside an online course.
Answer with an HTML fragment only. Use only these tags: %s.
Never use code fences, markdown, scripts, styles, links or images.
Keep it under %d words.`

func BuildPrompt(in Input, maxTokens int) llm.Request {
	limit := WordLimit(in.Kind)
	var b strings.Builder
	switch in.Kind {
	case learning.GenerationRemediation:
		b.WriteString("The learner keeps answering a question wrong. Write a focused remediation that explains the underlying idea and the likely mistake.\n")
	case learning.GenerationAlternative:
		b.WriteString("The learner has spent a long time on this block without moving on. Explain the same material from a different angle, with a fresh example.\n")
	case learning.GenerationSimplification:
		b.WriteString("Explain this block more simply, in small steps.\n")
	case learning.GenerationDeepening:
		b.WriteString("The learner is ready for more. Extend this block with one deeper idea.\n")
	}
	if in.Block != nil {
		fmt.Fprintf(&b, "\nBlock title: %s\n", in.Block.Title)
		fmt.Fprintf(&b, "Block excerpt: %s\n", Excerpt(in.Block.Body, ExcerptLimit))
	}
	if in.Question != nil {
		fmt.Fprintf(&b, "\nQuestion: %s\n", strings.TrimSpace(in.Question.Statement))
		fmt.Fprintf(&b, "Failed attempts: %d\n", in.Failures)
	}
	if cs := targetConcepts(in); len(cs) > 0 {
		fmt.Fprintf(&b, "Fragile concepts: %s\n", strings.Join(cs, ", "))
	}
	return llm.Request{
		System:    fmt.Sprintf(systemPrompt, strings.Join(AllowedTags, ", "), limit),
		User:      b.String(),
		MaxTokens: maxTokens,
	}
}

var (
	allowedTg = set(AllowedTags...)
	// Raw-text elements whose content never reaches the output.
	droppedTg = set("script", "style", "iframe", "noembed", "noframes", "noscript", "plaintext", "textarea", "title", "xmp")
)

func set(tags ...string) map[string]bool {
	m := make(map[string]bool, len(tags))
	for _, t := range tags {
		m[t] = true
	}
	return m
}

// walk tokenizes fragment and calls fn for tags and text outside dropped
// elements. Comments, doctypes and unterminated tags are never reported.
func walk(fragment string, fn func(tt html.TokenType, tag string, text []byte)) {
	z := html.NewTokenizer(strings.NewReader(fragment))
	skip := ""
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return
		case html.TextToken:
			if skip == "" {
				fn(tt, "", z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch {
			case skip != "":
				if tt == html.EndTagToken && tag == skip {
					skip = ""
				}
			case tt == html.StartTagToken && droppedTg[tag]:
				skip = tag
			default:
				fn(tt, tag, nil)
			}
		}
	}
}

// Sanitize keeps the allowed tags without attributes and drops every other
// tag while keeping its text, re-escaped. Script-like elements are removed
// whole.
func Sanitize(fragment string) string {
	var b strings.Builder
	walk(fragment, func(tt html.TokenType, tag string, text []byte) {
		switch {
		case tt == html.TextToken:
			b.WriteString(html.EscapeString(string(text)))
		case !allowedTg[tag]:
		case tt == html.EndTagToken:
			b.WriteString("</" + tag + ">")
		default:
			b.WriteString("<" + tag + ">")
		}
	})
	return strings.TrimSpace(b.String())
}
