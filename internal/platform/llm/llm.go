// Package llm is the text-completion boundary to hosted language models.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/neurobridge-ale/internal/platform/httpx"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	DefaultMaxTokens = 2000
	DefaultTimeout   = 60 * time.Second
)

type Request struct {
	System    string
	User      string
	MaxTokens int
}

type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Provider() string
	Model() string
}

type Config struct {
	Provider  string
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
	Timeout   time.Duration
}

// Configured reports whether a real provider can be built from c.
func (c Config) Configured() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

// ProviderError wraps a failed provider call with the HTTP status when one
// was received (0 for transport failures).
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s http %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// Retryable reports whether the failure is transient.
func (e *ProviderError) Retryable() bool {
	if e.StatusCode == 0 {
		return !errors.Is(e.Err, context.Canceled)
	}
	return httpx.IsRetryableError(e)
}

// IsRejected reports a provider answer that retrying will not change, such
// as a bad request or an invalid key.
func IsRejected(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.StatusCode > 0 && !pe.Retryable()
}

var ErrEmptyResponse = errors.New("no text content in response")

func New(cfg Config, log *logger.Logger) (Client, error) {
	if !cfg.Configured() {
		return nil, errors.New("missing LLM_API_KEY")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderAnthropic, "":
		return newAnthropic(cfg, log), nil
	case ProviderOpenAI:
		return newOpenAI(cfg, log), nil
	}
	return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.Provider)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (Response, error)

func (f ClientFunc) Complete(ctx context.Context, req Request) (Response, error) { return f(ctx, req) }
func (f ClientFunc) Provider() string                                            { return "func" }
func (f ClientFunc) Model() string                                               { return "func" }

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
