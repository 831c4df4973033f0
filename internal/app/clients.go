package app

import (
	"fmt"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/neurobridge-ale/internal/contentgen"
	"github.com/yungbote/neurobridge-ale/internal/platform/llm"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
	"github.com/yungbote/neurobridge-ale/internal/realtime/bus"
	"github.com/yungbote/neurobridge-ale/internal/temporalx"
)

type Clients struct {
	Bus      bus.Bus
	Temporal temporalsdkclient.Client

	// Primary is the boot-time generator; Fallback always serves final attempts.
	Primary  contentgen.Generator
	Fallback contentgen.Generator
}

func wireClients(log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")

	// Notification bus
	var b bus.Bus = bus.NewMemoryBus()
	if cfg.Redis.Addr != "" {
		rb, err := bus.NewRedisBus(cfg.Redis, log)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis bus: %w", err)
		}
		b = rb
	}

	// Generators
	fallback, err := contentgen.NewTemplateGenerator()
	if err != nil {
		_ = b.Close()
		return Clients{}, fmt.Errorf("init template generator: %w", err)
	}
	var primary contentgen.Generator = fallback
	switch {
	case cfg.UseAIMock:
		log.Warn("USE_AI_MOCK set; generation uses templates only")
	case !cfg.LLM.Configured():
		log.Warn("LLM_API_KEY not set; generation uses templates only")
	default:
		client, err := llm.New(cfg.LLM, log)
		if err != nil {
			_ = b.Close()
			return Clients{}, fmt.Errorf("init llm client: %w", err)
		}
		primary = contentgen.NewLLMGenerator(client, cfg.LLM.MaxTokens, log)
		log.Info("LLM generator configured", "provider", client.Provider(), "model", client.Model())
	}

	// Temporal (optional)
	tc, err := temporalx.NewClient(cfg.Temporal, log)
	if err != nil {
		_ = b.Close()
		return Clients{}, fmt.Errorf("init temporal client: %w", err)
	}

	return Clients{Bus: b, Temporal: tc, Primary: primary, Fallback: fallback}, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
}
