package prompt

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/mirror-speech/internal/llm"
	"github.com/capitalize-ai/mirror-speech/pkg/logger"
)

const defaultInstruction = "You open a short spoken exercise in which the listener answers and hears " +
	"their answer repeated back. Reply with exactly one short, friendly question and nothing else."

// LLMGenerator asks a language model for the opening question.
type LLMGenerator struct {
	client      llm.Client
	model       string
	instruction string
	locale      string
	logger      *logger.Logger
}

// NewLLMGenerator creates an LLMGenerator. An empty model uses the
// provider's default.
func NewLLMGenerator(client llm.Client, model, locale string, log *logger.Logger) *LLMGenerator {
	return &LLMGenerator{
		client:      client,
		model:       model,
		instruction: defaultInstruction,
		locale:      locale,
		logger:      logger.OrGlobal(log).Named("prompt"),
	}
}

// Generate requests one question. Surrounding quotes and whitespace are
// stripped; only the first line is kept.
func (g *LLMGenerator) Generate(ctx context.Context) (string, error) {
	ask := "Ask your question."
	if g.locale != "" {
		ask = fmt.Sprintf("Ask your question in the language of locale %q.", g.locale)
	}

	resp, err := g.client.Complete(ctx, &llm.CompletionRequest{
		Model:       g.model,
		System:      g.instruction,
		Messages:    []llm.ChatMessage{{Role: "user", Content: ask}},
		MaxTokens:   64,
		Temperature: 0.9,
	})
	if err != nil {
		return "", fmt.Errorf("%s completion: %w", g.client.Name(), err)
	}

	text := cleanCompletion(resp.Content)
	if text == "" {
		return "", fmt.Errorf("%s completion: %w", g.client.Name(), ErrEmptyPrompt)
	}

	g.logger.Debug("prompt generated",
		zap.String("provider", g.client.Name()),
		zap.String("model", resp.Model),
		zap.Int64("latency_ms", resp.LatencyMs),
	)
	return text, nil
}

func cleanCompletion(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(strings.Trim(s, "\"'“”"))
}
