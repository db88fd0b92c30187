// Package digest summarizes an aggregated intelligence result set into a
// short narrative using an LLM. Optional: a nil Summarizer is a valid
// collaborator and simply produces no digest.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/hazyhaar/radar/intel/schema"
)

const (
	defaultModel = "gpt-4o-mini"
	// maxRecords bounds the prompt size; beyond this the digest works from
	// a sample.
	maxRecords = 60
)

// Summarizer produces competitive digests from normalized intel.
type Summarizer struct {
	client openai.Client
	model  string
	logger *slog.Logger
}

// Option configures a Summarizer.
type Option func(*Summarizer)

// WithModel overrides the completion model.
func WithModel(model string) Option {
	return func(s *Summarizer) { s.model = model }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Summarizer) { s.logger = l }
}

// New creates a Summarizer. Returns nil if apiKey is empty; callers treat
// a nil Summarizer as "digests disabled".
func New(apiKey string, opts ...Option) *Summarizer {
	if apiKey == "" {
		return nil
	}
	s := &Summarizer{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  defaultModel,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Summarize turns the result set into a short competitive digest. A nil
// receiver or empty input returns an empty digest without error.
func (s *Summarizer) Summarize(ctx context.Context, subject string, results []schema.NormalizedIntel) (string, error) {
	if s == nil || len(results) == 0 {
		return "", nil
	}

	resp, err := s.client.Chat.Completions.New(ctx, s.completionParams(subject, results))
	if err != nil {
		return "", fmt.Errorf("digest: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("digest: empty completion")
	}

	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	s.logger.Debug("digest: produced", "subject", subject, "records", len(results), "chars", len(out))
	return out, nil
}

const systemPrompt = "You are a competitive intelligence analyst. Summarize the findings below into a short digest: notable competitors, pricing signals, sentiment, and traffic trends. Plain text, at most 200 words."

func (s *Summarizer) completionParams(subject string, results []schema.NormalizedIntel) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model: s.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(systemPrompt),
					},
				},
			},
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(buildPrompt(subject, results)),
					},
				},
			},
		},
		Temperature: openai.Float(0.2),
		MaxTokens:   openai.Int(600),
	}
}

// buildPrompt flattens records into a compact line-per-finding form.
func buildPrompt(subject string, results []schema.NormalizedIntel) string {
	if len(results) > maxRecords {
		results = results[:maxRecords]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\nFindings:\n", subject)
	for _, r := range results {
		fmt.Fprintf(&b, "- [%s/%s] %s", r.Provider, r.Capability, r.Title)
		if r.Value != 0 {
			fmt.Fprintf(&b, " (%.2f %s)", r.Value, r.Unit)
		}
		if r.Text != "" {
			text := r.Text
			if len(text) > 200 {
				text = text[:200]
			}
			fmt.Fprintf(&b, ": %s", text)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
