// Package gemini rewrites beer descriptions with the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/imrishuroy/go-beer-pipeline/internal/upstream"
)

// MaxCleanedLength caps the rewritten description, in runes.
const MaxCleanedLength = 2000

// ErrInvalidConfig is returned by NewCleaner for a missing key or model.
var ErrInvalidConfig = errors.New("invalid gemini config")

const systemInstruction = `You clean up beer descriptions for a catalogue.
Rewrite the description as plain prose: fix spelling and grammar, remove marketing
boilerplate, HTML, emojis and pricing, and keep every factual detail about style,
ingredients and taste. Do not invent facts. Reply with the cleaned description only.`

// Request is one description to clean.
type Request struct {
	BeerName    string
	Brewer      string
	Description string
}

// Generator is the slice of the genai client the cleaner calls.
// *genai.Models satisfies it.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Config struct {
	APIKey string
	Model  string
}

// Cleaner turns raw descriptions into catalogue text.
type Cleaner struct {
	gen   Generator
	model string
	log   zerolog.Logger
}

// NewCleaner builds a Cleaner backed by the Gemini API.
func NewCleaner(ctx context.Context, cfg Config, log *zerolog.Logger) (*Cleaner, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: api key is empty", ErrInvalidConfig)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create client: %v", ErrInvalidConfig, err)
	}
	return NewCleanerWithGenerator(client.Models, cfg.Model, log)
}

// NewCleanerWithGenerator builds a Cleaner around an existing generator.
func NewCleanerWithGenerator(gen Generator, model string, log *zerolog.Logger) (*Cleaner, error) {
	if gen == nil {
		return nil, fmt.Errorf("%w: generator is nil", ErrInvalidConfig)
	}
	if model == "" {
		return nil, fmt.Errorf("%w: model is empty", ErrInvalidConfig)
	}
	l := zerolog.Nop()
	if log != nil {
		l = log.With().Str("component", "gemini").Str("model", model).Logger()
	}
	return &Cleaner{gen: gen, model: model, log: l}, nil
}

// Clean returns the rewritten description. Errors wrap one of the upstream kinds.
func (c *Cleaner) Clean(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Description) == "" {
		return "", fmt.Errorf("%w: empty description", upstream.ErrMalformedResponse)
	}

	resp, err := c.gen.GenerateContent(ctx, c.model, genai.Text(prompt(req)), &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemInstruction}}},
		Temperature:       genai.Ptr[float32](0.2),
	})
	if err != nil {
		return "", classify(err)
	}

	text, err := extractText(resp)
	if err != nil {
		return "", err
	}
	c.log.Debug().Int("in_len", len(req.Description)).Int("out_len", len(text)).Msg("description cleaned")
	return text, nil
}

func prompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Beer: %s\n", req.BeerName)
	if req.Brewer != "" {
		fmt.Fprintf(&b, "Brewer: %s\n", req.Brewer)
	}
	fmt.Fprintf(&b, "Description:\n%s\n", req.Description)
	return b.String()
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", upstream.ErrMalformedResponse)
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: blocked by safety filters", upstream.ErrMalformedResponse)
	}
	if cand.Content == nil {
		return "", fmt.Errorf("%w: empty content", upstream.ErrMalformedResponse)
	}

	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("%w: empty text", upstream.ErrMalformedResponse)
	}
	if utf8.RuneCountInString(text) > MaxCleanedLength {
		text = string([]rune(text)[:MaxCleanedLength])
	}
	return text, nil
}

func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", upstream.ErrRateLimited, err)
		case apiErr.Code == http.StatusGatewayTimeout:
			return fmt.Errorf("%w: %v", upstream.ErrTimeout, err)
		default:
			return fmt.Errorf("%w: %v", upstream.ErrUpstream, err)
		}
	}
	return upstream.Classify(err)
}
