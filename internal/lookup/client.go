// Package lookup asks an external chat-completions service for a beer's ABV.
package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/imrishuroy/go-beer-pipeline/internal/upstream"
)

// MaxABV bounds plausible answers; anything outside [0, MaxABV] is malformed.
const MaxABV = 70.0

const systemPrompt = `You look up the alcohol by volume of beers. Answer with a single JSON object and nothing else:
{"found": true|false, "abv": number|null, "confidence": "high"|"medium"|"low"}.
Use found=false when you cannot identify the beer.`

// Request carries the hints sent to the service.
type Request struct {
	BeerName    string
	Brewer      string
	Description string
}

// Result is a parsed answer. ABV is nil when Found is false.
type Result struct {
	Found      bool
	ABV        *float64
	Confidence string
	Source     string
}

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client calls the lookup service through a circuit breaker.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

func NewClient(cfg Config, log *zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	l := zerolog.Nop()
	if log != nil {
		l = log.With().Str("component", "lookup").Logger()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: upstream.NewBreaker("abv-lookup", upstream.BreakerSettings{}, log),
		log:     l,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type answer struct {
	Found      *bool    `json:"found"`
	ABV        *float64 `json:"abv"`
	Confidence string   `json:"confidence"`
}

// LookupABV returns the service's answer for req. Errors wrap one of the
// upstream kinds.
func (c *Client) LookupABV(ctx context.Context, req Request) (Result, error) {
	return upstream.Execute(c.breaker, func() (Result, error) {
		return c.lookup(ctx, req)
	})
}

func (c *Client) lookup(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(req)},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{}, fmt.Errorf("%w: status 429 retry-after=%q", upstream.ErrRateLimited, resp.Header.Get("Retry-After"))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Result{}, fmt.Errorf("%w: status %d", upstream.ErrUpstream, resp.StatusCode)
	}

	return parseResponse(raw)
}

func userPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Beer: %s\n", req.BeerName)
	if req.Brewer != "" {
		fmt.Fprintf(&b, "Brewer: %s\n", req.Brewer)
	}
	if req.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", req.Description)
	}
	return b.String()
}

func parseResponse(raw []byte) (Result, error) {
	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return Result{}, fmt.Errorf("%w: decode envelope: %v", upstream.ErrMalformedResponse, err)
	}
	if len(cr.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: no choices", upstream.ErrMalformedResponse)
	}

	content := extractJSON(cr.Choices[0].Message.Content)
	var a answer
	if err := json.Unmarshal([]byte(content), &a); err != nil {
		return Result{}, fmt.Errorf("%w: decode answer: %v", upstream.ErrMalformedResponse, err)
	}
	if a.Found == nil {
		return Result{}, fmt.Errorf("%w: answer missing found", upstream.ErrMalformedResponse)
	}

	res := Result{Found: *a.Found, Confidence: normalizeConfidence(a.Confidence), Source: "lookup"}
	if !res.Found {
		return res, nil
	}
	if a.ABV == nil {
		return Result{}, fmt.Errorf("%w: found without abv", upstream.ErrMalformedResponse)
	}
	if *a.ABV < 0 || *a.ABV > MaxABV {
		return Result{}, fmt.Errorf("%w: abv %.2f out of range", upstream.ErrMalformedResponse, *a.ABV)
	}
	res.ABV = a.ABV
	return res, nil
}

// extractJSON trims code fences and prose around the first JSON object.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

func normalizeConfidence(c string) string {
	switch strings.ToLower(strings.TrimSpace(c)) {
	case "high":
		return "high"
	case "medium":
		return "medium"
	default:
		return "low"
	}
}
