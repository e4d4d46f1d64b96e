package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"cognitive-blackbox/internal/domain"
	"cognitive-blackbox/internal/integrations/paramstore"
)

const DefaultModel = "gemini-2.0-flash-exp"

// Client generates text through the Gemini API. The underlying genai client is
// built on first successful use, once the API token has been read from SSM.
// A failed read is retried on the next call.
type Client struct {
	model       string
	baseURL     string
	httpClient  *http.Client
	getter      paramstore.Getter
	paramPrefix string

	mu    sync.Mutex
	genai *genai.Client
}

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(model); m != "" {
			c.model = m
		}
	}
}

// WithBaseURL points the client at a different API host, mainly for tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("gemini: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("gemini: parameter prefix must not be empty")
	}
	c := &Client{
		model:       DefaultModel,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Name() string { return "gemini" }

// TokenParameterName is the SSM parameter holding the API token.
func TokenParameterName(paramPrefix string) string {
	return strings.TrimRight(paramPrefix, "/") + "/gemini-token"
}

func (c *Client) resolveClient(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.genai != nil {
		return c.genai, nil
	}

	apiKey, err := paramstore.FetchToken(ctx, c.getter, TokenParameterName(c.paramPrefix))
	if err != nil {
		return nil, err
	}
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
	}
	if c.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	c.genai = client
	return client, nil
}

// Generate sends a single-turn prompt and returns the concatenated text parts.
func (c *Client) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	client, err := c.resolveClient(ctx)
	if err != nil {
		return "", err
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := client.Models.GenerateContent(ctx, c.model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("gemini: no candidates in response")
	}
	return resp.Text(), nil
}
