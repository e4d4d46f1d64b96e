package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cognitive-blackbox/internal/domain"
)

// fakeGetter is a minimal paramstore.Getter stub for use within this package.
type fakeGetter struct {
	val   string
	err   error
	name  string
	calls int
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.name = name
	f.calls++
	return f.val, f.err
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts = append([]Option{
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	}, opts...)
	c, err := NewClient(&fakeGetter{val: `{"token":"sk-test"}`}, "/cognitive-blackbox", opts...)
	require.NoError(t, err)
	return c
}

func TestEndpointURLs(t *testing.T) {
	cases := []struct {
		base       string
		chat       string
		moderation string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions", "https://api.openai.com/v1/moderations"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions", "https://api.openai.com/v1/moderations"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions", "http://localhost:8080/v1/moderations"},
		{"", "https://api.openai.com/v1/chat/completions", "https://api.openai.com/v1/moderations"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.chat, chatURL(tc.base), "base=%q", tc.base)
		require.Equal(t, tc.moderation, moderationURL(tc.base), "base=%q", tc.base)
	}
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(nil, "/cognitive-blackbox")
	require.ErrorContains(t, err, "nil")

	_, err = NewClient(&fakeGetter{}, " / ")
	require.ErrorContains(t, err, "prefix")

	c, err := NewClient(&fakeGetter{}, "/cognitive-blackbox", WithModel("  "))
	require.NoError(t, err)
	require.Equal(t, "https://api.openai.com/v1", c.baseURL)
	require.Equal(t, defaultModel, c.model, "blank model keeps the default")
	require.Equal(t, "openai", c.Name())
}

func TestResolveAPIKey_FetchedOnce(t *testing.T) {
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`}
	c, err := NewClient(g, "/cognitive-blackbox/")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		key, err := c.resolveAPIKey(context.Background())
		require.NoError(t, err)
		require.Equal(t, "sk-from-ssm", key)
	}
	require.Equal(t, 1, g.calls, "SSM must only be called once per process lifetime")
	require.Equal(t, "/cognitive-blackbox/open-ai-token", g.name)
}

func TestResolveAPIKey_ErrorIsRetried(t *testing.T) {
	g := &fakeGetter{val: `{"other":"x"}`}
	c, err := NewClient(g, "/cognitive-blackbox")
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), domain.GenerationRequest{Prompt: "hi"})
	require.ErrorContains(t, err, "API token is empty")
	_, err = c.Moderate(context.Background(), "hi")
	require.ErrorContains(t, err, "API token is empty")
	require.Equal(t, 2, g.calls, "a failed fetch is not cached")

	g.val = `{"token":"sk-late"}`
	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-late", key)
	_, err = c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, g.calls)
}

func TestGenerate_SendsPromptAndLimits(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var got chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		require.Equal(t, "gpt-4.1", got.Model)
		require.Equal(t, 2048, got.MaxTokens)
		require.NotNil(t, got.Temperature)
		require.InDelta(t, 0.7, *got.Temperature, 1e-9)
		require.Equal(t, []domain.ChatMessage{{Role: "user", Content: "Build the verification system"}}, got.Messages)
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"generated"}}]}`))
	}, WithModel("gpt-4.1"))

	out, err := c.Generate(context.Background(), domain.GenerationRequest{
		Prompt:      "Build the verification system",
		MaxTokens:   2048,
		Temperature: 0.7,
	})
	require.NoError(t, err)
	require.Equal(t, "generated", out)
}

func TestGenerate_StatusErrorIsTyped(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := c.Generate(context.Background(), domain.GenerationRequest{Prompt: "hi"})
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusServiceUnavailable, statusErr.HTTPStatusCode())
}

func TestModerate(t *testing.T) {
	for _, flagged := range []bool{false, true} {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/v1/moderations", r.URL.Path)
			var got moderationRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			require.Equal(t, "Acme Holdings", got.Input)
			_ = json.NewEncoder(w).Encode(map[string]any{"results": []map[string]bool{{"flagged": flagged}}})
		})
		got, err := c.Moderate(context.Background(), "Acme Holdings")
		require.NoError(t, err)
		require.Equal(t, flagged, got)
	}
}

// Both endpoints share one transport path, so each upstream failure is
// checked against both.
func TestUpstreamFailures(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		delay   time.Duration
		wantErr string
	}{
		{name: "bad request", status: 400, body: `{"error":"bad request"}`, wantErr: "unexpected status 400"},
		{name: "rate limited", status: 429, body: `{"error":"rate limited"}`, wantErr: "429"},
		{name: "server error", status: 500, body: `{"error":"internal"}`, wantErr: "500"},
		{name: "malformed", status: 200, body: `not-json`, wantErr: "decode response"},
		{name: "empty", status: 200, body: `{}`, wantErr: "no "},
		{name: "timeout", status: 200, body: `{}`, delay: 200 * time.Millisecond, wantErr: "request failed"},
	}
	calls := map[string]func(*Client) error{
		"generate": func(c *Client) error {
			_, err := c.Generate(context.Background(), domain.GenerationRequest{Prompt: "hi"})
			return err
		},
		"moderate": func(c *Client) error {
			_, err := c.Moderate(context.Background(), "hi")
			return err
		},
	}
	for _, tc := range cases {
		for op, call := range calls {
			t.Run(tc.name+"/"+op, func(t *testing.T) {
				c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
					time.Sleep(tc.delay)
					w.WriteHeader(tc.status)
					_, _ = w.Write([]byte(tc.body))
				}, WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))
				require.ErrorContains(t, call(c), tc.wantErr)
			})
		}
	}
}

func TestModerate_NetworkError(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{"token":"sk-test"}`}, "/cognitive-blackbox",
		WithBaseURL("http://127.0.0.1:1"),
		WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}),
	)
	require.NoError(t, err)
	_, err = c.Moderate(context.Background(), "hello")
	require.ErrorContains(t, err, "request failed")
}
