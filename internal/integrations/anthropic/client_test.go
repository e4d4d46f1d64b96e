package anthropic

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

type fakeGetter struct {
	val  string
	err  error
	name string
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.name = name
	return f.val, f.err
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(
		&fakeGetter{val: `{"token":"ak-test"}`},
		"/cognitive-blackbox",
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	require.NoError(t, err)
	return c
}

func TestMessagesURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.anthropic.com", "https://api.anthropic.com/v1/messages"},
		{"https://api.anthropic.com/v1/", "https://api.anthropic.com/v1/messages"},
		{"", "https://api.anthropic.com/v1/messages"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, messagesURL(tc.base), "base=%q", tc.base)
	}
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(nil, "/cbb")
	require.ErrorContains(t, err, "nil")

	c, err := NewClient(&fakeGetter{}, "/cbb", WithModel("claude-sonnet-4-0"))
	require.NoError(t, err)
	require.Equal(t, "anthropic", c.Name())
	require.Equal(t, "claude-sonnet-4-0", c.model)
}

func TestGenerate_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "ak-test", r.Header.Get("x-api-key"))
		require.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var got messagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		require.Equal(t, 1024, got.MaxTokens, "zero max tokens falls back to the default")
		require.Equal(t, "prompt text", got.Messages[0].Content)

		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","content":[{"type":"text","text":"Part one. "},{"type":"tool_use"},{"type":"text","text":"Part two."}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	out, err := c.Generate(context.Background(), domain.GenerationRequest{Prompt: "prompt text"})
	require.NoError(t, err)
	require.Equal(t, "Part one. Part two.", out)
}

func TestGenerate_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Generate(context.Background(), domain.GenerationRequest{Prompt: "hi"})
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, 529, statusErr.HTTPStatusCode())
	require.Contains(t, err.Error(), "overloaded_error")
}

func TestGenerate_EmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Generate(context.Background(), domain.GenerationRequest{Prompt: "hi"})
	require.ErrorContains(t, err, "no text content")
}

func TestGenerate_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not-json`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Generate(context.Background(), domain.GenerationRequest{Prompt: "hi"})
	require.ErrorContains(t, err, "decode response")
}

func TestGenerate_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"late"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	_, err := c.Generate(context.Background(), domain.GenerationRequest{Prompt: "hi"})
	require.Error(t, err)
}

func TestGenerate_TokenParameterName(t *testing.T) {
	g := &fakeGetter{val: `{"token":""}`}
	c, err := NewClient(g, "/cbb/")
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), domain.GenerationRequest{Prompt: "hi"})
	require.ErrorContains(t, err, "API token is empty")
	require.Equal(t, "/cbb/anthropic-token", g.name)
}
