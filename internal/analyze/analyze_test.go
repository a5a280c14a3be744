// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package analyze

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pdiddy/raster-engine/internal/httputil"
	"github.com/pdiddy/raster-engine/pkg/types"
)

// withServer points the client at a test server for the duration of fn.
func withServer(t *testing.T, handler http.HandlerFunc, fn func(c *Client)) {
	t.Helper()
	ts := httptest.NewServer(handler)
	defer ts.Close()

	old := apiURL
	apiURL = ts.URL
	defer func() { apiURL = old }()

	fn(&Client{APIKey: "test-key", Model: "test-model", HTTPClient: ts.Client()})
}

func analysisJSON() string {
	return `{"suggested_title": "Q3 Financial Review", "summary": "A quarterly report.", "key_points": ["Revenue grew", "Costs held flat"]}`
}

func respondWith(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := map[string]any{
			"content": []map[string]any{{"type": "text", "text": text}},
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func TestAnalyze(t *testing.T) {
	image := []byte("fake png bytes")
	var gotReq claudeRequest
	var gotHeaders http.Header

	handler := func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		respondWith(analysisJSON())(w, r)
	}

	withServer(t, handler, func(c *Client) {
		a, err := c.Analyze(context.Background(), image, types.FormatPNG)
		if err != nil {
			t.Fatalf("analyze: %v", err)
		}
		if a.SuggestedTitle != "Q3 Financial Review" {
			t.Errorf("title = %q", a.SuggestedTitle)
		}
		if len(a.KeyPoints) != 2 {
			t.Errorf("key points = %d, want 2", len(a.KeyPoints))
		}
	})

	if gotHeaders.Get("x-api-key") != "test-key" {
		t.Errorf("x-api-key = %q", gotHeaders.Get("x-api-key"))
	}
	if gotHeaders.Get("anthropic-version") != "2023-06-01" {
		t.Errorf("anthropic-version = %q", gotHeaders.Get("anthropic-version"))
	}

	if gotReq.Model != "test-model" {
		t.Errorf("model = %q", gotReq.Model)
	}
	if len(gotReq.Messages) != 1 || len(gotReq.Messages[0].Content) != 2 {
		t.Fatalf("request shape = %+v", gotReq.Messages)
	}
	img := gotReq.Messages[0].Content[0]
	if img.Type != "image" || img.Source == nil {
		t.Fatalf("first block should be an image, got %+v", img)
	}
	if img.Source.MediaType != "image/png" {
		t.Errorf("media type = %q", img.Source.MediaType)
	}
	if img.Source.Data != base64.StdEncoding.EncodeToString(image) {
		t.Error("image payload should be base64 of the page bytes")
	}
	if gotReq.Messages[0].Content[1].Type != "text" {
		t.Errorf("second block should be text, got %+v", gotReq.Messages[0].Content[1])
	}
}

func TestAnalyze_FencedResponse(t *testing.T) {
	fenced := "```json\n" + analysisJSON() + "\n```"
	withServer(t, respondWith(fenced), func(c *Client) {
		a, err := c.Analyze(context.Background(), []byte("img"), types.FormatJPEG)
		if err != nil {
			t.Fatalf("analyze: %v", err)
		}
		if a.SuggestedTitle != "Q3 Financial Review" {
			t.Errorf("title = %q", a.SuggestedTitle)
		}
	})
}

func TestAnalyze_RetriesRateLimit(t *testing.T) {
	old := httputil.RetryBaseDelay
	httputil.RetryBaseDelay = 1 * time.Millisecond
	defer func() { httputil.RetryBaseDelay = old }()

	var calls int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		respondWith(analysisJSON())(w, r)
	}

	withServer(t, handler, func(c *Client) {
		c.MaxRetries = 2
		a, err := c.Analyze(context.Background(), []byte("img"), types.FormatPNG)
		if err != nil {
			t.Fatalf("analyze: %v", err)
		}
		if a.SuggestedTitle != "Q3 Financial Review" {
			t.Errorf("title = %q", a.SuggestedTitle)
		}
	})

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestAnalyze_APIError(t *testing.T) {
	handler := func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": "bad key"}`, http.StatusUnauthorized)
	}
	withServer(t, handler, func(c *Client) {
		if _, err := c.Analyze(context.Background(), []byte("img"), types.FormatPNG); err == nil {
			t.Fatal("non-200 response should fail")
		}
	})
}

func TestAnalyze_MalformedJSON(t *testing.T) {
	withServer(t, respondWith("sorry, I cannot help with that"), func(c *Client) {
		if _, err := c.Analyze(context.Background(), []byte("img"), types.FormatPNG); err == nil {
			t.Fatal("unparseable analysis should fail")
		}
	})
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: `{"a":1}`, want: `{"a":1}`},
		{in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{in: "```\n{\"a\":1}\n```", want: `{"a":1}`},
		{in: "  {\"a\":1}  ", want: `{"a":1}`},
	}
	for _, tt := range tests {
		if got := stripFences(tt.in); got != tt.want {
			t.Errorf("stripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
