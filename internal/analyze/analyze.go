// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package analyze summarizes document content by sending the first
// rendered page to the Claude API.
package analyze

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pdiddy/raster-engine/internal/httputil"
	"github.com/pdiddy/raster-engine/pkg/types"
)

// analysisPrompt instructs the model to summarize the page image as a
// strict JSON object.
const analysisPrompt = `You are a document analysis system. The image is the first page of a document. Produce a structured summary of it.

Identify:
- suggested_title: a concise, descriptive title for the document (infer from the page; do not invent specifics that are not visible)
- summary: a 2-3 sentence abstract of what the document is about
- key_points: an array of 3-5 short strings, each one main insight visible on the page

Respond with a single JSON object containing exactly those three fields. Do not include any text outside the JSON object.

Example response:
{"suggested_title": "Q3 Financial Review", "summary": "A quarterly report covering revenue and expenses.", "key_points": ["Revenue grew 12% quarter over quarter", "Operating costs held flat"]}`

// apiURL is the Claude API endpoint. Package-level var for test substitution.
var apiURL = "https://api.anthropic.com/v1/messages"

// defaultModel is used when no model is configured.
const defaultModel = "claude-sonnet-4-5-20250929"

// Client calls the Claude API to analyze a rendered page image.
type Client struct {
	APIKey     string
	Model      string
	MaxRetries int
	HTTPClient *http.Client
}

// NewClient builds a Client from analyzer configuration.
func NewClient(cfg types.AnalysisConfig) *Client {
	return &Client{
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		MaxRetries: cfg.MaxRetries,
	}
}

// claudeRequest is the request body for the Claude Messages API.
type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []claudeMessage `json:"messages"`
}

// claudeMessage is a single message in the Claude API conversation.
// Content blocks carry the page image and the instruction text.
type claudeMessage struct {
	Role    string        `json:"role"`
	Content []claudeBlock `json:"content"`
}

// claudeBlock is one content block in a Claude API message.
type claudeBlock struct {
	Type   string        `json:"type"`
	Text   string        `json:"text,omitempty"`
	Source *claudeSource `json:"source,omitempty"`
}

// claudeSource is the inline payload of an image block.
type claudeSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// claudeResponse is the response body from the Claude Messages API.
type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Analyze sends the page image to the Claude API and parses the
// structured summary from its response.
func (c *Client) Analyze(ctx context.Context, image []byte, format types.ImageFormat) (*types.Analysis, error) {
	model := c.Model
	if model == "" {
		model = defaultModel
	}

	reqBody := claudeRequest{
		Model:     model,
		MaxTokens: 1024,
		Messages: []claudeMessage{{
			Role: "user",
			Content: []claudeBlock{
				{
					Type: "image",
					Source: &claudeSource{
						Type:      "base64",
						MediaType: format.MediaType(),
						Data:      base64.StdEncoding.EncodeToString(image),
					},
				},
				{Type: "text", Text: analysisPrompt},
			},
		}},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := httputil.DoWithRetry(ctx, client, req, c.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("calling Claude API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("Claude API returned %d: %s", resp.StatusCode, string(body))
	}

	var cResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil {
		return nil, fmt.Errorf("decoding Claude response: %w", err)
	}

	for _, block := range cResp.Content {
		if block.Type != "text" {
			continue
		}
		var a types.Analysis
		if err := json.Unmarshal([]byte(stripFences(block.Text)), &a); err != nil {
			return nil, fmt.Errorf("parsing analysis JSON: %w", err)
		}
		return &a, nil
	}

	return nil, fmt.Errorf("no text content in Claude API response")
}

// stripFences removes a markdown code fence wrapping, which models emit
// occasionally despite the JSON-only instruction.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
