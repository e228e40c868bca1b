package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPAIResponder is an HTTP implementation of the AIResponder interface.
type HTTPAIResponder struct {
	url    string
	client *http.Client
}

// NewHTTPAIResponder creates a new HTTPAIResponder.
func NewHTTPAIResponder(url string, timeout time.Duration) *HTTPAIResponder {
	return &HTTPAIResponder{
		url:    strings.TrimRight(url, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

type aiResponse struct {
	Reply string `json:"reply"`
}

// GenerateReply asks the AI service for a reply to the visitor's prompt.
func (c *HTTPAIResponder) GenerateReply(ctx context.Context, in AIRequest) (string, error) {
	requestBody, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/reply", bytes.NewBuffer(requestBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &UpstreamError{Service: "ai", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &UpstreamError{Service: "ai", StatusCode: resp.StatusCode}
	}

	var out aiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &UpstreamError{Service: "ai", Err: fmt.Errorf("failed to decode response body: %w", err)}
	}
	if strings.TrimSpace(out.Reply) == "" {
		return "", &UpstreamError{Service: "ai", Err: fmt.Errorf("empty reply")}
	}

	return out.Reply, nil
}
