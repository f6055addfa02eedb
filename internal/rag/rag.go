// Package rag retrieves relevant document excerpts for a user query from
// an external retrieval service.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNoResults is the explicit sentinel for "the service answered but found
// nothing relevant". Callers append nothing to the prompt in that case,
// as opposed to transport failures which they log and skip.
var ErrNoResults = errors.New("rag: no relevant results")

// Retriever returns a formatted block of relevant document excerpts for
// free text, or ErrNoResults.
type Retriever interface {
	Retrieve(ctx context.Context, userID, query string) (string, error)
}

// Client is an HTTP Retriever talking to a retrieval service endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a retrieval client for the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type retrieveRequest struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
}

type retrieveResponse struct {
	Context   string `json:"context"`
	NoResults bool   `json:"no_results"`
}

func (c *Client) Retrieve(ctx context.Context, userID, query string) (string, error) {
	payload, err := json.Marshal(retrieveRequest{Query: query, UserID: userID})
	if err != nil {
		return "", fmt.Errorf("encode retrieval request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/retrieve", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create retrieval request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("retrieval request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("retrieval service returned status %d: %s", resp.StatusCode, body)
	}

	var decoded retrieveResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode retrieval response: %w", err)
	}

	if decoded.NoResults || decoded.Context == "" {
		return "", ErrNoResults
	}
	return decoded.Context, nil
}
