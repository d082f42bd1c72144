package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPAgent calls a browser-use service over HTTP (POST {baseURL}/execute).
type HTTPAgent struct {
	baseURL string
	client  *http.Client
}

// NewHTTPAgent creates an agent client. A zero timeout defaults to 10 minutes;
// form filling with a language-model-driven browser is slow.
func NewHTTPAgent(baseURL string, timeout time.Duration) *HTTPAgent {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &HTTPAgent{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Execute implements Agent.
func (a *HTTPAgent) Execute(ctx context.Context, task AgentTask) (AgentResult, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return AgentResult{}, fmt.Errorf("failed to encode agent task: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return AgentResult{}, fmt.Errorf("failed to create agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return AgentResult{}, fmt.Errorf("failed to call browser agent: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return AgentResult{}, fmt.Errorf("failed to read agent response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return AgentResult{}, &AgentError{StatusCode: resp.StatusCode, Body: truncate(string(data), 500)}
	}

	var result AgentResult
	if err := json.Unmarshal(data, &result); err != nil {
		return AgentResult{}, fmt.Errorf("failed to decode agent response: %w", err)
	}
	return result, nil
}

// AgentError is a non-200 response from the agent service.
type AgentError struct {
	StatusCode int
	Body       string
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("browser agent returned HTTP %d: %s", e.StatusCode, e.Body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
