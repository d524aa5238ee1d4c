package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// RemoteRunner delegates instructions to an external automation agent
// over HTTP. The agent drives the browser through its own channel; the
// session stays with the orchestrator for screenshots and teardown.
type RemoteRunner struct {
	baseURL string
	http    *http.Client
}

func NewRemoteRunner(baseURL string) *RemoteRunner {
	return &RemoteRunner{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Minute},
	}
}

type runRequest struct {
	Instruction string `json:"instruction"`
}

type runResponse struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

func (r *RemoteRunner) Run(ctx context.Context, instruction string, _ Session) (string, error) {
	body, err := json.Marshal(runRequest{Instruction: instruction})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("agent request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("agent returned %s", resp.Status)
	}

	var out runResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode agent response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("agent: %s", out.Error)
	}
	return out.Output, nil
}
