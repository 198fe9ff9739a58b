// Package playbook dispatches playbooks when triggers fire, enforcing
// per-trigger cooldown windows with compare-and-swap claims so concurrent
// dispatchers never double-fire.
package playbook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/c360/autoflow/errors"
)

// ExecutionResult is the executor's record of one playbook run.
type ExecutionResult struct {
	Success     bool   `json:"success"`
	ExecutionID string `json:"execution_id,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Executor starts a playbook run. Implementations own transport and
// authentication; the dispatcher only needs the outcome.
type Executor interface {
	Execute(ctx context.Context, playbookID string, contextData map[string]any) (*ExecutionResult, error)
}

// HTTPExecutor invokes playbooks over the orchestrator's HTTP API.
type HTTPExecutor struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPExecutor creates an executor client for the given orchestrator
// base URL. Timeout bounds each invocation end to end.
func NewHTTPExecutor(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPExecutor{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "playbook-executor"),
	}
}

type executeRequest struct {
	PlaybookID  string         `json:"playbookId"`
	ContextData map[string]any `json:"contextData,omitempty"`
}

// Execute posts the run request to {base}/execute-playbook. Any 2xx status
// is a successful invocation; 5xx and transport errors are transient so the
// caller can restore the cooldown claim and let a later event retry.
func (x *HTTPExecutor) Execute(ctx context.Context, playbookID string, contextData map[string]any) (*ExecutionResult, error) {
	body, err := json.Marshal(executeRequest{PlaybookID: playbookID, ContextData: contextData})
	if err != nil {
		return nil, errors.Wrap(err, "HTTPExecutor", "Execute", "marshal request")
	}

	url := x.baseURL + "/execute-playbook"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "HTTPExecutor", "Execute", "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.client.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrExecutorUnavailable, err),
			"HTTPExecutor", "Execute", "post execute-playbook")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.WrapTransient(err, "HTTPExecutor", "Execute", "read response")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fallthrough to result decode below
	case resp.StatusCode >= 500:
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: status %d", errors.ErrExecutorUnavailable, resp.StatusCode),
			"HTTPExecutor", "Execute", "invoke playbook")
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("executor rejected request: status %d: %s", resp.StatusCode, respBody),
			"HTTPExecutor", "Execute", "invoke playbook")
	}

	result := &ExecutionResult{Success: true}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			// 2xx with an undecodable body still counts as accepted
			x.logger.Warn("Unparseable executor response",
				"playbook_id", playbookID,
				"status", resp.StatusCode,
				"error", err)
			return &ExecutionResult{Success: true}, nil
		}
	}

	x.logger.Debug("Playbook invoked",
		"playbook_id", playbookID,
		"execution_id", result.ExecutionID,
		"success", result.Success)

	return result, nil
}
