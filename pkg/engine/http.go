package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/klocfix/klocfix/pkg/config"
	"github.com/klocfix/klocfix/pkg/utils"
)

// HTTPEngine talks to an OpenAI-compatible chat-completions endpoint. A
// weighted semaphore enforces the concurrent-request budget: callers over the
// budget queue instead of failing.
type HTTPEngine struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	sem     *semaphore.Weighted
	logger  *utils.Logger
}

// NewHTTPEngine builds an engine from the run configuration.
func NewHTTPEngine(cfg *config.Config, logger *utils.Logger) *HTTPEngine {
	return &HTTPEngine{
		baseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: time.Duration(cfg.EngineTimeoutSecs) * time.Second},
		sem:     semaphore.NewWeighted(cfg.EngineConcurrency),
		logger:  logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Confirm implements Engine.
func (e *HTTPEngine) Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResponse, error) {
	reply, err := e.complete(ctx, confirmSystemPrompt, buildConfirmPrompt(req))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	return parseConfirmReply(reply)
}

// Remediate implements Engine.
func (e *HTTPEngine) Remediate(ctx context.Context, req RemediateRequest) (*RemediateResponse, error) {
	reply, err := e.complete(ctx, remediateSystemPrompt, buildRemediatePrompt(req))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	return parseRemediateReply(reply)
}

// complete performs one chat-completion round trip under the concurrency
// budget, with exponential backoff on transient failures.
func (e *HTTPEngine) complete(ctx context.Context, system, user string) (string, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer e.sem.Release(1)

	body, err := json.Marshal(chatRequest{
		Model: e.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}

	resp, err := e.doWithBackoff(ctx, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("engine returned status %d: %s", resp.StatusCode, truncate(string(payload), 300))
	}
	var parsed chatResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", fmt.Errorf("decoding engine response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("engine error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("engine returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// doWithBackoff executes the request, retrying once with backoff on network
// errors, 408, 429 and 5xx responses. This is the only retry in the call
// path; a failure after it surfaces to the caller.
func (e *HTTPEngine) doWithBackoff(ctx context.Context, body []byte) (*http.Response, error) {
	const maxRetries = 1
	const baseDelay = 200 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if e.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+e.apiKey)
		}

		resp, err := e.client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		} else {
			switch resp.StatusCode {
			case http.StatusRequestTimeout, http.StatusTooManyRequests,
				http.StatusInternalServerError, http.StatusBadGateway,
				http.StatusServiceUnavailable, http.StatusGatewayTimeout:
				lastErr = fmt.Errorf("engine returned status %d", resp.StatusCode)
				resp.Body.Close()
			default:
				return resp, nil
			}
		}

		if attempt < maxRetries {
			delay := baseDelay * time.Duration(1<<attempt)
			jitter := time.Duration(time.Now().UnixNano() % int64(delay) / 2)
			e.logger.Logf("engine call failed (attempt %d): %v; retrying in %s", attempt+1, lastErr, delay+jitter)
			select {
			case <-time.After(delay + jitter):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
