package agentrun

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const maxResponseSize = 4 * 1024 * 1024

type apiCall struct {
	op        string
	method    string
	path      string
	query     url.Values
	body      any
	retryable bool
}

// call performs one REST call against the agents service and decodes the
// JSON response into out. credential is sent as a bearer token.
func (c *client) call(parentCtx context.Context, credential string, ac apiCall, out any) error {
	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.UpstreamTimeout)
	defer cancel()

	var bodyBytes []byte
	if ac.body != nil {
		b, err := json.Marshal(ac.body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", ac.op, err)
		}
		bodyBytes = b
	}

	q := url.Values{}
	for k, v := range ac.query {
		q[k] = v
	}
	q.Set("api-version", c.cfg.APIVersion)
	target := c.cfg.Endpoint + ac.path + "?" + q.Encode()

	doOnce := func(ctx context.Context) (*http.Response, error) {
		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, ac.method, target, body)
		if err != nil {
			return nil, fmt.Errorf("%s: build HTTP request: %w", ac.op, err)
		}
		req.Header.Set("Authorization", "Bearer "+credential)
		req.Header.Set("Accept", "application/json")
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return c.httpClient.Do(req)
	}

	start := time.Now()
	resp, err := c.doWithRetry(ctx, ac.op, ac.retryable, doOnce)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", ac.op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var perr providerErrorResponse
		if err := json.Unmarshal(raw, &perr); err == nil && perr.Error.Message != "" {
			c.logger.Error("agent service error",
				zap.String("op", ac.op),
				zap.Int("status", resp.StatusCode),
				zap.String("error_code", perr.Error.Code),
				zap.String("error_message", perr.Error.Message),
			)
			return fmt.Errorf("%s: upstream %d: %s (%s)",
				ac.op, resp.StatusCode, perr.Error.Message, perr.Error.Code)
		}

		c.logger.Error("agent upstream error",
			zap.String("op", ac.op),
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(raw), 200)),
		)
		return fmt.Errorf("%s: upstream %d: %s",
			ac.op, resp.StatusCode, truncate(string(raw), 200))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", ac.op, err)
		}
	}

	c.logger.Debug("agent call completed",
		zap.String("op", ac.op),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func (c *client) createThread(ctx context.Context, credential string) (string, error) {
	var th providerThread
	err := c.call(ctx, credential, apiCall{
		op:     "create thread",
		method: http.MethodPost,
		path:   "/threads",
		body:   struct{}{},
	}, &th)
	if err != nil {
		return "", err
	}
	if th.ID == "" {
		return "", fmt.Errorf("create thread: response has no id")
	}
	return th.ID, nil
}

func (c *client) addMessage(ctx context.Context, credential, threadID, content string) error {
	return c.call(ctx, credential, apiCall{
		op:     "create message",
		method: http.MethodPost,
		path:   "/threads/" + url.PathEscape(threadID) + "/messages",
		body:   providerCreateMessage{Role: "user", Content: content},
	}, nil)
}

func (c *client) createRun(ctx context.Context, credential, threadID string) (*providerRun, error) {
	var run providerRun
	err := c.call(ctx, credential, apiCall{
		op:     "create run",
		method: http.MethodPost,
		path:   "/threads/" + url.PathEscape(threadID) + "/runs",
		body:   providerCreateRun{AssistantID: c.cfg.AgentID},
	}, &run)
	if err != nil {
		return nil, err
	}
	if run.ID == "" {
		return nil, fmt.Errorf("create run: response has no id")
	}
	return &run, nil
}

func (c *client) getRun(ctx context.Context, credential, threadID, runID string) (*providerRun, error) {
	var run providerRun
	err := c.call(ctx, credential, apiCall{
		op:        "get run",
		method:    http.MethodGet,
		path:      "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID),
		retryable: true,
	}, &run)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// listMessages returns the thread's messages newest first.
func (c *client) listMessages(ctx context.Context, credential, threadID string) ([]json.RawMessage, error) {
	var list providerMessageList
	err := c.call(ctx, credential, apiCall{
		op:        "list messages",
		method:    http.MethodGet,
		path:      "/threads/" + url.PathEscape(threadID) + "/messages",
		query:     url.Values{"order": []string{"desc"}},
		retryable: true,
	}, &list)
	if err != nil {
		return nil, err
	}
	return list.Data, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
