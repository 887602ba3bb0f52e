package agentrun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"agentchat-gateway/internal/metrics"
)

const noResponseText = "No response received."

var tracer = otel.Tracer("agentchat-gateway/agentrun")

// errWaitBudget marks a poll loop that ran out of time with the run still going.
var errWaitBudget = errors.New("wait budget exhausted")

func (c *client) SubmitOrResume(ctx context.Context, credential, threadID, query string) Outcome {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "agentrun.SubmitOrResume",
		trace.WithAttributes(
			attribute.String("agent.id", c.cfg.AgentID),
			attribute.Bool("agent.resume", threadID != ""),
		),
	)
	defer span.End()

	out := c.submitOrResume(ctx, credential, threadID, query)

	span.SetAttributes(
		attribute.String("agent.thread_id", out.ThreadID),
		attribute.String("agent.run_id", out.RunID),
		attribute.String("agent.outcome", out.Kind.String()),
	)
	if out.Kind == KindFailed {
		span.SetStatus(codes.Error, out.Message)
	}

	metrics.AgentRunOutcomesTotal.WithLabelValues(out.Kind.String()).Inc()
	metrics.AgentRunDurationSeconds.Observe(time.Since(start).Seconds())

	c.logger.Info("agent run outcome",
		zap.String("outcome", out.Kind.String()),
		zap.String("thread_id", out.ThreadID),
		zap.String("run_id", out.RunID),
		zap.Bool("resumed_thread", threadID != ""),
		zap.Duration("duration", time.Since(start)),
	)
	return out
}

func (c *client) submitOrResume(ctx context.Context, credential, threadID, query string) Outcome {
	if threadID == "" {
		id, err := c.createThread(ctx, credential)
		if err != nil {
			return c.failed(err)
		}
		threadID = id
	}

	if err := c.addMessage(ctx, credential, threadID, query); err != nil {
		return c.failed(err)
	}

	run, err := c.createRun(ctx, credential, threadID)
	if err != nil {
		return c.failed(err)
	}

	last, err := c.waitForRun(ctx, credential, threadID, run)
	switch {
	case errors.Is(err, errWaitBudget):
		return TimedOut(threadID, run.ID, timeoutMessage(c.cfg.WaitBudget, last.Status))
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// The caller stopped waiting; the run keeps going and can be resumed.
		return TimedOut(threadID, run.ID, timeoutMessage(c.cfg.WaitBudget, last.Status))
	case err != nil:
		return c.failed(err)
	}

	if last.Status != "completed" {
		return c.failed(runError(last))
	}

	answer, err := c.latestAnswer(ctx, credential, threadID, run.ID)
	if err != nil {
		return c.failed(err)
	}
	return Finished(threadID, run.ID, answer)
}

// waitForRun polls every PollInterval until the run is terminal or
// WaitBudget, measured from run start, is spent. Status calls share that
// deadline, so a slow call cannot stretch the wait. It returns the last
// status seen.
func (c *client) waitForRun(ctx context.Context, credential, threadID string, run *providerRun) (*providerRun, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.WaitBudget)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	last := run
	for {
		status, err := c.getRun(pollCtx, credential, threadID, run.ID)
		if err != nil {
			if pollCtx.Err() != nil && ctx.Err() == nil {
				return last, errWaitBudget
			}
			return last, err
		}
		last = status

		if status.terminal() {
			return last, nil
		}

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			return last, errWaitBudget
		case <-ticker.C:
		}
	}
}

// runError describes a run that ended without completing.
func runError(run *providerRun) error {
	if run.LastError != nil && run.LastError.Message != "" {
		return fmt.Errorf("run %s: %s", run.Status, run.LastError.Message)
	}
	return fmt.Errorf("run %s", run.Status)
}

// latestAnswer returns the text of the newest assistant message written by
// runID. Messages that carry no run id are accepted as a fallback; messages
// from other runs on the thread never are.
func (c *client) latestAnswer(ctx context.Context, credential, threadID, runID string) (string, error) {
	msgs, err := c.listMessages(ctx, credential, threadID)
	if err != nil {
		return "", err
	}

	fallback := ""
	for _, raw := range msgs {
		var m providerMessage
		if err := json.Unmarshal(raw, &m); err != nil || m.Role != "assistant" {
			continue
		}
		switch m.RunID {
		case runID:
			return messageText(m, raw), nil
		case "":
			if fallback == "" {
				fallback = messageText(m, raw)
			}
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return noResponseText, nil
}

// messageText prefers the last text content part, then the raw content,
// then the whole message.
func messageText(m providerMessage, raw json.RawMessage) string {
	content := strings.TrimSpace(string(m.Content))
	if content == "" || content == "null" {
		return string(raw)
	}

	var parts []providerContentPart
	if err := json.Unmarshal(m.Content, &parts); err == nil {
		for i := len(parts) - 1; i >= 0; i-- {
			if parts[i].Type == "text" && parts[i].Text != nil {
				return parts[i].Text.Value
			}
		}
	}

	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}
	return content
}

func (c *client) failed(err error) Outcome {
	c.logger.Error("agent run failed", zap.Error(err))
	return Failed("Error querying agent: " + err.Error())
}

func timeoutMessage(budget time.Duration, status string) string {
	return fmt.Sprintf("Error: Agent run did not complete within %s. Last status: %s",
		formatBudget(budget), status)
}

func formatBudget(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%d seconds", int(d/time.Second))
	}
	return d.String()
}
