// Package chat answers one user message, reusing a finished answer or a
// still-running agent thread when the same user asked the same thing before.
package chat

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"agentchat-gateway/internal/agentrun"
	"agentchat-gateway/internal/identity"
	"agentchat-gateway/internal/jobs"
	"agentchat-gateway/internal/metrics"
	"agentchat-gateway/pkg/logging/logging"
)

var (
	ErrUnauthenticated = errors.New("chat: not authenticated")
	ErrBadRequest      = errors.New("chat: no message provided")
)

// Source says where an Answer came from.
type Source string

const (
	SourceCache   Source = "cache"
	SourceAgent   Source = "agent"
	SourcePending Source = "pending"
	SourceError   Source = "error"
)

// Answer is the chat response text. Agent failures are returned as text too,
// with Source set to SourceError.
type Answer struct {
	Text   string
	Source Source
}

type Orchestrator struct {
	machine *jobs.Machine
	agent   agentrun.Client
	group   singleflight.Group
}

func NewOrchestrator(machine *jobs.Machine, agent agentrun.Client) *Orchestrator {
	return &Orchestrator{machine: machine, agent: agent}
}

// Handle answers message for principal. credential is forwarded to the agent
// service and never stored.
func (o *Orchestrator) Handle(ctx context.Context, principal, message, credential string) (Answer, error) {
	user := identity.NewUserIdentity(principal)
	if user == "" || credential == "" {
		return Answer{}, ErrUnauthenticated
	}
	if message == "" {
		return Answer{}, ErrBadRequest
	}

	key, err := identity.NewJobKey(user, message)
	if err != nil {
		return Answer{}, ErrUnauthenticated
	}

	// Identical questions from the same user in flight in this process share
	// one agent run. The credential of the first caller is used. The shared
	// work is detached from that caller, so it leaving does not fail the
	// others; the agent's wait budget still bounds it.
	shared := context.WithoutCancel(ctx)
	ch := o.group.DoChan(key.String(), func() (any, error) {
		return o.handle(shared, key, message, credential), nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			logging.L(ctx).Debug("chat request coalesced", zap.String("fingerprint", string(key.Fingerprint)))
		}
		return res.Val.(Answer), nil
	case <-ctx.Done():
		return Answer{}, ctx.Err()
	}
}

// handle runs on a context detached from the caller, so a result that
// arrives after the caller left is still stored.
func (o *Orchestrator) handle(ctx context.Context, key identity.JobKey, message, credential string) Answer {
	log := logging.L(ctx).With(zap.String("fingerprint", string(key.Fingerprint)))

	record, err := o.machine.Load(ctx, key)
	if err != nil {
		log.Warn("job lookup failed, treating as absent", zap.Error(err))
		record = jobs.Record{}
	}

	if record.Completed() {
		metrics.JobCacheHitsTotal.Inc()
		log.Info("job cache hit")
		return Answer{Text: record.Response, Source: SourceCache}
	}

	var threadID string
	if record.Resumable() {
		threadID = record.ThreadID
		log.Info("resuming pending job",
			zap.String("thread_id", record.ThreadID),
			zap.String("previous_run_id", record.RunID),
		)
	}

	out := o.agent.SubmitOrResume(ctx, credential, threadID, message)

	switch out.Kind {
	case agentrun.KindFinished:
		if err := o.machine.MarkCompleted(ctx, key, out.Answer); err != nil {
			log.Error("failed to store completed job", zap.Error(err))
		}
		return Answer{Text: out.Answer, Source: SourceAgent}

	case agentrun.KindTimedOut:
		if err := o.machine.MarkPending(ctx, key, out.ThreadID, out.RunID, out.Message); err != nil {
			if errors.Is(err, jobs.ErrTerminal) {
				log.Info("job completed concurrently, keeping completed record")
			} else {
				log.Error("failed to store pending job", zap.Error(err))
			}
		}
		return Answer{Text: out.Message, Source: SourcePending}

	default:
		log.Warn("agent run failed, nothing stored", zap.String("error", out.Message))
		return Answer{Text: out.Text(), Source: SourceError}
	}
}
