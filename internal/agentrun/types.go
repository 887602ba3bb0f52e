package agentrun

import (
	"context"
	"fmt"
)

// Kind tags an Outcome.
type Kind int

const (
	KindFinished Kind = iota + 1
	KindTimedOut
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindFinished:
		return "finished"
	case KindTimedOut:
		return "timed_out"
	case KindFailed:
		return "failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of SubmitOrResume. Exactly one variant is set,
// selected by Kind:
//
//	Finished: Answer (ThreadID/RunID informational)
//	TimedOut: ThreadID, RunID, Message
//	Failed:   Message
type Outcome struct {
	Kind     Kind
	Answer   string
	ThreadID string
	RunID    string
	Message  string
}

func Finished(threadID, runID, answer string) Outcome {
	return Outcome{Kind: KindFinished, ThreadID: threadID, RunID: runID, Answer: answer}
}

func TimedOut(threadID, runID, message string) Outcome {
	return Outcome{Kind: KindTimedOut, ThreadID: threadID, RunID: runID, Message: message}
}

func Failed(message string) Outcome {
	return Outcome{Kind: KindFailed, Message: message}
}

// Text is what a caller shows the user for this outcome.
func (o Outcome) Text() string {
	if o.Kind == KindFinished {
		return o.Answer
	}
	return o.Message
}

// Client is the boundary to the agent execution service.
type Client interface {
	// SubmitOrResume posts query to threadID (a new thread when empty),
	// starts a run and waits for it within the configured budget. The run is
	// never cancelled, even when the wait gives up.
	SubmitOrResume(ctx context.Context, credential, threadID, query string) Outcome
}
