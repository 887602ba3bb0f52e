package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"agentchat-gateway/internal/identity"
	"agentchat-gateway/internal/kvs"
	"agentchat-gateway/pkg/logging/logging"
)

// DefaultTTL is how long a record lives after its last write.
const DefaultTTL = 600 * time.Second

// ErrTerminal is returned when a completed record would be moved back to pending.
var ErrTerminal = errors.New("jobs: record already completed")

// Machine applies state transitions to records held in a kvs.Store.
// It never keeps records of its own.
type Machine struct {
	store kvs.Store
	ttl   time.Duration
}

func NewMachine(store kvs.Store, ttl time.Duration) *Machine {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Machine{store: store, ttl: ttl}
}

// TTL returns the expiry applied on every write.
func (m *Machine) TTL() time.Duration { return m.ttl }

// Load returns the record for key. An absent or expired key gives the zero Record.
func (m *Machine) Load(ctx context.Context, key identity.JobKey) (Record, error) {
	fields, err := m.store.GetFields(ctx, key.String())
	if err != nil {
		return Record{}, fmt.Errorf("load job: %w", err)
	}
	r, ok := recordFromFields(fields)
	if !ok {
		logging.L(ctx).Warn("job record with unknown status treated as absent",
			zap.String("status", fields[fieldStatus]),
			zap.String("fingerprint", string(key.Fingerprint)),
		)
	}
	return r, nil
}

// MarkPending records a submitted run that has not finished:
// absent -> pending, or pending -> pending with a new run id.
func (m *Machine) MarkPending(ctx context.Context, key identity.JobKey, threadID, runID, placeholder string) error {
	if threadID == "" {
		return fmt.Errorf("mark pending: thread id is required")
	}

	current, err := m.Load(ctx, key)
	if err != nil {
		return err
	}
	if current.Completed() {
		return ErrTerminal
	}

	r := Record{
		Status:   StatusPending,
		ThreadID: threadID,
		RunID:    runID,
		Response: placeholder,
	}
	if err := kvs.Write(ctx, m.store, key.String(), r.fields(), m.ttl); err != nil {
		return fmt.Errorf("mark pending: %w", err)
	}
	return nil
}

// MarkCompleted stores the final answer. Thread and run ids are cleared so a
// completed record can never be mistaken for a resumable one.
func (m *Machine) MarkCompleted(ctx context.Context, key identity.JobKey, response string) error {
	r := Record{
		Status:   StatusCompleted,
		Response: response,
	}
	if err := kvs.Write(ctx, m.store, key.String(), r.fields(), m.ttl); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}
