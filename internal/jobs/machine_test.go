package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentchat-gateway/internal/identity"
	"agentchat-gateway/internal/kvs"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setup(t *testing.T) (*Machine, *kvs.MemoryStore, *clock, identity.JobKey) {
	t.Helper()
	c := &clock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := kvs.NewMemoryStore(time.Hour, kvs.WithClock(c.Now))
	t.Cleanup(func() { store.Close() })

	key, err := identity.NewJobKey(identity.NewUserIdentity("Alice"), "What is revenue?")
	require.NoError(t, err)
	return NewMachine(store, DefaultTTL), store, c, key
}

func TestLoadAbsent(t *testing.T) {
	m, _, _, key := setup(t)

	r, err := m.Load(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, r.Absent())
	assert.False(t, r.Resumable())
}

func TestPendingThenCompleted(t *testing.T) {
	m, store, _, key := setup(t)
	ctx := context.Background()

	require.NoError(t, m.MarkPending(ctx, key, "A", "B", "M"))

	r, err := m.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, Record{Status: StatusPending, ThreadID: "A", RunID: "B", Response: "M"}, r)
	assert.True(t, r.Resumable())

	require.NoError(t, m.MarkPending(ctx, key, "A", "C", "M2"))
	r, _ = m.Load(ctx, key)
	assert.Equal(t, "C", r.RunID, "pending -> pending rewrites the run id")

	require.NoError(t, m.MarkCompleted(ctx, key, "100"))
	r, _ = m.Load(ctx, key)
	assert.Equal(t, Record{Status: StatusCompleted, Response: "100"}, r)
	assert.False(t, r.Resumable())

	raw, _ := store.GetFields(ctx, key.String())
	assert.Equal(t, "completed", raw["status"])
	assert.Equal(t, "100", raw["response"])
}

func TestCompletedIsTerminal(t *testing.T) {
	m, _, _, key := setup(t)
	ctx := context.Background()

	require.NoError(t, m.MarkCompleted(ctx, key, "R"))
	err := m.MarkPending(ctx, key, "T", "r", "M")
	assert.ErrorIs(t, err, ErrTerminal)

	r, _ := m.Load(ctx, key)
	assert.Equal(t, "R", r.Response)
}

func TestAbsentToCompleted(t *testing.T) {
	m, _, _, key := setup(t)
	ctx := context.Background()

	require.NoError(t, m.MarkCompleted(ctx, key, "R"))
	r, _ := m.Load(ctx, key)
	assert.True(t, r.Completed())
}

func TestRecordExpiresRegardlessOfStatus(t *testing.T) {
	for _, status := range []Status{StatusPending, StatusCompleted} {
		t.Run(string(status), func(t *testing.T) {
			m, _, c, key := setup(t)
			ctx := context.Background()

			if status == StatusPending {
				require.NoError(t, m.MarkPending(ctx, key, "T", "r", "M"))
			} else {
				require.NoError(t, m.MarkCompleted(ctx, key, "R"))
			}

			c.Advance(DefaultTTL - time.Second)
			r, _ := m.Load(ctx, key)
			assert.Equal(t, status, r.Status)

			c.Advance(time.Second)
			r, _ = m.Load(ctx, key)
			assert.True(t, r.Absent())
		})
	}
}

func TestUnknownStatusIsAbsent(t *testing.T) {
	m, store, _, key := setup(t)
	ctx := context.Background()

	require.NoError(t, store.SetFields(ctx, key.String(), map[string]string{"status": "exploded", "response": "x"}))
	r, err := m.Load(ctx, key)
	require.NoError(t, err)
	assert.True(t, r.Absent())
}

func TestMarkPendingRequiresThread(t *testing.T) {
	m, _, _, key := setup(t)
	assert.Error(t, m.MarkPending(context.Background(), key, "", "r", "M"))
}
