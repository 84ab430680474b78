package queue

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confera-app/backend/internal/config"
	"github.com/confera-app/backend/internal/redis"
)

// newMemoryManager returns a manager running on the in-memory fallback;
// the Redis client points at a closed port.
func newMemoryManager(policies map[string]Policy) *Manager {
	redisClient := redis.NewClient(&config.RedisConfig{Host: "127.0.0.1", Port: "1"})
	return NewManager(redisClient, policies)
}

func waitFor(t *testing.T, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestEnqueueRunsHandler(t *testing.T) {
	m := newMemoryManager(map[string]Policy{QueueEmail: {Concurrency: 1, MaxAttempts: 1}})
	defer m.Stop()

	var got atomic.Value
	m.RegisterHandler(JobTypeEmail, func(ctx context.Context, job *Job) error {
		var payload EmailPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return err
		}
		got.Store(payload.To)
		return nil
	})
	m.Start(context.Background())

	_, err := m.Enqueue(context.Background(), QueueEmail, JobTypeEmail, EmailPayload{To: "alice@example.com"})
	require.NoError(t, err)

	waitFor(t, func() bool { return got.Load() != nil }, 2*time.Second)
	assert.Equal(t, "alice@example.com", got.Load())
}

func TestEnqueueUnknownQueue(t *testing.T) {
	m := newMemoryManager(map[string]Policy{QueueEmail: {Concurrency: 1, MaxAttempts: 1}})
	defer m.Stop()

	_, err := m.Enqueue(context.Background(), "no-such-queue", JobTypeEmail, EmailPayload{})
	assert.Error(t, err)
}

func TestScheduleFiresAfterDelay(t *testing.T) {
	m := newMemoryManager(map[string]Policy{QueueReminder: {Concurrency: 1, MaxAttempts: 1}})
	defer m.Stop()

	var fired atomic.Int32
	m.RegisterHandler(JobTypeReminder, func(ctx context.Context, job *Job) error {
		fired.Add(1)
		return nil
	})
	m.Start(context.Background())

	err := m.Schedule(context.Background(), QueueReminder, "reminder-x-5", JobTypeReminder,
		ReminderPayload{MinutesBefore: 5}, time.Now().Add(50*time.Millisecond))
	require.NoError(t, err)

	assert.Equal(t, int32(0), fired.Load(), "job must not fire before its time")
	waitFor(t, func() bool { return fired.Load() == 1 }, 2*time.Second)
}

func TestScheduleSameIDReplaces(t *testing.T) {
	m := newMemoryManager(map[string]Policy{QueueReminder: {Concurrency: 1, MaxAttempts: 1}})
	defer m.Stop()

	var fired atomic.Int32
	m.RegisterHandler(JobTypeReminder, func(ctx context.Context, job *Job) error {
		fired.Add(1)
		return nil
	})
	m.Start(context.Background())

	id := "reminder-y-15"
	require.NoError(t, m.Schedule(context.Background(), QueueReminder, id, JobTypeReminder,
		ReminderPayload{MinutesBefore: 15}, time.Now().Add(time.Hour)))
	require.NoError(t, m.Schedule(context.Background(), QueueReminder, id, JobTypeReminder,
		ReminderPayload{MinutesBefore: 15}, time.Now().Add(50*time.Millisecond)))

	waitFor(t, func() bool { return fired.Load() == 1 }, 2*time.Second)
	// The hour-away original was replaced, not queued alongside.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestCancelStopsScheduledJob(t *testing.T) {
	m := newMemoryManager(map[string]Policy{QueueReminder: {Concurrency: 1, MaxAttempts: 1}})
	defer m.Stop()

	var fired atomic.Int32
	m.RegisterHandler(JobTypeReminder, func(ctx context.Context, job *Job) error {
		fired.Add(1)
		return nil
	})
	m.Start(context.Background())

	id := "reminder-z-30"
	require.NoError(t, m.Schedule(context.Background(), QueueReminder, id, JobTypeReminder,
		ReminderPayload{MinutesBefore: 30}, time.Now().Add(100*time.Millisecond)))
	require.NoError(t, m.Cancel(context.Background(), QueueReminder, id))

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())

	// Cancelling an unknown ID is a no-op.
	assert.NoError(t, m.Cancel(context.Background(), QueueReminder, "never-scheduled"))
}

func TestRetryThenGiveUp(t *testing.T) {
	m := newMemoryManager(map[string]Policy{QueueEmail: {Concurrency: 1, MaxAttempts: 2, Backoff: 10 * time.Millisecond}})
	defer m.Stop()

	var attempts atomic.Int32
	m.RegisterHandler(JobTypeEmail, func(ctx context.Context, job *Job) error {
		attempts.Add(1)
		return context.DeadlineExceeded
	})
	m.Start(context.Background())

	_, err := m.Enqueue(context.Background(), QueueEmail, JobTypeEmail, EmailPayload{To: "x@example.com"})
	require.NoError(t, err)

	waitFor(t, func() bool { return attempts.Load() == 2 }, 3*time.Second)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(2), attempts.Load(), "attempts stop at the policy cap")
}

func TestDefaultPoliciesCoverAllQueues(t *testing.T) {
	policies := DefaultPolicies()
	for _, name := range []string{QueueEmail, QueueReminder, QueueMinutes, QueueRecording} {
		policy, ok := policies[name]
		require.True(t, ok, name)
		assert.Greater(t, policy.Concurrency, 0, name)
		assert.Greater(t, policy.MaxAttempts, 0, name)
	}
	assert.Equal(t, 5, policies[QueueEmail].Concurrency)
	assert.Equal(t, 2, policies[QueueMinutes].Concurrency)
	assert.Equal(t, 2, policies[QueueRecording].Concurrency)

	// Deliveries get three tries, the heavier pipelines two.
	assert.Equal(t, 3, policies[QueueEmail].MaxAttempts)
	assert.Equal(t, 3, policies[QueueReminder].MaxAttempts)
	assert.Equal(t, 2, policies[QueueMinutes].MaxAttempts)
	assert.Equal(t, 2, policies[QueueRecording].MaxAttempts)
	assert.Equal(t, 5*time.Second, policies[QueueEmail].Backoff)
	assert.Equal(t, 10*time.Second, policies[QueueMinutes].Backoff)
}

func TestRetryBackoffDoubles(t *testing.T) {
	base := 5 * time.Second
	assert.Equal(t, 5*time.Second, retryBackoff(base, 1))
	assert.Equal(t, 10*time.Second, retryBackoff(base, 2))
	assert.Equal(t, 20*time.Second, retryBackoff(base, 3))
	assert.Equal(t, base, retryBackoff(base, 0))
}

func TestRetriesAreDelayed(t *testing.T) {
	m := newMemoryManager(map[string]Policy{QueueEmail: {Concurrency: 1, MaxAttempts: 3, Backoff: 150 * time.Millisecond}})
	defer m.Stop()

	var attempts atomic.Int32
	m.RegisterHandler(JobTypeEmail, func(ctx context.Context, job *Job) error {
		attempts.Add(1)
		return context.DeadlineExceeded
	})
	m.Start(context.Background())

	_, err := m.Enqueue(context.Background(), QueueEmail, JobTypeEmail, EmailPayload{To: "x@example.com"})
	require.NoError(t, err)

	waitFor(t, func() bool { return attempts.Load() == 1 }, 2*time.Second)
	// The first retry waits out the base backoff.
	time.Sleep(75 * time.Millisecond)
	assert.Equal(t, int32(1), attempts.Load())
	waitFor(t, func() bool { return attempts.Load() == 3 }, 3*time.Second)
}
