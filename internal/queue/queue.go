package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/confera-app/backend/internal/redis"
)

// Queue names. Each is an independent Redis list with its own worker
// pool and retry policy.
const (
	QueueEmail     = "email"
	QueueReminder  = "reminder"
	QueueMinutes   = "mom-generation"
	QueueRecording = "recording"
)

// DLQKey is the dead-letter list for jobs that exhausted their retries.
const DLQKey = "queue:dlq"

type JobType string

const (
	JobTypeEmail     JobType = "email"
	JobTypeReminder  JobType = "reminder"
	JobTypeMinutes   JobType = "mom-generation"
	JobTypeRecording JobType = "recording-processing"
)

// EmailPayload covers both reminder and minutes mail. Kind selects the
// template.
type EmailPayload struct {
	Kind          string    `json:"kind"`
	To            string    `json:"to"`
	ToName        string    `json:"toName,omitempty"`
	MeetingID     uuid.UUID `json:"meetingId"`
	MinutesID     uuid.UUID `json:"minutesId,omitempty"`
	MinutesBefore int       `json:"minutesBefore,omitempty"`
}

// ReminderPayload fires at a rung of the reminder ladder.
type ReminderPayload struct {
	MeetingID     uuid.UUID `json:"meetingId"`
	MinutesBefore int       `json:"minutesBefore"`
}

type MinutesPayload struct {
	MeetingID uuid.UUID `json:"meetingId"`
	SendEmail bool      `json:"sendEmail"`
}

type RecordingPayload struct {
	RecordingID uuid.UUID `json:"recordingId"`
}

// Job is the envelope stored on the wire. ID is caller-chosen so that
// scheduled jobs can be deduplicated and cancelled deterministically.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Queue     string          `json:"queue"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	NotBefore time.Time       `json:"notBefore,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Policy is the per-queue retry and concurrency configuration. Backoff
// is the base delay; each retry doubles it.
type Policy struct {
	Concurrency int
	MaxAttempts int
	Backoff     time.Duration
}

// retryBackoff returns the delay before the given attempt: base on the
// first retry, doubling on each one after.
func retryBackoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(1<<uint(attempt-1))
}

// DefaultPolicies mirrors the job mix: email is chatty and cheap,
// minutes generation is slow and expensive, recording moves big files.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		QueueEmail:     {Concurrency: 5, MaxAttempts: 3, Backoff: 5 * time.Second},
		QueueReminder:  {Concurrency: 2, MaxAttempts: 3, Backoff: 5 * time.Second},
		QueueMinutes:   {Concurrency: 2, MaxAttempts: 2, Backoff: 10 * time.Second},
		QueueRecording: {Concurrency: 2, MaxAttempts: 2, Backoff: 5 * time.Second},
	}
}

// Handler processes one job. A returned error triggers the queue's
// retry policy.
type Handler func(ctx context.Context, job *Job) error

// Manager owns the queues. With Redis it uses lists for ready jobs and
// a per-queue sorted set (scored by fire time) for delayed jobs; a
// promoter loop moves due jobs onto the ready list. Without Redis it
// degrades to buffered channels and time.Timer, losing durability but
// keeping single-node correctness.
type Manager struct {
	redisClient *redis.Client
	policies    map[string]Policy

	mu       sync.RWMutex
	handlers map[JobType]Handler

	// In-memory fallback state.
	memReady  map[string]chan *Job
	memTimers map[string]*time.Timer
	memMu     sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewManager(redisClient *redis.Client, policies map[string]Policy) *Manager {
	if policies == nil {
		policies = DefaultPolicies()
	}
	m := &Manager{
		redisClient: redisClient,
		policies:    policies,
		handlers:    make(map[JobType]Handler),
		memReady:    make(map[string]chan *Job),
		memTimers:   make(map[string]*time.Timer),
		stopCh:      make(chan struct{}),
	}
	for name := range policies {
		m.memReady[name] = make(chan *Job, 1024)
	}
	return m
}

// RegisterHandler binds a job type to its processor. Call before Start.
func (m *Manager) RegisterHandler(jobType JobType, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[jobType] = handler
}

func (m *Manager) handler(jobType JobType) (Handler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handlers[jobType]
	return h, ok
}

func readyKey(queue string) string {
	return "queue:" + queue + ":ready"
}

func delayedKey(queue string) string {
	return "queue:" + queue + ":delayed"
}

func bodiesKey(queue string) string {
	return "queue:" + queue + ":jobs"
}

// Enqueue submits a job for immediate processing.
func (m *Manager) Enqueue(ctx context.Context, queueName string, jobType JobType, payload interface{}) (string, error) {
	return m.enqueue(ctx, queueName, uuid.New().String(), jobType, payload, time.Time{})
}

// Schedule submits a job to run at notBefore. The ID is caller-chosen;
// scheduling the same ID twice replaces the earlier fire time.
func (m *Manager) Schedule(ctx context.Context, queueName, id string, jobType JobType, payload interface{}, notBefore time.Time) error {
	_, err := m.enqueue(ctx, queueName, id, jobType, payload, notBefore)
	return err
}

func (m *Manager) enqueue(ctx context.Context, queueName, id string, jobType JobType, payload interface{}, notBefore time.Time) (string, error) {
	if _, ok := m.policies[queueName]; !ok {
		return "", fmt.Errorf("unknown queue %q", queueName)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	job := &Job{
		ID:        id,
		Type:      jobType,
		Queue:     queueName,
		Payload:   body,
		NotBefore: notBefore,
		CreatedAt: time.Now(),
	}

	if err := m.push(ctx, job); err != nil {
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"job_id": job.ID,
		"type":   string(jobType),
		"queue":  queueName,
	}).Debug("Job enqueued")
	return job.ID, nil
}

func (m *Manager) push(ctx context.Context, job *Job) error {
	delayed := !job.NotBefore.IsZero() && job.NotBefore.After(time.Now())

	if m.redisClient.IsConnected() {
		if delayed {
			if err := m.redisClient.HSet(bodiesKey(job.Queue), job.ID, job); err != nil {
				return fmt.Errorf("store job body: %w", err)
			}
			score := float64(job.NotBefore.UnixMilli())
			if err := m.redisClient.ZAdd(ctx, delayedKey(job.Queue), score, job.ID); err != nil {
				return fmt.Errorf("schedule job: %w", err)
			}
			return nil
		}

		raw, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		if err := m.redisClient.RPush(ctx, readyKey(job.Queue), raw); err != nil {
			return fmt.Errorf("rpush: %w", err)
		}
		return nil
	}

	// In-memory fallback.
	if delayed {
		m.scheduleMemory(job)
		return nil
	}
	select {
	case m.memReady[job.Queue] <- job:
		return nil
	default:
		return fmt.Errorf("queue %q full", job.Queue)
	}
}

func (m *Manager) scheduleMemory(job *Job) {
	m.memMu.Lock()
	defer m.memMu.Unlock()

	if t, ok := m.memTimers[job.ID]; ok {
		t.Stop()
	}
	delay := time.Until(job.NotBefore)
	m.memTimers[job.ID] = time.AfterFunc(delay, func() {
		m.memMu.Lock()
		delete(m.memTimers, job.ID)
		m.memMu.Unlock()

		select {
		case m.memReady[job.Queue] <- job:
		default:
			logrus.WithField("job_id", job.ID).Error("Dropping due job, queue full")
		}
	})
}

// Cancel removes a scheduled job by ID before it fires. Cancelling an
// unknown or already-fired ID is a no-op.
func (m *Manager) Cancel(ctx context.Context, queueName, id string) error {
	if m.redisClient.IsConnected() {
		// The job may already have been promoted onto the ready list;
		// its wire form is reproducible from the stored body.
		var job Job
		if err := m.redisClient.HGet(bodiesKey(queueName), id, &job); err == nil {
			if raw, err := json.Marshal(&job); err == nil {
				if err := m.redisClient.LRem(ctx, readyKey(queueName), 0, raw); err != nil {
					logrus.WithError(err).WithField("job_id", id).Warn("Failed to drop promoted job")
				}
			}
		}
		if err := m.redisClient.ZRem(ctx, delayedKey(queueName), id); err != nil {
			return fmt.Errorf("cancel job: %w", err)
		}
		if err := m.redisClient.HDel(bodiesKey(queueName), id); err != nil {
			logrus.WithError(err).WithField("job_id", id).Warn("Failed to drop cancelled job body")
		}
		return nil
	}

	m.memMu.Lock()
	defer m.memMu.Unlock()
	if t, ok := m.memTimers[id]; ok {
		t.Stop()
		delete(m.memTimers, id)
	}
	return nil
}

// Start launches the promoter and the per-queue worker pools.
func (m *Manager) Start(ctx context.Context) {
	if m.redisClient.IsConnected() {
		m.wg.Add(1)
		go m.promoteLoop(ctx)
	}

	for name, policy := range m.policies {
		for i := 0; i < policy.Concurrency; i++ {
			m.wg.Add(1)
			go m.workerLoop(ctx, name, policy)
		}
	}

	logrus.WithField("redis", m.redisClient.IsConnected()).Info("Job queue started")
}

// Stop shuts the queue down and waits for in-flight jobs.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()

	m.memMu.Lock()
	for id, t := range m.memTimers {
		t.Stop()
		delete(m.memTimers, id)
	}
	m.memMu.Unlock()
}

// promoteLoop moves due jobs from the delayed sets onto the ready
// lists.
func (m *Manager) promoteLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name := range m.policies {
				m.promoteDue(ctx, name)
			}
		}
	}
}

func (m *Manager) promoteDue(ctx context.Context, queueName string) {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	ids, err := m.redisClient.ZRangeByScore(ctx, delayedKey(queueName), "-inf", now)
	if err != nil {
		if err != redis.ErrNotConnected {
			logrus.WithError(err).WithField("queue", queueName).Warn("Failed to scan delayed jobs")
		}
		return
	}

	for _, id := range ids {
		var job Job
		if err := m.redisClient.HGet(bodiesKey(queueName), id, &job); err != nil {
			// Body gone, likely cancelled between scan and fetch.
			m.dropDelayed(ctx, queueName, id)
			continue
		}

		raw, err := json.Marshal(&job)
		if err != nil {
			logrus.WithError(err).WithField("job_id", id).Error("Failed to marshal promoted job")
			m.dropDelayed(ctx, queueName, id)
			continue
		}
		if err := m.redisClient.RPush(ctx, readyKey(queueName), raw); err != nil {
			logrus.WithError(err).WithField("job_id", id).Warn("Failed to promote job")
			continue
		}
		// The body outlives promotion so a late Cancel can still pull
		// the job off the ready list; the worker drops it on dequeue.
		if err := m.redisClient.ZRem(ctx, delayedKey(queueName), id); err != nil &&
			err != redis.ErrNotConnected {
			logrus.WithError(err).WithField("job_id", id).Warn("Failed to remove delayed entry")
		}
	}
}

func (m *Manager) dropDelayed(ctx context.Context, queueName, id string) {
	if err := m.redisClient.ZRem(ctx, delayedKey(queueName), id); err != nil &&
		err != redis.ErrNotConnected {
		logrus.WithError(err).WithField("job_id", id).Warn("Failed to remove delayed entry")
	}
	if err := m.redisClient.HDel(bodiesKey(queueName), id); err != nil &&
		err != redis.ErrNotConnected {
		logrus.WithError(err).WithField("job_id", id).Warn("Failed to remove job body")
	}
}

func (m *Manager) workerLoop(ctx context.Context, queueName string, policy Policy) {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		job := m.dequeue(ctx, queueName)
		if job == nil {
			continue
		}
		m.process(ctx, job, policy)
	}
}

func (m *Manager) dequeue(ctx context.Context, queueName string) *Job {
	if m.redisClient.IsConnected() {
		// Short timeout keeps the loop responsive to shutdown.
		result, err := m.redisClient.BLPop(ctx, time.Second, readyKey(queueName))
		if err != nil {
			if !redis.IsNil(err) && err != context.Canceled && err != redis.ErrNotConnected {
				logrus.WithError(err).WithField("queue", queueName).Warn("Dequeue failed")
				time.Sleep(time.Second)
			}
			return nil
		}
		if len(result) < 2 {
			return nil
		}
		var job Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			logrus.WithError(err).WithField("queue", queueName).Warn("Discarding malformed job")
			return nil
		}
		// Scheduled jobs leave a body behind for cancellation; it is
		// spent once the job is in hand.
		if err := m.redisClient.HDel(bodiesKey(queueName), job.ID); err != nil &&
			err != redis.ErrNotConnected {
			logrus.WithError(err).WithField("job_id", job.ID).Warn("Failed to drop job body")
		}
		return &job
	}

	select {
	case <-m.stopCh:
		return nil
	case <-ctx.Done():
		return nil
	case job := <-m.memReady[queueName]:
		return job
	case <-time.After(time.Second):
		return nil
	}
}

func (m *Manager) process(ctx context.Context, job *Job, policy Policy) {
	handler, ok := m.handler(job.Type)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"job_id": job.ID,
			"type":   string(job.Type),
		}).Error("No handler registered, dropping job")
		return
	}

	start := time.Now()
	err := handler(ctx, job)
	fields := logrus.Fields{
		"job_id":   job.ID,
		"type":     string(job.Type),
		"queue":    job.Queue,
		"attempt":  job.Attempt + 1,
		"duration": time.Since(start).Milliseconds(),
	}
	if err == nil {
		logrus.WithFields(fields).Debug("Job completed")
		return
	}

	logrus.WithFields(fields).WithError(err).Error("Job failed")
	m.retry(ctx, job, policy)
}

func (m *Manager) retry(ctx context.Context, job *Job, policy Policy) {
	job.Attempt++
	if job.Attempt >= policy.MaxAttempts {
		m.deadLetter(ctx, job)
		return
	}

	job.NotBefore = time.Now().Add(retryBackoff(policy.Backoff, job.Attempt))
	if err := m.push(ctx, job); err != nil {
		logrus.WithError(err).WithField("job_id", job.ID).Error("Failed to re-enqueue job")
		m.deadLetter(ctx, job)
	}
}

func (m *Manager) deadLetter(ctx context.Context, job *Job) {
	logrus.WithFields(logrus.Fields{
		"job_id":  job.ID,
		"type":    string(job.Type),
		"attempt": job.Attempt,
	}).Warn("Job moved to dead-letter queue")

	if !m.redisClient.IsConnected() {
		return
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return
	}
	if err := m.redisClient.RPush(ctx, DLQKey, raw); err != nil {
		logrus.WithError(err).WithField("job_id", job.ID).Error("DLQ push failed")
	}
}
