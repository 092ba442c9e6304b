package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/proctoring"
	"github.com/aura-classroom/backend/pkg/queue"
)

type stubChecker struct {
	check *proctoring.FrameCheck
	err   error
	calls int
}

func (s *stubChecker) ProcessFrameJob(context.Context, queue.FrameCheckPayload) (*proctoring.FrameCheck, error) {
	s.calls++
	return s.check, s.err
}

type stubCleaner struct {
	mu      sync.Mutex
	deleted []string
}

func (s *stubCleaner) DeleteFrame(_ context.Context, key string) error {
	s.mu.Lock()
	s.deleted = append(s.deleted, key)
	s.mu.Unlock()
	return nil
}

type chanSource struct {
	jobs    chan *queue.Job
	mu      sync.Mutex
	retried []*queue.Job
}

func (c *chanSource) Dequeue(ctx context.Context) (*queue.Job, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case j := <-c.jobs:
		return j, queue.QueueFrameChecks, nil
	}
}

func (c *chanSource) Retry(_ context.Context, job *queue.Job) error {
	c.mu.Lock()
	c.retried = append(c.retried, job)
	c.mu.Unlock()
	return nil
}

func (c *chanSource) retries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.retried)
}

func frameJob(t *testing.T, key string) *queue.Job {
	t.Helper()
	body, err := json.Marshal(queue.FrameCheckPayload{SessionID: uuid.New(), ObjectKey: key})
	require.NoError(t, err)
	return &queue.Job{ID: uuid.NewString(), Type: queue.JobTypeFrameCheck, Payload: body}
}

func TestProcess_GenuineFrameIsDeleted(t *testing.T) {
	checker := &stubChecker{check: &proctoring.FrameCheck{IsDeepfake: false}}
	cleaner := &stubCleaner{}
	p := NewFrameCheckProcessor(checker, cleaner, &chanSource{}, zaptest.NewLogger(t))

	retry, err := p.Process(context.Background(), frameJob(t, "frames/a.jpg"))
	require.NoError(t, err)
	assert.False(t, retry)
	assert.Equal(t, []string{"frames/a.jpg"}, cleaner.deleted)
}

func TestProcess_FlaggedFrameIsKept(t *testing.T) {
	checker := &stubChecker{check: &proctoring.FrameCheck{IsDeepfake: true, Alert: &models.Alert{ID: uuid.New()}}}
	cleaner := &stubCleaner{}
	p := NewFrameCheckProcessor(checker, cleaner, &chanSource{}, zaptest.NewLogger(t))

	_, err := p.Process(context.Background(), frameJob(t, "frames/b.jpg"))
	require.NoError(t, err)
	assert.Empty(t, cleaner.deleted)
}

func TestProcess_RetryOnlyUpstreamFailures(t *testing.T) {
	ctx := context.Background()
	p := NewFrameCheckProcessor(&stubChecker{err: apperr.Upstream("detector unavailable", nil)}, &stubCleaner{}, &chanSource{}, zaptest.NewLogger(t))
	retry, err := p.Process(ctx, frameJob(t, "k"))
	assert.Error(t, err)
	assert.True(t, retry)

	p = NewFrameCheckProcessor(&stubChecker{err: apperr.InvalidState("", "session is closed")}, &stubCleaner{}, &chanSource{}, zaptest.NewLogger(t))
	retry, err = p.Process(ctx, frameJob(t, "k"))
	assert.Error(t, err)
	assert.False(t, retry)

	retry, err = p.Process(ctx, &queue.Job{ID: "x", Type: "recording_upload"})
	assert.Error(t, err)
	assert.False(t, retry)
}

func TestRun_RetriesFailedJobsUntilCancelled(t *testing.T) {
	src := &chanSource{jobs: make(chan *queue.Job, 2)}
	p := NewFrameCheckProcessor(&stubChecker{err: apperr.Upstream("down", nil)}, &stubCleaner{}, src, zaptest.NewLogger(t))
	p.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	src.jobs <- frameJob(t, "k1")
	src.jobs <- frameJob(t, "k2")
	assert.Eventually(t, func() bool { return src.retries() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
