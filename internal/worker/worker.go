package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/proctoring"
	"github.com/aura-classroom/backend/pkg/queue"
)

// JobSource is the queue the worker drains.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// FrameChecker runs a queued frame check.
type FrameChecker interface {
	ProcessFrameJob(ctx context.Context, p queue.FrameCheckPayload) (*proctoring.FrameCheck, error)
}

// FrameCleaner removes frames that need no evidence retention.
type FrameCleaner interface {
	DeleteFrame(ctx context.Context, key string) error
}

// FrameCheckProcessor processes frame check jobs: load the frame, ask the detector, raise an alert on a positive verdict.
type FrameCheckProcessor struct {
	checker FrameChecker
	frames  FrameCleaner
	queue   JobSource
	backoff time.Duration
	logger  *zap.Logger
}

// NewFrameCheckProcessor creates a frame check processor.
func NewFrameCheckProcessor(checker FrameChecker, frames FrameCleaner, q JobSource, logger *zap.Logger) *FrameCheckProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FrameCheckProcessor{checker: checker, frames: frames, queue: q, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one frame check job. Only detector or storage outages are worth retrying;
// other failures are logged and the job is dropped.
func (p *FrameCheckProcessor) Process(ctx context.Context, job *queue.Job) (retry bool, err error) {
	if job.Type != queue.JobTypeFrameCheck {
		return false, fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.FrameCheckPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return false, fmt.Errorf("unmarshal payload: %w", err)
	}

	check, err := p.checker.ProcessFrameJob(ctx, payload)
	if err != nil {
		return apperr.KindOf(err) == apperr.KindUpstreamUnavailable, err
	}

	if check.Alert == nil {
		if err := p.frames.DeleteFrame(ctx, payload.ObjectKey); err != nil {
			p.logger.Warn("delete checked frame", zap.String("key", payload.ObjectKey), zap.Error(err))
		}
		return false, nil
	}
	p.logger.Info("frame flagged",
		zap.String("session_id", payload.SessionID.String()),
		zap.String("alert_id", check.Alert.ID.String()),
		zap.String("s3_key", payload.ObjectKey))
	return false, nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *FrameCheckProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("frame check worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		retry, err := p.Process(ctx, job)
		if err == nil {
			continue
		}
		if !retry {
			p.logger.Warn("job dropped", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
		if reErr := p.queue.Retry(ctx, job); reErr != nil {
			p.logger.Error("retry enqueue failed", zap.Error(reErr))
		}
		p.sleep(ctx)
	}
}

func (p *FrameCheckProcessor) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.backoff):
	}
}
