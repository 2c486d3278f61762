package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/pagesmith/orchestrator/internal/client"
	"github.com/pagesmith/orchestrator/internal/metrics"
	"github.com/pagesmith/orchestrator/internal/model"
	"github.com/pagesmith/orchestrator/internal/service"
)

const (
	receiveBatch    = 10
	receiveWaitSecs = 20
	receiveErrDelay = 5 * time.Second
)

// EventsConsumer long-polls the events queue and applies worker completions
// to the pipeline. A message is deleted only once it has been handled; a
// handling error leaves it in place so redelivery retries it.
type EventsConsumer struct {
	queue    client.Queue
	queueURL string
	pipeline *service.Pipeline
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewEventsConsumer(queue client.Queue, queueURL string, pipeline *service.Pipeline,
	m *metrics.Metrics, log *zap.Logger) *EventsConsumer {
	return &EventsConsumer{
		queue:    queue,
		queueURL: queueURL,
		pipeline: pipeline,
		metrics:  m,
		log:      log,
	}
}

// Run polls until ctx is canceled. In-flight messages that were received but
// not yet deleted at shutdown are redelivered after restart.
func (c *EventsConsumer) Run(ctx context.Context) {
	c.log.Info("events consumer started", zap.String("queue", c.queueURL))
	for {
		if ctx.Err() != nil {
			c.log.Info("events consumer stopped")
			return
		}

		msgs, err := c.queue.Receive(ctx, c.queueURL, receiveBatch, receiveWaitSecs)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.log.Error("events receive failed", zap.Error(err))
			sleepCtx(ctx, receiveErrDelay)
			continue
		}

		for _, msg := range msgs {
			c.handle(ctx, msg)
		}
	}
}

func (c *EventsConsumer) handle(ctx context.Context, msg client.Message) {
	ev, err := model.ParseCompletionEvent(msg.Body)
	if err != nil {
		// Poison messages are dropped; forward progress wins.
		c.metrics.PoisonMessages.Inc()
		c.log.Warn("dropping unparseable event", zap.Error(err))
		c.delete(ctx, msg)
		return
	}

	// Our own job-done announcements share this queue; skip them.
	if ev.IsAnnouncement() {
		c.delete(ctx, msg)
		return
	}

	if !model.ValidStage(ev.TaskType) {
		c.metrics.PoisonMessages.Inc()
		c.log.Warn("dropping event with unknown stage",
			zap.String("job_id", ev.JobID),
			zap.String("task_type", string(ev.TaskType)))
		c.delete(ctx, msg)
		return
	}

	switch ev.Status {
	case model.EventStatusInProgress:
		// Informational only.
		c.delete(ctx, msg)

	case model.EventStatusSuccess:
		err := c.pipeline.OnStageComplete(ctx, ev.JobID, ev.TaskType)
		if errors.Is(err, service.ErrUnknownJob) {
			c.log.Warn("completion for unknown job",
				zap.String("job_id", ev.JobID),
				zap.String("stage", string(ev.TaskType)))
			c.delete(ctx, msg)
			return
		}
		if err != nil {
			// Leave the message; redelivery retries the advance.
			c.log.Error("stage completion failed",
				zap.String("job_id", ev.JobID),
				zap.String("stage", string(ev.TaskType)),
				zap.Error(err))
			return
		}
		c.metrics.EventsProcessed.Inc()
		c.delete(ctx, msg)

	case model.EventStatusFailure, model.EventStatusError:
		err := c.pipeline.OnStageFailed(ctx, ev.JobID, ev.TaskType, ev.Error)
		if err != nil && !errors.Is(err, service.ErrUnknownJob) {
			c.log.Error("stage failure handling failed",
				zap.String("job_id", ev.JobID), zap.Error(err))
			return
		}
		c.metrics.EventsProcessed.Inc()
		c.delete(ctx, msg)

	default:
		c.metrics.PoisonMessages.Inc()
		c.log.Warn("dropping event with unknown status",
			zap.String("job_id", ev.JobID),
			zap.String("status", ev.Status))
		c.delete(ctx, msg)
	}
}

func (c *EventsConsumer) delete(ctx context.Context, msg client.Message) {
	if err := c.queue.Delete(ctx, c.queueURL, msg.ReceiptHandle); err != nil {
		c.log.Warn("event delete failed", zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
