package worker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagesmith/orchestrator/internal/client"
	"github.com/pagesmith/orchestrator/internal/model"
	"github.com/pagesmith/orchestrator/internal/service"
)

// SubmissionConsumer admits jobs arriving on the submissions queue. The
// message either references a brief stored in the blob store or carries it
// inline; both funnel into the same Pipeline.Admit the HTTP path uses.
//
// Malformed submissions are left undeleted so the queue's DLQ policy owns
// them. Duplicate admissions delete the message: the job is already in, the
// redelivery is just at-least-once doing its thing.
type SubmissionConsumer struct {
	queue    client.Queue
	queueURL string
	blob     client.BlobStore
	pipeline *service.Pipeline
	validate *validator.Validate
	log      *zap.Logger
}

func NewSubmissionConsumer(queue client.Queue, queueURL string, blob client.BlobStore,
	pipeline *service.Pipeline, validate *validator.Validate, log *zap.Logger) *SubmissionConsumer {
	return &SubmissionConsumer{
		queue:    queue,
		queueURL: queueURL,
		blob:     blob,
		pipeline: pipeline,
		validate: validate,
		log:      log,
	}
}

func (c *SubmissionConsumer) Run(ctx context.Context) {
	c.log.Info("submission consumer started", zap.String("queue", c.queueURL))
	for {
		if ctx.Err() != nil {
			c.log.Info("submission consumer stopped")
			return
		}

		msgs, err := c.queue.Receive(ctx, c.queueURL, receiveBatch, receiveWaitSecs)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.log.Error("submissions receive failed", zap.Error(err))
			sleepCtx(ctx, receiveErrDelay)
			continue
		}

		for _, msg := range msgs {
			c.handle(ctx, msg)
		}
	}
}

func (c *SubmissionConsumer) handle(ctx context.Context, msg client.Message) {
	var sub model.SubmissionMessage
	if err := json.Unmarshal(msg.Body, &sub); err != nil {
		c.log.Warn("malformed submission left for DLQ", zap.Error(err))
		return
	}

	brief := sub.InlineBrief()
	if sub.PayloadKey != "" {
		if err := c.blob.Get(ctx, sub.PayloadKey, &brief); err != nil {
			if errors.Is(err, client.ErrNotFound) || errors.Is(err, client.ErrCorruptArtifact) {
				c.log.Warn("submission payload unusable, left for DLQ",
					zap.String("payload_key", sub.PayloadKey), zap.Error(err))
				return
			}
			// Transient storage error: retry via redelivery.
			c.log.Error("submission payload fetch failed", zap.Error(err))
			return
		}
	}

	if err := c.validate.Struct(&brief); err != nil {
		c.log.Warn("invalid submission brief left for DLQ",
			zap.String("job_id", sub.JobID), zap.Error(err))
		return
	}

	jobID := sub.JobID
	if jobID == "" {
		jobID = uuid.New().String()
	}

	err := c.pipeline.Admit(ctx, jobID, brief)
	switch {
	case err == nil:
		c.delete(ctx, msg)
	case errors.Is(err, service.ErrDuplicateJob):
		c.log.Info("submission already admitted", zap.String("job_id", jobID))
		c.delete(ctx, msg)
	default:
		// Admission-time I/O failure; leave the message for redelivery.
		c.log.Error("admission failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (c *SubmissionConsumer) delete(ctx context.Context, msg client.Message) {
	if err := c.queue.Delete(ctx, c.queueURL, msg.ReceiptHandle); err != nil {
		c.log.Warn("submission delete failed", zap.Error(err))
	}
}
