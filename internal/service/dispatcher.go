package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pagesmith/orchestrator/internal/client"
	"github.com/pagesmith/orchestrator/internal/metrics"
	"github.com/pagesmith/orchestrator/internal/model"
)

const dispatchSource = "orchestrator"

// Dispatcher writes a stage's input artifact and enqueues its task message.
// The artifact write always happens first so a worker never sees a dangling
// payload key. A crash between the two leaves only an orphaned artifact;
// redispatch overwrites it identically, so dispatch is idempotent up to blob
// overwrite.
type Dispatcher struct {
	blob     client.BlobStore
	queue    client.Queue
	urls     map[model.Stage]string
	keyStyle model.KeyStyle
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewDispatcher(blob client.BlobStore, queue client.Queue, urls map[model.Stage]string,
	keyStyle model.KeyStyle, m *metrics.Metrics, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		blob:     blob,
		queue:    queue,
		urls:     urls,
		keyStyle: keyStyle,
		metrics:  m,
		log:      log,
	}
}

// Dispatch stores input under the stage's payload key and sends the task
// message. Both I/O calls retry with bounded backoff; transient failures are
// otherwise surfaced to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, jobID string, stage model.Stage, input any) error {
	queueURL, ok := d.urls[stage]
	if !ok {
		return fmt.Errorf("unknown stage %q", stage)
	}

	payloadKey := model.InputKey(jobID, stage, d.keyStyle)

	err := withBackoff(ctx, func() error {
		_, err := d.blob.Put(ctx, payloadKey, input)
		return err
	})
	if err != nil {
		return fmt.Errorf("store stage input: %w", err)
	}

	msg := model.NewTaskMessage(jobID, stage, payloadKey, dispatchSource)
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal task message: %w", err)
	}

	err = withBackoff(ctx, func() error {
		return d.queue.Send(ctx, queueURL, body)
	})
	if err != nil {
		return fmt.Errorf("enqueue stage task: %w", err)
	}

	d.metrics.StageDispatched.WithLabelValues(string(stage)).Inc()
	d.log.Info("stage dispatched",
		zap.String("job_id", jobID),
		zap.String("stage", string(stage)),
		zap.String("payload_key", payloadKey))
	return nil
}

const (
	backoffAttempts = 3
	backoffBase     = 200 * time.Millisecond
)

func withBackoff(ctx context.Context, fn func() error) error {
	var err error
	delay := backoffBase
	for attempt := 0; attempt < backoffAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == backoffAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
