package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pagesmith/orchestrator/internal/client"
	"github.com/pagesmith/orchestrator/internal/metrics"
	"github.com/pagesmith/orchestrator/internal/model"
)

// StatusNotifier receives job snapshots on every state transition. The
// websocket hub implements it; a nil notifier disables pushes.
type StatusNotifier interface {
	NotifyJob(job model.Job)
}

// Pipeline is the state machine that drives jobs through the stage order.
// Admission triggers the first stage; each completion event advances to the
// next; the last completion emits the job-done announcement.
type Pipeline struct {
	index      *JobIndex
	dispatcher *Dispatcher
	blob       client.BlobStore
	queue      client.Queue
	eventsURL  string
	keyStyle   model.KeyStyle
	notifier   StatusNotifier
	metrics    *metrics.Metrics
	log        *zap.Logger
}

func NewPipeline(index *JobIndex, dispatcher *Dispatcher, blob client.BlobStore,
	queue client.Queue, eventsURL string, keyStyle model.KeyStyle,
	notifier StatusNotifier, m *metrics.Metrics, log *zap.Logger) *Pipeline {
	return &Pipeline{
		index:      index,
		dispatcher: dispatcher,
		blob:       blob,
		queue:      queue,
		eventsURL:  eventsURL,
		keyStyle:   keyStyle,
		notifier:   notifier,
		metrics:    m,
		log:        log,
	}
}

// Admit creates the job record and dispatches the research stage. Both the
// HTTP handler and the submissions consumer funnel through here, so duplicate
// detection, id bookkeeping, and the first dispatch live in one place.
func (p *Pipeline) Admit(ctx context.Context, jobID string, brief model.Brief) error {
	if _, err := p.index.Create(jobID, brief); err != nil {
		return err
	}
	if err := p.index.Start(jobID); err != nil {
		return err
	}

	input := BuildResearchInput(jobID, brief)
	if err := p.dispatcher.Dispatch(ctx, jobID, model.StageResearch, input); err != nil {
		// The record stays, marked failed, so the status API tells the truth.
		_ = p.index.Fail(jobID, fmt.Sprintf("research dispatch failed: %v", err))
		p.notifyJob(jobID)
		return err
	}
	p.index.MarkDispatched(jobID, model.StageResearch)

	p.metrics.JobsAdmitted.Inc()
	p.updateStatusGauge()
	p.notifyJob(jobID)
	p.log.Info("job admitted", zap.String("job_id", jobID))
	return nil
}

// OnStageComplete applies a successful stage completion and dispatches the
// next stage, or announces completion after the final one. Duplicate and
// out-of-order events are absorbed by the index and advance nothing — unless
// a previous delivery crashed between the state change and the send, in
// which case the pending dispatch (or announcement) is replayed. That keeps
// redelivery able to heal partial failures while clean duplicates stay
// side-effect free.
func (p *Pipeline) OnStageComplete(ctx context.Context, jobID string, stage model.Stage) error {
	tr, err := p.index.MarkStageComplete(jobID, stage, "")
	if err != nil {
		return err
	}
	if tr.Advanced {
		p.metrics.StageCompleted.WithLabelValues(string(stage)).Inc()
		p.updateStatusGauge()
		p.notifyJob(jobID)
	} else {
		p.log.Debug("completion absorbed",
			zap.String("job_id", jobID),
			zap.String("stage", string(stage)),
			zap.String("status", string(tr.Status)))
	}

	if tr.Status == model.JobStatusCompleted {
		if !p.index.NeedsAnnounce(jobID) {
			return nil
		}
		if err := p.announceCompleted(ctx, jobID); err != nil {
			return err
		}
		p.index.MarkAnnounced(jobID)
		p.metrics.JobsCompleted.Inc()
		return nil
	}
	if tr.Status == model.JobStatusFailed {
		return nil
	}

	next, pending := p.index.PendingDispatch(jobID)
	if !pending {
		return nil
	}

	prev := model.StageOrder[stageIndex(next)-1]
	upstream, err := p.fetchResult(ctx, jobID, prev)
	if err != nil {
		return fmt.Errorf("fetch %s result: %w", prev, err)
	}

	input := BuildStageInput(jobID, next, upstream)
	if err := p.dispatcher.Dispatch(ctx, jobID, next, input); err != nil {
		return err
	}
	p.index.MarkDispatched(jobID, next)
	return nil
}

func stageIndex(stage model.Stage) int {
	for i, s := range model.StageOrder {
		if s == stage {
			return i
		}
	}
	return -1
}

// OnStageFailed terminates the job with the worker-reported error.
func (p *Pipeline) OnStageFailed(ctx context.Context, jobID string, stage model.Stage, errMsg string) error {
	if errMsg == "" {
		errMsg = fmt.Sprintf("stage %s failed", stage)
	}
	tr, err := p.index.MarkStageComplete(jobID, stage, errMsg)
	if err != nil {
		return err
	}
	if tr.Failed {
		p.metrics.JobsFailed.Inc()
		p.updateStatusGauge()
		p.notifyJob(jobID)
		p.log.Warn("job failed",
			zap.String("job_id", jobID),
			zap.String("stage", string(stage)),
			zap.String("error", errMsg))
	}
	return nil
}

// fetchResult loads the upstream stage's output, probing the legacy key form
// when the canonical one is absent.
func (p *Pipeline) fetchResult(ctx context.Context, jobID string, stage model.Stage) (json.RawMessage, error) {
	var lastErr error
	for _, key := range model.ResultKeyCandidates(jobID, stage, p.keyStyle) {
		var out json.RawMessage
		err := p.blob.Get(ctx, key, &out)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !errors.Is(err, client.ErrNotFound) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (p *Pipeline) announceCompleted(ctx context.Context, jobID string) error {
	ann := model.JobCompletedAnnouncement{
		JobID:     jobID,
		EventType: model.EventTypeJobCompleted,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(ann)
	if err != nil {
		return err
	}
	if err := p.queue.Send(ctx, p.eventsURL, body); err != nil {
		return err
	}
	p.log.Info("job completed", zap.String("job_id", jobID))
	return nil
}

func (p *Pipeline) notifyJob(jobID string) {
	if p.notifier == nil {
		return
	}
	if job, ok := p.index.Lookup(jobID); ok {
		p.notifier.NotifyJob(job)
	}
}

func (p *Pipeline) updateStatusGauge() {
	s := p.index.Stats()
	p.metrics.JobsByStatus.WithLabelValues(string(model.JobStatusQueued)).Set(float64(s.Queued))
	p.metrics.JobsByStatus.WithLabelValues(string(model.JobStatusInProgress)).Set(float64(s.InProgress))
	p.metrics.JobsByStatus.WithLabelValues(string(model.JobStatusCompleted)).Set(float64(s.Completed))
	p.metrics.JobsByStatus.WithLabelValues(string(model.JobStatusFailed)).Set(float64(s.Failed))
}
