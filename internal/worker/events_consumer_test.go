package worker

import (
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	"github.com/pagesmith/orchestrator/internal/client"
	"github.com/pagesmith/orchestrator/internal/metrics"
	"github.com/pagesmith/orchestrator/internal/model"
	"github.com/pagesmith/orchestrator/internal/service"
)

const (
	testEventsURL = "queue://events"
)

func testStageURLs() map[model.Stage]string {
	urls := make(map[model.Stage]string, len(model.StageOrder))
	for _, s := range model.StageOrder {
		urls[s] = "queue://" + string(s)
	}
	return urls
}

type consumerEnv struct {
	blob     *client.MemoryBlobStore
	queue    *client.MemoryQueue
	index    *service.JobIndex
	pipeline *service.Pipeline
	consumer *EventsConsumer
}

func newConsumerEnv(t *testing.T) *consumerEnv {
	t.Helper()
	blob := client.NewMemoryBlobStore()
	queue := client.NewMemoryQueue()
	index := service.NewJobIndex()
	m := metrics.New()
	log := zap.NewNop()
	dispatcher := service.NewDispatcher(blob, queue, testStageURLs(), model.KeyStyleUnderscore, m, log)
	pipeline := service.NewPipeline(index, dispatcher, blob, queue, testEventsURL,
		model.KeyStyleUnderscore, nil, m, log)
	consumer := NewEventsConsumer(queue, testEventsURL, pipeline, m, log)
	return &consumerEnv{blob: blob, queue: queue, index: index, pipeline: pipeline, consumer: consumer}
}

// deliver puts body on the events queue, receives it, and runs the handler.
func (e *consumerEnv) deliver(t *testing.T, body string) {
	t.Helper()
	ctx := context.Background()
	if err := e.queue.Send(ctx, testEventsURL, []byte(body)); err != nil {
		t.Fatal(err)
	}
	msgs, err := e.queue.Receive(ctx, testEventsURL, 10, 0)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("receive: %v (%d msgs)", err, len(msgs))
	}
	e.consumer.handle(ctx, msgs[0])
}

func (e *consumerEnv) admit(t *testing.T, jobID string) {
	t.Helper()
	brief := model.Brief{Product: "Acme Widget", Audience: "Developers"}
	if err := e.pipeline.Admit(context.Background(), jobID, brief); err != nil {
		t.Fatal(err)
	}
}

func (e *consumerEnv) putResult(t *testing.T, jobID string, stage model.Stage) {
	t.Helper()
	key := model.ResultKey(jobID, stage, model.KeyStyleUnderscore)
	if _, err := e.blob.Put(context.Background(), key, map[string]string{"ok": "yes"}); err != nil {
		t.Fatal(err)
	}
}

func TestPoisonMessageIsDeleted(t *testing.T) {
	e := newConsumerEnv(t)
	e.deliver(t, `{not json at all`)

	if e.queue.InflightLen() != 0 {
		t.Error("poison message not acknowledged")
	}
}

func TestInProgressEventIsInformational(t *testing.T) {
	e := newConsumerEnv(t)
	e.admit(t, "j1")

	e.deliver(t, `{"job_id":"j1","task_type":"research","status":"in_progress"}`)

	job, _ := e.index.Lookup("j1")
	if len(job.CompletedStages) != 0 {
		t.Errorf("in_progress changed state: %v", job.CompletedStages)
	}
	if e.queue.InflightLen() != 0 {
		t.Error("in_progress message not acknowledged")
	}
}

func TestSuccessEventAdvancesAndDeletes(t *testing.T) {
	e := newConsumerEnv(t)
	e.admit(t, "j1")
	e.putResult(t, "j1", model.StageResearch)

	e.deliver(t, `{"job_id":"j1","task_type":"research","status":"success"}`)

	job, _ := e.index.Lookup("j1")
	if len(job.CompletedStages) != 1 || job.CompletedStages[0] != model.StageResearch {
		t.Fatalf("completed_stages = %v", job.CompletedStages)
	}
	if n := e.queue.Len("queue://product_manager"); n != 1 {
		t.Errorf("product_manager queue has %d messages", n)
	}
	if e.queue.InflightLen() != 0 {
		t.Error("handled message not acknowledged")
	}
}

func TestLegacyTaskKeyAccepted(t *testing.T) {
	e := newConsumerEnv(t)
	e.admit(t, "j1")
	e.putResult(t, "j1", model.StageResearch)

	e.deliver(t, `{"job_id":"j1","task":"research","status":"success"}`)

	job, _ := e.index.Lookup("j1")
	if len(job.CompletedStages) != 1 {
		t.Fatalf("legacy task key not applied: %v", job.CompletedStages)
	}
}

func TestUnknownJobEventIsDiscarded(t *testing.T) {
	e := newConsumerEnv(t)
	statsBefore := e.index.Stats()

	e.deliver(t, `{"job_id":"ghost","task_type":"research","status":"success"}`)

	if e.queue.InflightLen() != 0 {
		t.Error("unknown-job message not acknowledged")
	}
	if e.index.Stats() != statsBefore {
		t.Error("unknown-job event changed index stats")
	}
}

func TestFailureEventTerminatesJob(t *testing.T) {
	e := newConsumerEnv(t)
	e.admit(t, "j5")
	e.putResult(t, "j5", model.StageResearch)
	e.deliver(t, `{"job_id":"j5","task_type":"research","status":"success"}`)

	e.deliver(t, `{"job_id":"j5","task_type":"product_manager","status":"error","error":"timeout"}`)

	job, _ := e.index.Lookup("j5")
	if job.Status != model.JobStatusFailed || job.Error == nil || *job.Error != "timeout" {
		t.Fatalf("job = %+v", job)
	}
	if e.queue.InflightLen() != 0 {
		t.Error("failure message not acknowledged")
	}

	// Later events leave the failed job untouched.
	e.putResult(t, "j5", model.StageProductManager)
	e.deliver(t, `{"job_id":"j5","task_type":"product_manager","status":"success"}`)
	after, _ := e.index.Lookup("j5")
	if after.Status != model.JobStatusFailed {
		t.Fatalf("failed job mutated: %+v", after)
	}
}

func TestHandlingErrorLeavesMessageInFlight(t *testing.T) {
	e := newConsumerEnv(t)
	e.admit(t, "j1")
	// No research result stored: the advance fails, so the message must not
	// be acknowledged.
	e.deliver(t, `{"job_id":"j1","task_type":"research","status":"success"}`)

	if e.queue.InflightLen() != 1 {
		t.Fatal("message acknowledged despite handling error")
	}

	// After the result shows up, redelivery completes the advance.
	e.putResult(t, "j1", model.StageResearch)
	e.queue.Redeliver()
	ctx := context.Background()
	msgs, _ := e.queue.Receive(ctx, testEventsURL, 10, 0)
	if len(msgs) != 1 {
		t.Fatalf("redelivery returned %d messages", len(msgs))
	}
	e.consumer.handle(ctx, msgs[0])

	if n := e.queue.Len("queue://product_manager"); n != 1 {
		t.Fatalf("product_manager queue has %d messages", n)
	}
	if e.queue.InflightLen() != 0 {
		t.Error("redelivered message not acknowledged")
	}
}

func TestAnnouncementIsSkipped(t *testing.T) {
	e := newConsumerEnv(t)
	body, _ := json.Marshal(model.JobCompletedAnnouncement{
		JobID:     "j1",
		EventType: model.EventTypeJobCompleted,
	})
	e.deliver(t, string(body))

	if e.queue.InflightLen() != 0 {
		t.Error("announcement not acknowledged")
	}
}

func TestUnknownStageEventIsDiscarded(t *testing.T) {
	e := newConsumerEnv(t)
	e.admit(t, "j1")

	e.deliver(t, `{"job_id":"j1","task_type":"mystery","status":"success"}`)

	if e.queue.InflightLen() != 0 {
		t.Error("unknown-stage message not acknowledged")
	}
	job, _ := e.index.Lookup("j1")
	if len(job.CompletedStages) != 0 {
		t.Errorf("unknown stage changed state: %v", job.CompletedStages)
	}
}
