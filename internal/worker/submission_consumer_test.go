package worker

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/pagesmith/orchestrator/internal/client"
	"github.com/pagesmith/orchestrator/internal/metrics"
	"github.com/pagesmith/orchestrator/internal/model"
	"github.com/pagesmith/orchestrator/internal/service"
)

const testSubmissionsURL = "queue://submissions"

type submissionEnv struct {
	blob     *client.MemoryBlobStore
	queue    *client.MemoryQueue
	index    *service.JobIndex
	consumer *SubmissionConsumer
}

func newSubmissionEnv(t *testing.T) *submissionEnv {
	t.Helper()
	blob := client.NewMemoryBlobStore()
	queue := client.NewMemoryQueue()
	index := service.NewJobIndex()
	m := metrics.New()
	log := zap.NewNop()
	dispatcher := service.NewDispatcher(blob, queue, testStageURLs(), model.KeyStyleUnderscore, m, log)
	pipeline := service.NewPipeline(index, dispatcher, blob, queue, testEventsURL,
		model.KeyStyleUnderscore, nil, m, log)
	consumer := NewSubmissionConsumer(queue, testSubmissionsURL, blob, pipeline,
		validator.New(), log)
	return &submissionEnv{blob: blob, queue: queue, index: index, consumer: consumer}
}

func (e *submissionEnv) deliver(t *testing.T, body string) {
	t.Helper()
	ctx := context.Background()
	if err := e.queue.Send(ctx, testSubmissionsURL, []byte(body)); err != nil {
		t.Fatal(err)
	}
	msgs, err := e.queue.Receive(ctx, testSubmissionsURL, 10, 0)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("receive: %v (%d msgs)", err, len(msgs))
	}
	e.consumer.handle(ctx, msgs[0])
}

func TestInlineBriefIsAdmitted(t *testing.T) {
	e := newSubmissionEnv(t)

	e.deliver(t, `{"job_id":"j1","product":"Acme Widget","audience":"Developers","tone":"technical"}`)

	job, ok := e.index.Lookup("j1")
	if !ok || job.Status != model.JobStatusInProgress {
		t.Fatalf("job = %+v (found %v)", job, ok)
	}
	if job.Brief.Product != "Acme Widget" || job.Brief.Tone != "technical" {
		t.Fatalf("brief = %+v", job.Brief)
	}
	if n := e.queue.Len("queue://research"); n != 1 {
		t.Errorf("research queue has %d messages", n)
	}
	if e.queue.InflightLen() != 0 {
		t.Error("admitted submission not acknowledged")
	}
}

func TestStoredBriefIsAdmitted(t *testing.T) {
	e := newSubmissionEnv(t)
	ctx := context.Background()

	brief := model.Brief{Product: "Acme Widget", Audience: "Developers"}
	if _, err := e.blob.Put(ctx, "j2/brief.json", brief); err != nil {
		t.Fatal(err)
	}

	e.deliver(t, `{"job_id":"j2","task_type":"start_job","payload_key":"j2/brief.json"}`)

	job, ok := e.index.Lookup("j2")
	if !ok || job.Brief.Product != "Acme Widget" {
		t.Fatalf("job = %+v (found %v)", job, ok)
	}
	if e.queue.InflightLen() != 0 {
		t.Error("admitted submission not acknowledged")
	}
}

func TestSubmissionWithoutJobIDMintsOne(t *testing.T) {
	e := newSubmissionEnv(t)

	e.deliver(t, `{"product":"Acme Widget","audience":"Developers"}`)

	jobs := e.index.List()
	if len(jobs) != 1 || jobs[0].ID == "" {
		t.Fatalf("jobs = %+v", jobs)
	}
}

func TestMalformedSubmissionLeftForDLQ(t *testing.T) {
	e := newSubmissionEnv(t)

	e.deliver(t, `{garbage`)

	if e.queue.InflightLen() != 1 {
		t.Error("malformed submission was acknowledged")
	}
	if s := e.index.Stats(); s.Total != 0 {
		t.Errorf("malformed submission admitted a job: %+v", s)
	}
}

func TestInvalidBriefLeftForDLQ(t *testing.T) {
	e := newSubmissionEnv(t)

	// Missing audience.
	e.deliver(t, `{"job_id":"j1","product":"Acme Widget"}`)

	if e.queue.InflightLen() != 1 {
		t.Error("invalid brief was acknowledged")
	}
	if _, ok := e.index.Lookup("j1"); ok {
		t.Error("invalid brief admitted a job")
	}
}

func TestMissingPayloadLeftForDLQ(t *testing.T) {
	e := newSubmissionEnv(t)

	e.deliver(t, `{"job_id":"j3","task_type":"start_job","payload_key":"j3/missing.json"}`)

	if e.queue.InflightLen() != 1 {
		t.Error("unusable payload was acknowledged")
	}
}

func TestDuplicateSubmissionIsAcknowledged(t *testing.T) {
	e := newSubmissionEnv(t)

	e.deliver(t, `{"job_id":"j1","product":"Acme Widget","audience":"Developers"}`)
	// Redelivery of the same submission after the job is already in.
	e.deliver(t, `{"job_id":"j1","product":"Acme Widget","audience":"Developers"}`)

	if e.queue.InflightLen() != 0 {
		t.Error("duplicate submission not acknowledged")
	}
	if s := e.index.Stats(); s.Total != 1 {
		t.Errorf("duplicate submission admitted twice: %+v", s)
	}
	if n := e.queue.Len("queue://research"); n != 1 {
		t.Errorf("research queue has %d messages", n)
	}
}
