package worker

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pagesmith/orchestrator/internal/metrics"
	"github.com/pagesmith/orchestrator/internal/model"
	"github.com/pagesmith/orchestrator/internal/service"
)

func TestReaperTick(t *testing.T) {
	index := service.NewJobIndex()
	brief := model.Brief{Product: "Acme Widget", Audience: "Developers"}

	index.Create("running", brief)
	index.Start("running")

	index.Create("done", brief)
	index.Start("done")
	index.MarkStageComplete("done", model.StageResearch, "boom")

	r := NewReaper(index, time.Hour, 24*time.Hour, 0, metrics.New(), zap.NewNop())
	r.tick()

	// The failure is fresh, the running job non-terminal: neither goes away.
	if s := index.Stats(); s.Total != 2 {
		t.Fatalf("stats = %+v", s)
	}

	// With a zero TTL every terminal job is past retention.
	r.ttl = 0
	r.tick()
	if _, ok := index.Lookup("done"); ok {
		t.Error("terminal job survived reap")
	}
	if _, ok := index.Lookup("running"); !ok {
		t.Error("in-progress job was reaped")
	}
}

func TestReaperStageTimeout(t *testing.T) {
	index := service.NewJobIndex()
	brief := model.Brief{Product: "Acme Widget", Audience: "Developers"}
	index.Create("stuck", brief)
	index.Start("stuck")

	r := NewReaper(index, time.Hour, 24*time.Hour, time.Nanosecond, metrics.New(), zap.NewNop())
	time.Sleep(2 * time.Nanosecond)
	r.tick()

	job, _ := index.Lookup("stuck")
	if job.Status != model.JobStatusFailed {
		t.Fatalf("stuck job = %+v", job)
	}
}

func TestReaperStopsOnCancel(t *testing.T) {
	index := service.NewJobIndex()
	r := NewReaper(index, time.Millisecond, time.Hour, 0, metrics.New(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop on cancel")
	}
}
