package service

import (
	"errors"
	"sync"
	"time"

	"github.com/pagesmith/orchestrator/internal/model"
)

var (
	// ErrDuplicateJob means the id is already admitted.
	ErrDuplicateJob = errors.New("job already exists")
	// ErrUnknownJob means the id was never admitted (or already reaped).
	ErrUnknownJob = errors.New("job not found")
)

// Transition is the outcome of applying a stage completion.
type Transition struct {
	// Advanced means the stage was newly appended and the pipeline should
	// dispatch the next stage.
	Advanced bool
	// Terminal means the job is now (or already was) completed or failed.
	Terminal bool
	// Failed means this call is what moved the job to failed.
	Failed bool
	// Status is the job's status after the transition.
	Status model.JobStatus
}

// JobIndex is the in-memory authority for job records. Every operation takes
// the one mutex, so decisions like "is this stage next" are made on a
// consistent snapshot. Callers get copies, never the live record.
type JobIndex struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
}

func NewJobIndex() *JobIndex {
	return &JobIndex{jobs: make(map[string]*model.Job)}
}

// Create inserts a queued job. Exactly one of two concurrent creates for the
// same id wins; the other gets ErrDuplicateJob.
func (ix *JobIndex) Create(id string, brief model.Brief) (model.Job, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.jobs[id]; ok {
		return model.Job{}, ErrDuplicateJob
	}

	now := time.Now().UTC()
	job := &model.Job{
		ID:              id,
		Brief:           brief,
		Status:          model.JobStatusQueued,
		CompletedStages: []model.Stage{},
		StartedAt:       now,
		UpdatedAt:       now,
	}
	ix.jobs[id] = job
	return *job, nil
}

// Start moves a queued job to in_progress. Already-running jobs are left
// alone.
func (ix *JobIndex) Start(id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	job, ok := ix.jobs[id]
	if !ok {
		return ErrUnknownJob
	}
	if job.Status == model.JobStatusQueued {
		job.Status = model.JobStatusInProgress
		job.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// MarkStageComplete applies one completion report atomically.
//
// A non-empty errMsg fails the job outright. A stage already recorded is a
// duplicate delivery and a no-op. A stage that is not the next expected one
// is out of order and ignored; completed_stages stays a prefix of the
// canonical order. Terminal jobs reject everything silently.
func (ix *JobIndex) MarkStageComplete(id string, stage model.Stage, errMsg string) (Transition, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	job, ok := ix.jobs[id]
	if !ok {
		return Transition{}, ErrUnknownJob
	}

	if job.Status.Terminal() {
		return Transition{Terminal: true, Status: job.Status}, nil
	}

	now := time.Now().UTC()

	if errMsg != "" {
		job.Status = model.JobStatusFailed
		job.Error = &errMsg
		job.CompletedAt = &now
		job.UpdatedAt = now
		return Transition{Terminal: true, Failed: true, Status: job.Status}, nil
	}

	for _, done := range job.CompletedStages {
		if done == stage {
			return Transition{Status: job.Status}, nil
		}
	}

	if next := model.StageOrder[len(job.CompletedStages)]; next != stage {
		// Out of order. Never reorder; drop it.
		return Transition{Status: job.Status}, nil
	}

	job.CompletedStages = append(job.CompletedStages, stage)
	job.UpdatedAt = now

	if len(job.CompletedStages) == model.StageCount {
		job.Status = model.JobStatusCompleted
		job.CompletedAt = &now
		return Transition{Advanced: true, Terminal: true, Status: job.Status}, nil
	}

	return Transition{Advanced: true, Status: job.Status}, nil
}

// Fail terminates a job with the given error. Terminal jobs are untouched.
func (ix *JobIndex) Fail(id string, errMsg string) error {
	_, err := ix.MarkStageComplete(id, "", orUnknown(errMsg))
	return err
}

func orUnknown(msg string) string {
	if msg == "" {
		return "unknown error"
	}
	return msg
}

// MarkDispatched records that stage's task message went out.
func (ix *JobIndex) MarkDispatched(id string, stage model.Stage) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if job, ok := ix.jobs[id]; ok {
		job.LastDispatched = stage
	}
}

// PendingDispatch returns the stage whose task message still needs to be
// sent, if any. For an in-progress job that is always the stage after the
// completed prefix; it is pending unless already recorded as dispatched.
func (ix *JobIndex) PendingDispatch(id string) (model.Stage, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	job, ok := ix.jobs[id]
	if !ok || job.Status != model.JobStatusInProgress {
		return "", false
	}
	next := model.StageOrder[len(job.CompletedStages)]
	if job.LastDispatched == next {
		return "", false
	}
	return next, true
}

// NeedsAnnounce reports whether the job finished but its job-done message has
// not gone out yet.
func (ix *JobIndex) NeedsAnnounce(id string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	job, ok := ix.jobs[id]
	return ok && job.Status == model.JobStatusCompleted && !job.Announced
}

// MarkAnnounced records that the job-done message went out.
func (ix *JobIndex) MarkAnnounced(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if job, ok := ix.jobs[id]; ok {
		job.Announced = true
	}
}

// Lookup returns a copy of the job record.
func (ix *JobIndex) Lookup(id string) (model.Job, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	job, ok := ix.jobs[id]
	if !ok {
		return model.Job{}, false
	}
	return copyJob(job), true
}

// List returns copies of every tracked job.
func (ix *JobIndex) List() []model.Job {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	out := make([]model.Job, 0, len(ix.jobs))
	for _, job := range ix.jobs {
		out = append(out, copyJob(job))
	}
	return out
}

// Stats counts jobs by status.
func (ix *JobIndex) Stats() model.Stats {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var s model.Stats
	for _, job := range ix.jobs {
		s.Total++
		switch job.Status {
		case model.JobStatusQueued:
			s.Queued++
		case model.JobStatusInProgress:
			s.InProgress++
		case model.JobStatusCompleted:
			s.Completed++
		case model.JobStatusFailed:
			s.Failed++
		}
	}
	return s
}

// Reap evicts terminal jobs whose completion is older than maxAge and returns
// how many were removed. Non-terminal jobs are never evicted.
func (ix *JobIndex) Reap(maxAge time.Duration) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	cutoff := time.Now().UTC().Add(-maxAge)
	removed := 0
	for id, job := range ix.jobs {
		if job.Status.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(ix.jobs, id)
			removed++
		}
	}
	return removed
}

// SweepStale fails in-progress jobs whose last state change is older than
// timeout. Returns the ids that were failed. A zero timeout disables the
// sweep.
func (ix *JobIndex) SweepStale(timeout time.Duration) []string {
	if timeout <= 0 {
		return nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	cutoff := time.Now().UTC().Add(-timeout)
	var failed []string
	for id, job := range ix.jobs {
		if job.Status.Terminal() || !job.UpdatedAt.Before(cutoff) {
			continue
		}
		now := time.Now().UTC()
		msg := "stage timed out"
		job.Status = model.JobStatusFailed
		job.Error = &msg
		job.CompletedAt = &now
		job.UpdatedAt = now
		failed = append(failed, id)
	}
	return failed
}

func copyJob(job *model.Job) model.Job {
	out := *job
	out.CompletedStages = append([]model.Stage(nil), job.CompletedStages...)
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		out.CompletedAt = &t
	}
	if job.Error != nil {
		e := *job.Error
		out.Error = &e
	}
	return out
}
