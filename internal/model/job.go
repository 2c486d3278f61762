package model

import "time"

// JobStatus is the lifecycle state of a pipeline job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Brief is the user-supplied input that seeds a job.
type Brief struct {
	Product  string `json:"product" validate:"required"`
	Audience string `json:"audience" validate:"required"`
	Tone     string `json:"tone,omitempty"`
}

// Job is one end-to-end run of the pipeline for one brief. Records are owned
// exclusively by the job index; callers receive copies.
type Job struct {
	ID              string     `json:"id"`
	Brief           Brief      `json:"brief"`
	Status          JobStatus  `json:"status"`
	CompletedStages []Stage    `json:"completed_stages"`
	StartedAt       time.Time  `json:"started_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Error           *string    `json:"error,omitempty"`

	// Orchestrator bookkeeping, not part of the job record surface.
	// LastDispatched is the most recent stage whose task message was sent;
	// Announced records that the job-done message went out. Both exist so
	// event redelivery can heal a crash between state change and send
	// without double-sending on clean duplicates.
	LastDispatched Stage `json:"-"`
	Announced      bool  `json:"-"`
}

// Progress is the percentage of stages finished, rounded.
func (j *Job) Progress() int {
	return (len(j.CompletedStages)*100 + StageCount/2) / StageCount
}

// Stats is the count of jobs by status.
type Stats struct {
	Total      int `json:"total"`
	Queued     int `json:"queued"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// TaskView is the projection served by GET /tasks.
type TaskView struct {
	TaskID    string    `json:"task_id"`
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Progress  int       `json:"progress"`
}
