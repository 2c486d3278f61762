package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskMessage is what the orchestrator puts on a stage queue. The payload
// itself lives in the blob store; workers fetch it by key.
type TaskMessage struct {
	JobID      string `json:"job_id"`
	TaskType   Stage  `json:"task_type"`
	PayloadKey string `json:"payload_key"`
	Timestamp  string `json:"timestamp"`
	Source     string `json:"source"`
}

// NewTaskMessage builds a task message stamped with the current time.
func NewTaskMessage(jobID string, stage Stage, payloadKey, source string) TaskMessage {
	return TaskMessage{
		JobID:      jobID,
		TaskType:   stage,
		PayloadKey: payloadKey,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Source:     source,
	}
}

// Event statuses reported by stage workers.
const (
	EventStatusSuccess    = "success"
	EventStatusFailure    = "failure"
	EventStatusError      = "error"
	EventStatusInProgress = "in_progress"
)

// EventTypeJobCompleted marks the orchestrator's own job-done announcement,
// which shares the events queue with worker completions.
const EventTypeJobCompleted = "job_completed"

// CompletionEvent is a worker's report about one stage of one job.
type CompletionEvent struct {
	JobID     string          `json:"job_id"`
	TaskType  Stage           `json:"task_type"`
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ResultKey string          `json:"result_key,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`

	// EventType is set on job-done announcements instead of TaskType.
	EventType string `json:"event_type,omitempty"`
}

// IsAnnouncement reports whether the event is the job-done form rather than a
// worker completion. Announcements carry no stage key.
func (e *CompletionEvent) IsAnnouncement() bool {
	return e.TaskType == "" && e.EventType != ""
}

// ParseCompletionEvent decodes an events-queue message body. Older workers
// emitted the stage under "task" rather than "task_type"; both are accepted.
func ParseCompletionEvent(body []byte) (*CompletionEvent, error) {
	var ev CompletionEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("malformed completion event: %w", err)
	}
	if ev.TaskType == "" {
		var legacy struct {
			Task Stage `json:"task"`
		}
		if err := json.Unmarshal(body, &legacy); err == nil {
			ev.TaskType = legacy.Task
		}
	}
	return &ev, nil
}

// JobCompletedAnnouncement is the message sent back to the events queue once
// a job's final stage finishes.
type JobCompletedAnnouncement struct {
	JobID     string `json:"job_id"`
	EventType string `json:"event_type"`
	Timestamp string `json:"timestamp"`
}

// SubmissionMessage is an async job submission. Either PayloadKey points at a
// stored brief, or the brief fields are inline on the message itself.
type SubmissionMessage struct {
	JobID      string `json:"job_id,omitempty"`
	TaskType   string `json:"task_type,omitempty"`
	PayloadKey string `json:"payload_key,omitempty"`

	Product  string `json:"product,omitempty"`
	Audience string `json:"audience,omitempty"`
	Tone     string `json:"tone,omitempty"`
}

// InlineBrief extracts the brief carried directly on the message.
func (m *SubmissionMessage) InlineBrief() Brief {
	return Brief{Product: m.Product, Audience: m.Audience, Tone: m.Tone}
}
