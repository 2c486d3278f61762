package handler

import (
	"errors"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/pagesmith/orchestrator/internal/middleware"
	"github.com/pagesmith/orchestrator/internal/model"
	"github.com/pagesmith/orchestrator/internal/service"
	"github.com/pagesmith/orchestrator/pkg/response"
)

// SubmitRequest is the POST /jobs body. A client may pin its own job id;
// otherwise one is minted.
type SubmitRequest struct {
	Product  string `json:"product" validate:"required"`
	Audience string `json:"audience" validate:"required"`
	Tone     string `json:"tone,omitempty"`
	JobID    string `json:"job_id,omitempty"`
}

// SubmitResponse acknowledges an admitted job.
type SubmitResponse struct {
	JobID  string          `json:"job_id"`
	Status model.JobStatus `json:"status"`
}

type JobsHandler struct {
	pipeline  *service.Pipeline
	index     *service.JobIndex
	validator *validator.Validate
	limiter   *middleware.SubmitLimiter
}

func NewJobsHandler(pipeline *service.Pipeline, index *service.JobIndex,
	v *validator.Validate, limiter *middleware.SubmitLimiter) *JobsHandler {
	return &JobsHandler{
		pipeline:  pipeline,
		index:     index,
		validator: v,
		limiter:   limiter,
	}
}

// Submit handles POST /jobs. Admission and the research dispatch happen
// synchronously; everything after the first stage runs off the events queue.
func (h *JobsHandler) Submit(c *fiber.Ctx) error {
	var req SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.New().String()
	}

	brief := model.Brief{Product: req.Product, Audience: req.Audience, Tone: req.Tone}
	if err := h.pipeline.Admit(c.Context(), jobID, brief); err != nil {
		if errors.Is(err, service.ErrDuplicateJob) {
			return response.ServiceError(c, "Job already admitted: "+jobID)
		}
		return response.ServiceError(c, err.Error())
	}

	h.limiter.Record(c.Context(), c.IP())

	return response.Created(c, SubmitResponse{
		JobID:  jobID,
		Status: model.JobStatusQueued,
	})
}

// Get handles GET /jobs/:id.
func (h *JobsHandler) Get(c *fiber.Ctx) error {
	jobID := c.Params("id")
	job, ok := h.index.Lookup(jobID)
	if !ok {
		return response.NotFound(c, "Job not found")
	}
	return response.OK(c, job)
}

// Stats handles GET /jobs.
func (h *JobsHandler) Stats(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{
		"stats":     h.index.Stats(),
		"timestamp": nowRFC3339(),
	})
}

// Tasks handles GET /tasks: every tracked job projected to the task view.
func (h *JobsHandler) Tasks(c *fiber.Ctx) error {
	jobs := h.index.List()
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].StartedAt.Equal(jobs[j].StartedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].StartedAt.Before(jobs[j].StartedAt)
	})

	views := make([]model.TaskView, 0, len(jobs))
	for i := range jobs {
		views = append(views, model.TaskView{
			TaskID:    jobs[i].ID,
			JobID:     jobs[i].ID,
			Status:    jobs[i].Status,
			CreatedAt: jobs[i].StartedAt,
			Progress:  jobs[i].Progress(),
		})
	}
	return response.OK(c, views)
}

func formatValidationErrors(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fe.Field()+" failed on "+fe.Tag())
	}
	return out
}
