package service

import (
	"encoding/json"

	"github.com/pagesmith/orchestrator/internal/model"
)

// Per-stage instruction texts. These are opaque prompts consumed by the
// external stage workers; the orchestrator only binds them to payloads.
const (
	researchInstructions = `You are a market researcher. Analyze the product and target ` +
		`audience below. Produce a JSON report with: key selling points, competitor ` +
		`positioning, audience pain points, and the vocabulary the audience uses. ` +
		`Be specific and concrete; avoid generic marketing language.`

	productManagerInstructions = `You are a product manager. Using the research report, ` +
		`define the landing page: value proposition, section list in order (hero, ` +
		`features, social proof, pricing, call to action), and the core message of ` +
		`each section. Output JSON.`

	drawerInstructions = `You are a wireframe artist. Using the product plan, produce a ` +
		`low-fidelity layout description for each section: element hierarchy, ` +
		`placement, and relative sizing. Output JSON.`

	designerInstructions = `You are a visual designer. Using the wireframes, specify the ` +
		`visual system: palette, typography, spacing scale, imagery direction, and ` +
		`per-section styling notes matching the requested tone. Output JSON.`

	coderInstructions = `You are a front-end engineer. Using the design specification, ` +
		`generate a complete single-file landing page: semantic HTML, embedded CSS, ` +
		`minimal vanilla JS. Production quality, responsive, accessible. Output JSON ` +
		`with an "html" field.`
)

var stageInstructions = map[model.Stage]string{
	model.StageResearch:       researchInstructions,
	model.StageProductManager: productManagerInstructions,
	model.StageDrawer:         drawerInstructions,
	model.StageDesigner:       designerInstructions,
	model.StageCoder:          coderInstructions,
}

// StageInput is the payload written to the blob store for a stage worker.
// Research receives the brief; every later stage receives the upstream
// stage's result verbatim.
type StageInput struct {
	JobID        string          `json:"job_id"`
	TaskType     model.Stage     `json:"task_type"`
	Instructions string          `json:"instructions"`
	Brief        *model.Brief    `json:"brief,omitempty"`
	Upstream     json.RawMessage `json:"upstream,omitempty"`
}

// BuildResearchInput binds the brief to the research prompt.
func BuildResearchInput(jobID string, brief model.Brief) StageInput {
	b := brief
	return StageInput{
		JobID:        jobID,
		TaskType:     model.StageResearch,
		Instructions: stageInstructions[model.StageResearch],
		Brief:        &b,
	}
}

// BuildStageInput binds an upstream result to the given stage's prompt.
func BuildStageInput(jobID string, stage model.Stage, upstream json.RawMessage) StageInput {
	return StageInput{
		JobID:        jobID,
		TaskType:     stage,
		Instructions: stageInstructions[stage],
		Upstream:     upstream,
	}
}
