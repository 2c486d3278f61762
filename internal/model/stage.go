package model

import "strings"

// Stage is one step of the landing-page pipeline.
type Stage string

const (
	StageResearch       Stage = "research"
	StageProductManager Stage = "product_manager"
	StageDrawer         Stage = "drawer"
	StageDesigner       Stage = "designer"
	StageCoder          Stage = "coder"
)

// StageOrder is the canonical execution order. Jobs advance through it one
// stage at a time; completed_stages is always a prefix of this list.
var StageOrder = []Stage{
	StageResearch,
	StageProductManager,
	StageDrawer,
	StageDesigner,
	StageCoder,
}

// StageCount is the pipeline length.
var StageCount = len(StageOrder)

// ValidStage reports whether s names a known pipeline stage.
func ValidStage(s Stage) bool {
	for _, st := range StageOrder {
		if st == s {
			return true
		}
	}
	return false
}

// NextStage returns the stage after s, or "" when s is the last stage.
func NextStage(s Stage) Stage {
	for i, st := range StageOrder {
		if st == s && i+1 < len(StageOrder) {
			return StageOrder[i+1]
		}
	}
	return ""
}

// KeyStyle selects the separator used inside emitted artifact key segments.
type KeyStyle string

const (
	KeyStyleUnderscore KeyStyle = "underscore"
	KeyStyleHyphen     KeyStyle = "hyphen"
)

func (s Stage) segment(style KeyStyle) string {
	if style == KeyStyleHyphen {
		return strings.ReplaceAll(string(s), "_", "-")
	}
	return string(s)
}

// InputKey is the blob key for the payload handed to a stage worker.
func InputKey(jobID string, stage Stage, style KeyStyle) string {
	return jobID + "/" + stage.segment(style) + ".json"
}

// ResultKey is the blob key a stage worker writes its output under.
func ResultKey(jobID string, stage Stage, style KeyStyle) string {
	return jobID + "/" + stage.segment(style) + "-result.json"
}

// ResultKeyCandidates lists every key a stage result may live under, preferred
// form first. Legacy workers emitted hyphenated segments
// ({job}/product-manager-result.json) while current ones use underscores, so
// readers probe both.
func ResultKeyCandidates(jobID string, stage Stage, style KeyStyle) []string {
	primary := ResultKey(jobID, stage, style)
	alt := ResultKey(jobID, stage, otherStyle(style))
	if alt == primary {
		return []string{primary}
	}
	return []string{primary, alt}
}

func otherStyle(style KeyStyle) KeyStyle {
	if style == KeyStyleHyphen {
		return KeyStyleUnderscore
	}
	return KeyStyleHyphen
}
