package model

import (
	"reflect"
	"testing"
)

func TestStageOrder(t *testing.T) {
	want := []Stage{StageResearch, StageProductManager, StageDrawer, StageDesigner, StageCoder}
	if !reflect.DeepEqual(StageOrder, want) {
		t.Fatalf("unexpected stage order: %v", StageOrder)
	}
}

func TestNextStage(t *testing.T) {
	tests := []struct {
		stage Stage
		want  Stage
	}{
		{StageResearch, StageProductManager},
		{StageProductManager, StageDrawer},
		{StageDrawer, StageDesigner},
		{StageDesigner, StageCoder},
		{StageCoder, ""},
		{"bogus", ""},
	}
	for _, tt := range tests {
		if got := NextStage(tt.stage); got != tt.want {
			t.Errorf("NextStage(%s) = %q, want %q", tt.stage, got, tt.want)
		}
	}
}

func TestValidStage(t *testing.T) {
	for _, s := range StageOrder {
		if !ValidStage(s) {
			t.Errorf("ValidStage(%s) = false", s)
		}
	}
	if ValidStage("research ") || ValidStage("") || ValidStage("product-manager") {
		t.Error("accepted invalid stage name")
	}
}

func TestArtifactKeys(t *testing.T) {
	if got := InputKey("j1", StageResearch, KeyStyleUnderscore); got != "j1/research.json" {
		t.Errorf("InputKey = %q", got)
	}
	if got := InputKey("j1", StageProductManager, KeyStyleUnderscore); got != "j1/product_manager.json" {
		t.Errorf("InputKey = %q", got)
	}
	if got := ResultKey("j1", StageProductManager, KeyStyleUnderscore); got != "j1/product_manager-result.json" {
		t.Errorf("ResultKey = %q", got)
	}
	if got := ResultKey("j1", StageProductManager, KeyStyleHyphen); got != "j1/product-manager-result.json" {
		t.Errorf("hyphen ResultKey = %q", got)
	}
}

func TestResultKeyCandidates(t *testing.T) {
	got := ResultKeyCandidates("j1", StageProductManager, KeyStyleUnderscore)
	want := []string{"j1/product_manager-result.json", "j1/product-manager-result.json"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("candidates = %v, want %v", got, want)
	}

	// Stages without underscores have one canonical form.
	got = ResultKeyCandidates("j1", StageResearch, KeyStyleUnderscore)
	if len(got) != 1 || got[0] != "j1/research-result.json" {
		t.Fatalf("research candidates = %v", got)
	}
}

func TestJobProgress(t *testing.T) {
	job := &Job{}
	if p := job.Progress(); p != 0 {
		t.Errorf("empty progress = %d", p)
	}
	job.CompletedStages = []Stage{StageResearch}
	if p := job.Progress(); p != 20 {
		t.Errorf("one-stage progress = %d", p)
	}
	job.CompletedStages = StageOrder
	if p := job.Progress(); p != 100 {
		t.Errorf("full progress = %d", p)
	}
}

func TestParseCompletionEventLegacyTaskKey(t *testing.T) {
	ev, err := ParseCompletionEvent([]byte(`{"job_id":"j1","task":"research","status":"success"}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.TaskType != StageResearch {
		t.Errorf("legacy task key not honored: %q", ev.TaskType)
	}

	ev, err = ParseCompletionEvent([]byte(`{"job_id":"j1","task_type":"coder","status":"failure","error":"boom"}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.TaskType != StageCoder || ev.Error != "boom" {
		t.Errorf("unexpected event: %+v", ev)
	}

	if _, err := ParseCompletionEvent([]byte(`{not json`)); err == nil {
		t.Error("expected parse error")
	}
}

func TestCompletionEventAnnouncementForm(t *testing.T) {
	ev, err := ParseCompletionEvent([]byte(`{"job_id":"j1","event_type":"job_completed"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !ev.IsAnnouncement() {
		t.Error("job-done form not recognized")
	}

	ev, _ = ParseCompletionEvent([]byte(`{"job_id":"j1","task_type":"research","status":"success"}`))
	if ev.IsAnnouncement() {
		t.Error("worker completion misread as announcement")
	}
}
