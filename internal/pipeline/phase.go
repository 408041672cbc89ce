package pipeline

import (
	"strings"

	"video-job-orchestrator/internal/entity"
)

// Phase is the small, stable set of pipeline phases clients map their UI onto.
type Phase string

const (
	PhasePlan       Phase = "plan"
	PhaseTTS        Phase = "tts"
	PhaseVisuals    Phase = "visuals"
	PhaseCompose    Phase = "compose"
	PhaseRender     Phase = "render"
	PhaseComplete   Phase = "complete"
	PhaseProcessing Phase = "processing"
)

// span is the [start, start+weight) slice of the overall percent a phase owns.
type span struct {
	start  int
	weight int
}

var phaseSpans = map[Phase]span{
	PhasePlan:     {0, 15},
	PhaseTTS:      {15, 15},
	PhaseVisuals:  {30, 30},
	PhaseCompose:  {60, 15},
	PhaseRender:   {75, 25},
	PhaseComplete: {100, 0},
}

var phaseAliases = map[string]Phase{
	"plan":        PhasePlan,
	"planning":    PhasePlan,
	"script":      PhasePlan,
	"brief":       PhasePlan,
	"tts":         PhaseTTS,
	"voice":       PhaseTTS,
	"audio":       PhaseTTS,
	"narration":   PhaseTTS,
	"visuals":     PhaseVisuals,
	"visual":      PhaseVisuals,
	"images":      PhaseVisuals,
	"image":       PhaseVisuals,
	"compose":     PhaseCompose,
	"composition": PhaseCompose,
	"timeline":    PhaseCompose,
	"render":      PhaseRender,
	"rendering":   PhaseRender,
	"encode":      PhaseRender,
	"export":      PhaseRender,
	"complete":    PhaseComplete,
	"completed":   PhaseComplete,
	"done":        PhaseComplete,
}

// NormalizePhase maps a free-form stage name onto a Phase. Names that match
// no alias fall back to PhaseProcessing.
func NormalizePhase(stage string) Phase {
	key := strings.ToLower(strings.TrimSpace(stage))
	if p, ok := phaseAliases[key]; ok {
		return p
	}
	return PhaseProcessing
}

// JobPhase is the phase recorded on j by its current stage, or the phase
// derived from j.Stage when none was recorded.
func JobPhase(j *entity.Job) Phase {
	if j.Phase != "" {
		return Phase(j.Phase)
	}
	return NormalizePhase(j.Stage)
}

// OverallPercent converts a percent within phase p into the overall 0..100 scale.
// ok is false for PhaseProcessing, which owns no fixed slice.
func OverallPercent(p Phase, stagePercent float64) (overall int, ok bool) {
	sp, ok := phaseSpans[p]
	if !ok {
		return 0, false
	}
	if stagePercent < 0 {
		stagePercent = 0
	}
	if stagePercent > 100 {
		stagePercent = 100
	}
	return sp.start + int(float64(sp.weight)*stagePercent/100), true
}

// PhaseStart is the overall percent at which phase p begins.
func PhaseStart(p Phase) int {
	return phaseSpans[p].start
}
