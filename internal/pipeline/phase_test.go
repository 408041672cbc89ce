package pipeline_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-job-orchestrator/internal/entity"
	"video-job-orchestrator/internal/pipeline"
)

func TestJobPhase_PrefersRecordedPhase(t *testing.T) {
	assert.Equal(t, pipeline.PhaseTTS, pipeline.JobPhase(&entity.Job{Stage: "narrate", Phase: "tts"}))
	assert.Equal(t, pipeline.PhaseProcessing, pipeline.JobPhase(&entity.Job{Stage: "narrate"}))
	assert.Equal(t, pipeline.PhasePlan, pipeline.JobPhase(&entity.Job{Stage: "script"}))
}

func TestNormalizePhase(t *testing.T) {
	cases := map[string]pipeline.Phase{
		"script":      pipeline.PhasePlan,
		" TTS ":       pipeline.PhaseTTS,
		"Voice":       pipeline.PhaseTTS,
		"images":      pipeline.PhaseVisuals,
		"composition": pipeline.PhaseCompose,
		"render":      pipeline.PhaseRender,
		"done":        pipeline.PhaseComplete,
		"upscale":     pipeline.PhaseProcessing,
		"":            pipeline.PhaseProcessing,
	}
	for in, want := range cases {
		assert.Equal(t, want, pipeline.NormalizePhase(in), in)
	}
}

func TestOverallPercent(t *testing.T) {
	p, ok := pipeline.OverallPercent(pipeline.PhasePlan, 0)
	require.True(t, ok)
	assert.Equal(t, 0, p)

	p, _ = pipeline.OverallPercent(pipeline.PhaseVisuals, 50)
	assert.Equal(t, 45, p)

	p, _ = pipeline.OverallPercent(pipeline.PhaseRender, 100)
	assert.Equal(t, 100, p)

	p, _ = pipeline.OverallPercent(pipeline.PhaseTTS, 500)
	assert.Equal(t, 30, p)

	_, ok = pipeline.OverallPercent(pipeline.PhaseProcessing, 10)
	assert.False(t, ok)
}

func TestSimulatedStage_ProducesArtifactAndProgress(t *testing.T) {
	stages := pipeline.DefaultStages(t.TempDir(), time.Millisecond)
	require.Len(t, stages, 5)

	var updates []pipeline.Update
	arts, err := stages[0].Run(context.Background(), pipeline.Input{JobID: "job-1"}, func(u pipeline.Update) {
		updates = append(updates, u)
	})
	require.NoError(t, err)
	require.Len(t, arts, 1)
	assert.Equal(t, "script", arts[0].Type)
	assert.Equal(t, float64(100), updates[len(updates)-1].Percent)

	_, err = os.Stat(arts[0].Path)
	require.NoError(t, err)
}

func TestSimulatedStage_HonorsCancellation(t *testing.T) {
	stages := pipeline.DefaultStages(t.TempDir(), time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := stages[4].Run(ctx, pipeline.Input{JobID: "job-1"}, func(pipeline.Update) {})
	require.ErrorIs(t, err, context.Canceled)
}
