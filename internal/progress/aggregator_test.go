package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-job-orchestrator/internal/pipeline"
)

type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time { return c.t }

func (c *stepClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestAggregator() (*Aggregator, *stepClock) {
	clk := &stepClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	a := NewAggregator(time.Hour)
	a.now = clk.now
	return a, clk
}

func TestAggregator_UnknownBeforeFirstSample(t *testing.T) {
	a, _ := newTestAggregator()

	_, ok := a.GetProgress("job")
	assert.False(t, ok)

	view := a.ReportProgress("job", Report{Stage: "script", Percent: 0, Message: "starting"})
	assert.Nil(t, view.EtaSeconds, "no elapsed sample yet")
	assert.Equal(t, pipeline.PhasePlan, view.Phase)
}

func TestAggregator_EtaFromElapsedPerPoint(t *testing.T) {
	a, clk := newTestAggregator()

	a.ReportProgress("job", Report{Stage: "visuals", Percent: 0})
	clk.advance(30 * time.Second)
	view := a.ReportProgress("job", Report{Stage: "visuals", Percent: 50})

	// visuals spans 30..60, so 50% is overall 45: 15 points in 30s -> 2s/point, 55 left
	assert.Equal(t, 45, view.Percent)
	eta, ok := view.ETA()
	require.True(t, ok)
	assert.Equal(t, 110*time.Second, eta)
}

func TestAggregator_NoEtaWithoutElapsedTime(t *testing.T) {
	a, clk := newTestAggregator()

	// first sample of the stage already past its start, same instant
	view := a.ReportProgress("job", Report{Stage: "visuals", Percent: 50})
	assert.Equal(t, 45, view.Percent)
	assert.Nil(t, view.EtaSeconds)

	clk.advance(30 * time.Second)
	view = a.ReportProgress("job", Report{Stage: "visuals", Percent: 60})
	// 48 - 30 = 18 points in 30s, 52 left
	require.NotNil(t, view.EtaSeconds)
	assert.InDelta(t, 30.0/18*52, *view.EtaSeconds, 0.001)
}

func TestAggregator_ExplicitPhaseWinsOverStageName(t *testing.T) {
	a, _ := newTestAggregator()

	view := a.ReportProgress("job", Report{Stage: "narrate", Phase: pipeline.PhaseTTS, Percent: 50})
	assert.Equal(t, "narrate", view.Stage)
	assert.Equal(t, pipeline.PhaseTTS, view.Phase)
	assert.Equal(t, 22, view.Percent)

	view = a.ReportProgress("job", Report{Stage: "narrate", Percent: 50})
	assert.Equal(t, pipeline.PhaseProcessing, view.Phase, "no phase given falls back to the stage name")
	assert.Equal(t, 22, view.Percent)
}

func TestAggregator_EtaIsSmoothed(t *testing.T) {
	a, clk := newTestAggregator()

	a.ReportProgress("job", Report{Stage: "render", Percent: 0})
	clk.advance(10 * time.Second)
	first := a.ReportProgress("job", Report{Stage: "render", Percent: 20}) // overall 80
	clk.advance(50 * time.Second)
	second := a.ReportProgress("job", Report{Stage: "render", Percent: 40}) // overall 85

	// raw second sample: 60s / 10 points * 15 left = 90s; first: 10s/5*20 = 40s
	assert.InDelta(t, 40.0, *first.EtaSeconds, 0.001)
	assert.InDelta(t, 0.3*90+0.7*40, *second.EtaSeconds, 0.001)
}

func TestAggregator_PercentNeverRegresses(t *testing.T) {
	a, _ := newTestAggregator()

	a.ReportProgress("job", Report{Stage: "tts", Percent: 80})
	view := a.ReportProgress("job", Report{Stage: "tts", Percent: 10})
	assert.Equal(t, 27, view.Percent)

	view = a.ReportProgress("job", Report{Stage: "script", Percent: 50})
	assert.Equal(t, 27, view.Percent)
}

func TestAggregator_UnknownStageMapsToProcessing(t *testing.T) {
	a, _ := newTestAggregator()

	a.ReportProgress("job", Report{Stage: "compose", Percent: 100})
	view := a.ReportProgress("job", Report{Stage: "upscale", Percent: 5})
	assert.Equal(t, pipeline.PhaseProcessing, view.Phase)
	assert.Equal(t, 75, view.Percent)
}

func TestAggregator_CompleteNeverRegresses(t *testing.T) {
	a, _ := newTestAggregator()

	a.ReportProgress("job", Report{Stage: "complete", Percent: 100})
	view := a.ReportProgress("job", Report{Stage: "cleanup", Percent: 10})
	assert.Equal(t, pipeline.PhaseComplete, view.Phase)
	assert.Equal(t, 100, view.Percent)
	assert.Equal(t, 0.0, *view.EtaSeconds)
}

func TestAggregator_ResetAllowsRestart(t *testing.T) {
	a, _ := newTestAggregator()

	a.ReportProgress("job", Report{Stage: "render", Percent: 50})
	a.Reset("job")
	_, ok := a.GetProgress("job")
	require.False(t, ok)

	view := a.ReportProgress("job", Report{Stage: "script", Percent: 0})
	assert.Equal(t, 0, view.Percent)
}

func TestAggregator_ConcurrentReadWrite(t *testing.T) {
	a := NewAggregator(time.Hour)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i <= 100; i++ {
			a.ReportProgress("job", Report{Stage: "visuals", Percent: float64(i)})
		}
	}()
	go func() {
		defer wg.Done()
		last := 0
		for i := 0; i < 200; i++ {
			if v, ok := a.GetProgress("job"); ok {
				assert.GreaterOrEqual(t, v.Percent, last)
				last = v.Percent
			}
		}
	}()
	wg.Wait()

	v, ok := a.GetProgress("job")
	require.True(t, ok)
	assert.Equal(t, 60, v.Percent)
}
