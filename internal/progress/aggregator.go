package progress

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"video-job-orchestrator/internal/pipeline"
)

// etaSmoothing is the weight of the newest sample in the ETA moving average.
const etaSmoothing = 0.3

// Report is one raw progress callback. Phase is optional; when empty it is
// derived from Stage.
type Report struct {
	Stage          string
	Phase          pipeline.Phase
	Percent        float64
	Message        string
	SubstageDetail string
	CurrentItem    int
	TotalItems     int
}

// AggregatedProgress is the normalized cross-stage view of one job.
type AggregatedProgress struct {
	JobID          string         `json:"jobId"`
	Stage          string         `json:"stage"`
	Phase          pipeline.Phase `json:"phase"`
	StagePercent   float64        `json:"stagePercent"`
	Percent        int            `json:"percent"`
	Message        string         `json:"message,omitempty"`
	SubstageDetail string         `json:"substageDetail,omitempty"`
	CurrentItem    int            `json:"currentItem,omitempty"`
	TotalItems     int            `json:"totalItems,omitempty"`
	EtaSeconds     *float64       `json:"etaSeconds"`
	ElapsedSeconds float64        `json:"elapsedSeconds"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// ETA returns the estimated remaining time, if one has been computed.
func (p AggregatedProgress) ETA() (time.Duration, bool) {
	if p.EtaSeconds == nil {
		return 0, false
	}
	return time.Duration(*p.EtaSeconds * float64(time.Second)), true
}

type jobState struct {
	view              AggregatedProgress
	firstSeen         time.Time
	stageStartedAt    time.Time
	stageStartPercent int
	eta               *float64
}

// Aggregator merges raw stage callbacks into one view per job. Writers are
// serialized by mu; readers only touch the views cache and never wait on a writer.
type Aggregator struct {
	mu     sync.Mutex
	states *cache.Cache
	views  *cache.Cache
	now    func() time.Time
}

func NewAggregator(ttl time.Duration) *Aggregator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Aggregator{
		states: cache.New(ttl, ttl/2),
		views:  cache.New(ttl, ttl/2),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (a *Aggregator) ReportProgress(jobID string, r Report) AggregatedProgress {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	phase := r.Phase
	if phase == "" {
		phase = pipeline.NormalizePhase(r.Stage)
	}

	st := &jobState{firstSeen: now, stageStartedAt: now}
	if v, ok := a.states.Get(jobID); ok {
		st = v.(*jobState)
	}
	prev := st.view

	// complete is sticky
	if prev.Phase == pipeline.PhaseComplete && phase != pipeline.PhaseComplete {
		phase = pipeline.PhaseComplete
	}

	overall, known := pipeline.OverallPercent(phase, r.Percent)
	if !known {
		overall = prev.Percent
	}
	if overall < prev.Percent {
		overall = prev.Percent
	}

	if prev.Stage != r.Stage || prev.Phase != phase {
		st.stageStartedAt = now
		st.stageStartPercent = prev.Percent
		if known && pipeline.PhaseStart(phase) > st.stageStartPercent {
			st.stageStartPercent = pipeline.PhaseStart(phase)
		}
		st.eta = nil
	}

	switch {
	case phase == pipeline.PhaseComplete || overall >= 100:
		zero := 0.0
		st.eta = &zero
	case overall > st.stageStartPercent && now.After(st.stageStartedAt):
		perPoint := now.Sub(st.stageStartedAt).Seconds() / float64(overall-st.stageStartPercent)
		sample := perPoint * float64(100-overall)
		if st.eta != nil {
			sample = etaSmoothing*sample + (1-etaSmoothing)*(*st.eta)
		}
		st.eta = &sample
	}

	view := AggregatedProgress{
		JobID:          jobID,
		Stage:          r.Stage,
		Phase:          phase,
		StagePercent:   clamp(r.Percent),
		Percent:        overall,
		Message:        r.Message,
		SubstageDetail: r.SubstageDetail,
		CurrentItem:    r.CurrentItem,
		TotalItems:     r.TotalItems,
		ElapsedSeconds: now.Sub(st.firstSeen).Seconds(),
		UpdatedAt:      now,
	}
	if st.eta != nil {
		eta := *st.eta
		view.EtaSeconds = &eta
	}
	st.view = view

	a.states.SetDefault(jobID, st)
	a.views.SetDefault(jobID, view)
	return view
}

// GetProgress returns the latest view for jobID, if any report has been made.
func (a *Aggregator) GetProgress(jobID string) (AggregatedProgress, bool) {
	v, ok := a.views.Get(jobID)
	if !ok {
		return AggregatedProgress{}, false
	}
	return v.(AggregatedProgress), true
}

// Reset forgets the job's history so the next report may start below the
// previous percent. Used when a retry restarts the pipeline from the beginning.
func (a *Aggregator) Reset(jobID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.states.Delete(jobID)
	a.views.Delete(jobID)
}

func (a *Aggregator) Remove(jobID string) {
	a.Reset(jobID)
}

func clamp(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
