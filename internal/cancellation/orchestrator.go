package cancellation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"

	"video-job-orchestrator/internal/pipeline"
)

type Status string

const (
	StatusCancelled    Status = "Cancelled"
	StatusNotSupported Status = "NotSupported"
	StatusFailed       Status = "Failed"
	// StatusAbandoned marks a provider that kept running past the abandon
	// grace after cancellation; the worker moved on without it.
	StatusAbandoned Status = "Abandoned"
)

type ProviderStatus struct {
	ProviderName         string `json:"providerName"`
	ProviderType         string `json:"providerType"`
	SupportsCancellation bool   `json:"supportsCancellation"`
	Status               Status `json:"status"`
	Warning              string `json:"warning,omitempty"`
}

type Result struct {
	JobID            string           `json:"jobId"`
	Success          bool             `json:"success"`
	NoActionNeeded   bool             `json:"noActionNeeded"`
	Message          string           `json:"message"`
	ProviderStatuses []ProviderStatus `json:"providerStatuses"`
	Warnings         []string         `json:"warnings"`
}

// NoAction is the result for a job that is already canceled or otherwise terminal.
func NoAction(jobID, reason string) Result {
	return Result{
		JobID:            jobID,
		Success:          true,
		NoActionNeeded:   true,
		Message:          reason,
		ProviderStatuses: []ProviderStatus{},
		Warnings:         []string{},
	}
}

type abandonment struct {
	provider string
	warning  string
}

// record is what the orchestrator remembers about one cancelled job.
type record struct {
	result    Result
	abandoned []abandonment
}

func (rec *record) view(jobID, reason string) Result {
	res := NoAction(jobID, reason)
	res.ProviderStatuses = append(res.ProviderStatuses, rec.result.ProviderStatuses...)
	res.Warnings = append(res.Warnings, rec.result.Warnings...)
	for _, a := range rec.abandoned {
		for i := len(res.ProviderStatuses) - 1; i >= 0; i-- {
			ps := &res.ProviderStatuses[i]
			if ps.ProviderName == a.provider && ps.Status != StatusAbandoned {
				ps.Status = StatusAbandoned
				ps.Warning = a.warning
				break
			}
		}
		res.Warnings = append(res.Warnings, a.warning)
	}
	return res
}

type registration struct {
	seq    uint64
	info   pipeline.ProviderInfo
	cancel func() error
}

// Orchestrator tracks which providers are working for each job and fans a
// cancel request out to all of them.
type Orchestrator struct {
	mu       sync.Mutex
	nextSeq  uint64
	active   map[string]map[uint64]*registration
	canceled *cache.Cache
}

func NewOrchestrator(memory time.Duration) *Orchestrator {
	if memory <= 0 {
		memory = time.Hour
	}
	return &Orchestrator{
		active:   make(map[string]map[uint64]*registration),
		canceled: cache.New(memory, memory),
	}
}

// Register associates a provider with jobID for as long as the returned
// release func has not been called. cancel may be nil for providers that
// cannot be stopped mid-flight.
func (o *Orchestrator) Register(jobID string, info pipeline.ProviderInfo, cancel func() error) (release func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.nextSeq++
	seq := o.nextSeq
	if o.active[jobID] == nil {
		o.active[jobID] = make(map[uint64]*registration)
	}
	o.active[jobID][seq] = &registration{seq: seq, info: info, cancel: cancel}

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.active[jobID], seq)
		if len(o.active[jobID]) == 0 {
			delete(o.active, jobID)
		}
	}
}

// Active returns the number of providers currently registered for jobID.
func (o *Orchestrator) Active(jobID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active[jobID])
}

// CancelJob signals every provider registered for jobID. It is best effort:
// providers that cannot stop are reported with a warning and the job is still
// considered cancelled. A second call for the same job is a no-op.
func (o *Orchestrator) CancelJob(jobID string) Result {
	o.mu.Lock()
	if v, done := o.canceled.Get(jobID); done {
		res := v.(*record).view(jobID, "job cancellation already requested")
		o.mu.Unlock()
		return res
	}
	rec := &record{}
	o.canceled.SetDefault(jobID, rec)

	regs := make([]*registration, 0, len(o.active[jobID]))
	for _, r := range o.active[jobID] {
		regs = append(regs, r)
	}
	o.mu.Unlock()

	sort.Slice(regs, func(a, b int) bool { return regs[a].seq < regs[b].seq })

	res := Result{
		JobID:            jobID,
		Success:          true,
		ProviderStatuses: make([]ProviderStatus, 0, len(regs)),
		Warnings:         []string{},
	}

	var errs *multierror.Error
	for _, r := range regs {
		ps := ProviderStatus{
			ProviderName:         r.info.Name,
			ProviderType:         r.info.Type,
			SupportsCancellation: r.info.SupportsCancellation,
		}

		switch {
		case !r.info.SupportsCancellation || r.cancel == nil:
			ps.Status = StatusNotSupported
			ps.Warning = fmt.Sprintf("provider %s does not support cancellation and may keep running in the background", r.info.Name)
		default:
			if err := r.cancel(); err != nil {
				ps.Status = StatusFailed
				ps.Warning = fmt.Sprintf("provider %s failed to cancel: %v", r.info.Name, err)
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", r.info.Name, err))
			} else {
				ps.Status = StatusCancelled
			}
		}

		if ps.Warning != "" {
			res.Warnings = append(res.Warnings, ps.Warning)
		}
		res.ProviderStatuses = append(res.ProviderStatuses, ps)
	}

	switch {
	case len(regs) == 0:
		res.Message = "job cancelled; no providers were active"
	case len(res.Warnings) > 0:
		res.Message = fmt.Sprintf("job cancelled with %d warning(s)", len(res.Warnings))
	default:
		res.Message = "job cancelled"
	}

	if err := errs.ErrorOrNil(); err != nil {
		log.WithFields(log.Fields{"job_id": jobID}).WithError(err).Warn("provider cancellation errors")
	}

	o.mu.Lock()
	rec.result = res
	o.mu.Unlock()
	return res
}

// Recorded returns a no-action result for jobID carrying the provider outcomes
// of its earlier cancellation, including later abandonments.
func (o *Orchestrator) Recorded(jobID, reason string) Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	if v, ok := o.canceled.Get(jobID); ok {
		return v.(*record).view(jobID, reason)
	}
	return NoAction(jobID, reason)
}

// MarkAbandoned flags provider as abandoned in the cancellation recorded for
// jobID. It reports false when the job was never cancelled.
func (o *Orchestrator) MarkAbandoned(jobID, provider, warning string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.canceled.Get(jobID)
	if !ok {
		return false
	}
	rec := v.(*record)
	rec.abandoned = append(rec.abandoned, abandonment{provider: provider, warning: warning})
	return true
}

// Forget drops all bookkeeping for jobID, e.g. once a retry re-queues it.
func (o *Orchestrator) Forget(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.canceled.Delete(jobID)
	delete(o.active, jobID)
}
