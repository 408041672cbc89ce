package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"video-job-orchestrator/internal/entity"
	"video-job-orchestrator/internal/metrics"
	"video-job-orchestrator/internal/pipeline"
	"video-job-orchestrator/internal/progress"
)

// Event names on the wire.
const (
	EventJobStatus    = "job-status"
	EventStepStatus   = "step-status"
	EventStepProgress = "step-progress"
	EventJobLog       = "job-log"
	EventHeartbeat    = "heartbeat"
	EventJobCompleted = "job-completed"
	EventJobFailed    = "job-failed"
	EventJobCancelled = "job-cancelled"
)

// JobSource is the read side of the Job Runner.
type JobSource interface {
	Get(id string) (*entity.Job, error)
	Progress(id string) (progress.AggregatedProgress, bool)
}

type Options struct {
	Heartbeat    time.Duration
	PollInterval time.Duration
	// TerminalLogLines is how many trailing log lines a job-failed event carries.
	TerminalLogLines int
	// SnapshotLogLines caps the log lines embedded in the initial snapshot.
	SnapshotLogLines int
}

func DefaultOptions() Options {
	return Options{
		Heartbeat:        5 * time.Second,
		PollInterval:     500 * time.Millisecond,
		TerminalLogLines: 50,
		SnapshotLogLines: 100,
	}
}

// Publisher serves one Server-Sent-Events stream per connected client.
type Publisher struct {
	jobs   JobSource
	broker *Broker
	opts   Options
	now    func() time.Time
}

func NewPublisher(jobs JobSource, broker *Broker, opts Options) *Publisher {
	def := DefaultOptions()
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = def.Heartbeat
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.TerminalLogLines <= 0 {
		opts.TerminalLogLines = def.TerminalLogLines
	}
	if opts.SnapshotLogLines <= 0 {
		opts.SnapshotLogLines = def.SnapshotLogLines
	}
	return &Publisher{
		jobs:   jobs,
		broker: broker,
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type jobStatusData struct {
	JobID         string                       `json:"jobId"`
	CorrelationID string                       `json:"correlationId"`
	Status        entity.JobStatus             `json:"status"`
	Stage         string                       `json:"stage"`
	Percent       int                          `json:"percent"`
	Snapshot      bool                         `json:"snapshot,omitempty"`
	Job           *entity.Job                  `json:"job,omitempty"`
	Progress      *progress.AggregatedProgress `json:"progress,omitempty"`
}

type stepStatusData struct {
	JobID         string           `json:"jobId"`
	CorrelationID string           `json:"correlationId"`
	Stage         string           `json:"stage"`
	Phase         pipeline.Phase   `json:"phase"`
	Status        entity.JobStatus `json:"status"`
}

type jobLogData struct {
	JobID         string    `json:"jobId"`
	CorrelationID string    `json:"correlationId"`
	Timestamp     time.Time `json:"timestamp"`
	Message       string    `json:"message"`
	Severity      string    `json:"severity"`
}

type heartbeatData struct {
	Timestamp time.Time `json:"timestamp"`
}

type terminalData struct {
	JobID          string                 `json:"jobId"`
	CorrelationID  string                 `json:"correlationId"`
	Status         entity.JobStatus       `json:"status"`
	Percent        int                    `json:"percent"`
	OutputPath     string                 `json:"outputPath,omitempty"`
	Artifacts      []entity.Artifact      `json:"artifacts,omitempty"`
	FailureDetails *entity.FailureDetails `json:"failureDetails,omitempty"`
	Errors         []entity.JobError      `json:"errors,omitempty"`
	Logs           []entity.LogEntry      `json:"logs,omitempty"`
	CompletedAt    *time.Time             `json:"completedAt,omitempty"`
}

// ServeJob streams jobID until the job reaches a terminal status or the client
// goes away. The caller has already checked that the job exists.
func (p *Publisher) ServeJob(w http.ResponseWriter, r *http.Request, jobID string) {
	lastID := r.Header.Get("Last-Event-ID")
	if lastID == "" {
		lastID = r.URL.Query().Get("lastEventId")
	}

	// subscribe before reading the snapshot so no commit falls in between
	sub, unsubscribe := p.broker.Subscribe(jobID)
	defer unsubscribe()

	job, err := p.jobs.Get(jobID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	metrics.StreamConnected()
	defer metrics.StreamDisconnected()

	s := &stream{
		p:   p,
		out: &frameWriter{w: w, rc: http.NewResponseController(w), now: p.now, seq: parseEventSeq(lastID)},
		job: job,
	}

	entry := log.WithFields(log.Fields{"job_id": jobID, "correlation_id": job.CorrelationID})
	entry.WithField("last_event_id", lastID).Debug("event stream connected")

	if err := s.run(r.Context(), sub); err != nil {
		entry.WithError(err).Debug("event stream client went away")
		return
	}
	entry.Debug("event stream closed")
}

type stream struct {
	p   *Publisher
	out *frameWriter
	job *entity.Job // last snapshot sent to the client
}

func (s *stream) run(ctx context.Context, sub *Subscription) error {
	if err := s.sendSnapshot(); err != nil {
		return err
	}
	if s.job.Status.IsTerminal() {
		return s.sendTerminal()
	}

	heartbeat := time.NewTicker(s.p.opts.Heartbeat)
	defer heartbeat.Stop()
	poll := time.NewTicker(s.p.opts.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case next := <-sub.C:
			if err := s.advance(next); err != nil {
				return err
			}

		case <-poll.C:
			// queued snapshots first, so intermediate statuses are not skipped
			if err := s.drain(sub); err != nil {
				return err
			}
			next, err := s.p.jobs.Get(s.job.ID)
			if errors.Is(err, entity.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := s.advance(next); err != nil {
				return err
			}

		case <-heartbeat.C:
			if err := s.out.send(EventHeartbeat, heartbeatData{Timestamp: s.p.now()}); err != nil {
				return err
			}
		}

		if s.job.Status.IsTerminal() {
			return s.sendTerminal()
		}
	}
}

// drain advances through every snapshot already buffered on sub.
func (s *stream) drain(sub *Subscription) error {
	for {
		select {
		case next := <-sub.C:
			if err := s.advance(next); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// advance emits the difference between the last sent snapshot and next.
// Older or already-sent versions are ignored.
func (s *stream) advance(next *entity.Job) error {
	prev := s.job
	if next == nil || next.Version <= prev.Version {
		return nil
	}
	s.job = next

	if next.Status != prev.Status {
		if err := s.out.send(EventJobStatus, s.statusData(next, false)); err != nil {
			return err
		}
	}
	if next.Stage != prev.Stage {
		data := stepStatusData{
			JobID:         next.ID,
			CorrelationID: next.CorrelationID,
			Stage:         next.Stage,
			Phase:         pipeline.JobPhase(next),
			Status:        next.Status,
		}
		if err := s.out.send(EventStepStatus, data); err != nil {
			return err
		}
	}
	if next.Percent != prev.Percent {
		if err := s.out.send(EventStepProgress, s.progressData(next)); err != nil {
			return err
		}
	}
	from := len(prev.Logs)
	if from > len(next.Logs) {
		from = len(next.Logs)
	}
	for _, l := range next.Logs[from:] {
		data := jobLogData{
			JobID:         next.ID,
			CorrelationID: next.CorrelationID,
			Timestamp:     l.Timestamp,
			Message:       l.Message,
			Severity:      Severity(l.Message),
		}
		if err := s.out.send(EventJobLog, data); err != nil {
			return err
		}
	}
	return nil
}

func (s *stream) sendSnapshot() error {
	return s.out.send(EventJobStatus, s.statusData(s.job, true))
}

func (s *stream) sendTerminal() error {
	j := s.job
	data := terminalData{
		JobID:         j.ID,
		CorrelationID: j.CorrelationID,
		Status:        j.Status,
		Percent:       j.Percent,
		CompletedAt:   j.CompletedAt,
	}

	var event string
	switch j.Status {
	case entity.StatusSucceeded:
		event = EventJobCompleted
		data.OutputPath = j.OutputPath
		data.Artifacts = j.Artifacts
	case entity.StatusFailed:
		event = EventJobFailed
		data.FailureDetails = j.FailureDetails
		data.Errors = j.Errors
		data.Logs = j.TailLogs(s.p.opts.TerminalLogLines)
	case entity.StatusCanceled:
		event = EventJobCancelled
		data.Logs = j.TailLogs(s.p.opts.TerminalLogLines)
	default:
		return fmt.Errorf("job %s is not terminal: %s", j.ID, j.Status)
	}
	return s.out.send(event, data)
}

func (s *stream) statusData(j *entity.Job, snapshot bool) jobStatusData {
	data := jobStatusData{
		JobID:         j.ID,
		CorrelationID: j.CorrelationID,
		Status:        j.Status,
		Stage:         j.Stage,
		Percent:       j.Percent,
		Snapshot:      snapshot,
	}
	if snapshot {
		c := j.Clone()
		c.Logs = c.TailLogs(s.p.opts.SnapshotLogLines)
		data.Job = c
		if view, ok := s.p.jobs.Progress(j.ID); ok {
			data.Progress = &view
		}
	}
	return data
}

// progressData prefers the aggregator's view and falls back to the job's own
// fields when the aggregator has nothing (e.g. after a restart).
func (s *stream) progressData(j *entity.Job) progress.AggregatedProgress {
	if view, ok := s.p.jobs.Progress(j.ID); ok {
		if view.Percent < j.Percent {
			view.Percent = j.Percent
		}
		return view
	}

	view := progress.AggregatedProgress{
		JobID:     j.ID,
		Stage:     j.Stage,
		Phase:     pipeline.JobPhase(j),
		Percent:   j.Percent,
		Message:   j.ProgressMessage,
		UpdatedAt: j.UpdatedAt,
	}
	if j.Eta != nil {
		eta := j.Eta.Seconds()
		view.EtaSeconds = &eta
	}
	return view
}

// Severity classifies a log line by keyword.
func Severity(msg string) string {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "error"):
		return "error"
	case strings.Contains(m, "warn"):
		return "warning"
	default:
		return "info"
	}
}

// frameWriter writes SSE frames. Event ids are "<unix millis>-<counter>"; the
// counter continues from the id the client reconnected with.
type frameWriter struct {
	w   io.Writer
	rc  *http.ResponseController
	now func() time.Time
	seq uint64
}

func (f *frameWriter) nextID() string {
	f.seq++
	return strconv.FormatInt(f.now().UnixMilli(), 10) + "-" + strconv.FormatUint(f.seq, 10)
}

func (f *frameWriter) send(event string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(f.w, "id: %s\nevent: %s\ndata: %s\n\n", f.nextID(), event, body); err != nil {
		return err
	}
	if err := f.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

func parseEventSeq(id string) uint64 {
	id = strings.TrimSpace(id)
	if i := strings.LastIndexByte(id, '-'); i >= 0 {
		id = id[i+1:]
	}
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
