package entity

import (
	"time"
)

type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusPaused    JobStatus = "paused"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
	StatusCanceled  JobStatus = "canceled"
)

// IsTerminal reports whether no further transition is possible without an explicit Retry.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsActive reports whether Percent is meaningful for the status.
func (s JobStatus) IsActive() bool {
	return s == StatusRunning || s == StatusPaused
}

// CanTransition enforces the lifecycle DAG. Failed -> Queued is the only edge
// out of a terminal state and exists for the caller-initiated Retry.
// Queued -> Failed covers jobs that could not be handed to a worker.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case StatusQueued:
		return to == StatusRunning || to == StatusCanceled || to == StatusFailed
	case StatusRunning:
		return to == StatusPaused || to == StatusSucceeded || to == StatusFailed || to == StatusCanceled
	case StatusPaused:
		return to == StatusRunning || to == StatusCanceled
	case StatusFailed:
		return to == StatusQueued
	default:
		return false
	}
}

type Brief struct {
	Topic    string `json:"topic" validate:"notblank"`
	Audience string `json:"audience,omitempty"`
	Goal     string `json:"goal,omitempty"`
	Tone     string `json:"tone,omitempty"`
	Language string `json:"language,omitempty"`
	Aspect   string `json:"aspect,omitempty"`
}

type PlanSpec struct {
	// TargetDuration is expressed in seconds.
	TargetDuration float64 `json:"targetDuration" validate:"gt=0"`
	Pacing         string  `json:"pacing,omitempty"`
	Density        string  `json:"density,omitempty"`
	Style          string  `json:"style,omitempty"`
}

type VoiceSpec struct {
	VoiceName string  `json:"voiceName,omitempty"`
	Rate      float64 `json:"rate,omitempty"`
	Pitch     float64 `json:"pitch,omitempty"`
	Pause     string  `json:"pause,omitempty"`
}

type RenderSpec struct {
	Resolution   string `json:"resolution,omitempty"`
	Container    string `json:"container,omitempty"`
	VideoBitrate int    `json:"videoBitrateKbps,omitempty"`
	AudioBitrate int    `json:"audioBitrateKbps,omitempty"`
	Fps          int    `json:"fps,omitempty"`
	Codec        string `json:"codec,omitempty"`
	QualityLevel int    `json:"qualityLevel,omitempty"`
}

// JobRequest is everything a caller supplies at creation. It is kept on the
// job so Retry can re-run with the original inputs.
type JobRequest struct {
	Brief      Brief      `json:"brief"`
	PlanSpec   PlanSpec   `json:"planSpec"`
	VoiceSpec  VoiceSpec  `json:"voiceSpec"`
	RenderSpec RenderSpec `json:"renderSpec"`
}

type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

type Artifact struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Type      string `json:"type"`
	SizeBytes int64  `json:"sizeBytes"`
}

type JobError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
}

type FailureDetails struct {
	Stage       string    `json:"stage"`
	Message     string    `json:"message"`
	Code        string    `json:"code"`
	Remediation string    `json:"remediation,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	// RequiresRestart makes the next Retry run the pipeline from its first stage.
	RequiresRestart bool `json:"requiresRestart,omitempty"`
}

type Job struct {
	ID              string          `json:"id"`
	Status          JobStatus       `json:"status"`
	Stage           string          `json:"stage"`
	Phase           string          `json:"phase,omitempty"`
	Percent         int             `json:"percent"`
	Eta             *time.Duration  `json:"eta,omitempty"`
	ProgressMessage string          `json:"progressMessage,omitempty"`
	Logs            []LogEntry      `json:"logs"`
	Artifacts       []Artifact      `json:"artifacts"`
	Errors          []JobError      `json:"errors"`
	CorrelationID   string          `json:"correlationId"`
	Request         JobRequest      `json:"request"`
	OutputPath      string          `json:"outputPath,omitempty"`
	RetryCount      int             `json:"retryCount"`
	FailureDetails  *FailureDetails `json:"failureDetails,omitempty"`

	// NextStage is the index of the pipeline stage the next worker resumes at.
	NextStage       int  `json:"nextStage"`
	PauseRequested  bool `json:"pauseRequested,omitempty"`
	CancelRequested bool `json:"cancelRequested,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`

	// Version increases by one on every committed store update.
	Version uint64 `json:"version"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Logs = append([]LogEntry(nil), j.Logs...)
	c.Artifacts = append([]Artifact(nil), j.Artifacts...)
	c.Errors = append([]JobError(nil), j.Errors...)
	if j.Eta != nil {
		eta := *j.Eta
		c.Eta = &eta
	}
	if j.FailureDetails != nil {
		fd := *j.FailureDetails
		c.FailureDetails = &fd
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// AppendLog appends one timestamped line.
func (j *Job) AppendLog(at time.Time, msg string) {
	j.Logs = append(j.Logs, LogEntry{Timestamp: at, Message: msg})
}

// TailLogs returns at most n of the newest log lines.
func (j *Job) TailLogs(n int) []LogEntry {
	if n <= 0 || len(j.Logs) <= n {
		return append([]LogEntry(nil), j.Logs...)
	}
	return append([]LogEntry(nil), j.Logs[len(j.Logs)-n:]...)
}

// SetPercent applies p while keeping the value non-decreasing and within 0..100.
func (j *Job) SetPercent(p int) {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	if p > j.Percent {
		j.Percent = p
	}
}
