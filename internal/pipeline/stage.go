package pipeline

import (
	"context"

	"video-job-orchestrator/internal/entity"
)

// ProviderInfo describes the backend a stage delegates to.
type ProviderInfo struct {
	Name                 string
	Type                 string
	SupportsCancellation bool
}

// Update is one incremental progress report from a running stage.
type Update struct {
	Percent        float64
	Message        string
	SubstageDetail string
	CurrentItem    int
	TotalItems     int
}

type ProgressFunc func(u Update)

// Input is the accumulated job context handed to a stage.
type Input struct {
	JobID         string
	CorrelationID string
	Request       entity.JobRequest
	Artifacts     []entity.Artifact
	Attempt       int
}

// Stage is implemented by every pipeline step. Run must return promptly once
// ctx is cancelled if the provider supports cancellation, and should call
// report at least once per meaningful unit of work.
//
// Errors are classified by type: *entity.TransientError is retried inside the
// stage, *entity.UnrecoverableError and anything else fail the job.
type Stage interface {
	Name() string
	Phase() Phase
	Provider() ProviderInfo
	Run(ctx context.Context, in Input, report ProgressFunc) ([]entity.Artifact, error)
}
