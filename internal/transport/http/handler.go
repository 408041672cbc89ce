package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"video-job-orchestrator/internal/cancellation"
	"video-job-orchestrator/internal/entity"
	"video-job-orchestrator/internal/pipeline"
	"video-job-orchestrator/internal/progress"
	"video-job-orchestrator/internal/service"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// JobService is the Job Runner surface the API drives.
type JobService interface {
	CreateAndStart(ctx context.Context, req service.CreateRequest) (*entity.Job, error)
	Get(id string) (*entity.Job, error)
	List(limit int) []*entity.Job
	Progress(id string) (progress.AggregatedProgress, bool)
	Pause(id string) (bool, error)
	Resume(ctx context.Context, id string) (bool, error)
	Cancel(id string) (cancellation.Result, error)
	Retry(ctx context.Context, id string) (*entity.Job, error)
}

// EventStreamer serves the per-job event stream.
type EventStreamer interface {
	ServeJob(w http.ResponseWriter, r *http.Request, jobID string)
}

type Handler struct {
	jobs   JobService
	stream EventStreamer
}

func NewHandler(jobs JobService, stream EventStreamer) *Handler {
	return &Handler{jobs: jobs, stream: stream}
}

type createJobDTO struct {
	Brief         entity.Brief      `json:"brief"`
	PlanSpec      entity.PlanSpec   `json:"planSpec"`
	VoiceSpec     entity.VoiceSpec  `json:"voiceSpec"`
	RenderSpec    entity.RenderSpec `json:"renderSpec"`
	CorrelationID string            `json:"correlationId,omitempty"`
}

type createResp struct {
	JobID         string           `json:"jobId"`
	Status        entity.JobStatus `json:"status"`
	Stage         string           `json:"stage"`
	CorrelationID string           `json:"correlationId"`
}

type jobResp struct {
	ID              string                 `json:"id"`
	Status          entity.JobStatus       `json:"status"`
	Stage           string                 `json:"stage"`
	Phase           pipeline.Phase         `json:"phase"`
	Percent         int                    `json:"percent"`
	EtaSeconds      *float64               `json:"etaSeconds,omitempty"`
	ProgressMessage string                 `json:"progressMessage,omitempty"`
	ErrorMessage    string                 `json:"errorMessage,omitempty"`
	CorrelationID   string                 `json:"correlationId"`
	RetryCount      int                    `json:"retryCount"`
	PauseRequested  bool                   `json:"pauseRequested"`
	CancelRequested bool                   `json:"cancelRequested"`
	OutputPath      string                 `json:"outputPath,omitempty"`
	Request         entity.JobRequest      `json:"request"`
	Artifacts       []entity.Artifact      `json:"artifacts"`
	Errors          []entity.JobError      `json:"errors"`
	FailureDetails  *entity.FailureDetails `json:"failureDetails,omitempty"`
	Logs            []entity.LogEntry      `json:"logs,omitempty"`
	CreatedAt       string                 `json:"createdAt"`
	StartedAt       string                 `json:"startedAt,omitempty"`
	CompletedAt     string                 `json:"completedAt,omitempty"`
	UpdatedAt       string                 `json:"updatedAt"`
}

type listJobsResp struct {
	Jobs  []jobResp `json:"jobs"`
	Count int       `json:"count"`
}

type controlResp struct {
	JobID  string           `json:"jobId"`
	Status entity.JobStatus `json:"status"`
}

func toJobResp(j *entity.Job, withLogs bool) jobResp {
	resp := jobResp{
		ID:              j.ID,
		Status:          j.Status,
		Stage:           j.Stage,
		Phase:           pipeline.JobPhase(j),
		Percent:         j.Percent,
		ProgressMessage: j.ProgressMessage,
		CorrelationID:   j.CorrelationID,
		RetryCount:      j.RetryCount,
		PauseRequested:  j.PauseRequested,
		CancelRequested: j.CancelRequested,
		OutputPath:      j.OutputPath,
		Request:         j.Request,
		Artifacts:       j.Artifacts,
		Errors:          j.Errors,
		FailureDetails:  j.FailureDetails,
		CreatedAt:       j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       j.UpdatedAt.Format(time.RFC3339),
	}
	switch {
	case j.FailureDetails != nil:
		resp.ErrorMessage = j.FailureDetails.Message
	case len(j.Errors) > 0:
		resp.ErrorMessage = j.Errors[len(j.Errors)-1].Message
	}
	if resp.Artifacts == nil {
		resp.Artifacts = []entity.Artifact{}
	}
	if resp.Errors == nil {
		resp.Errors = []entity.JobError{}
	}
	if j.Eta != nil {
		eta := j.Eta.Seconds()
		resp.EtaSeconds = &eta
	}
	if j.StartedAt != nil {
		resp.StartedAt = j.StartedAt.Format(time.RFC3339)
	}
	if j.CompletedAt != nil {
		resp.CompletedAt = j.CompletedAt.Format(time.RFC3339)
	}
	if withLogs {
		resp.Logs = j.Logs
	}
	return resp
}

// jobID returns the path id, or writes a 400 if it isn't a uuid.
func jobID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, entity.CodeInvalidID, "invalid id")
		return "", false
	}
	return id.String(), true
}

// CreateJob godoc
// @Summary Create a video job
// @Description Validates the request, registers a queued job and starts the pipeline in the background.
// @Tags jobs
// @Accept json
// @Produce json
// @Param X-Correlation-ID header string false "correlation id"
// @Param request body createJobDTO true "brief, plan, voice and render specs"
// @Success 202 {object} createResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /jobs [post]
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var dto createJobDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, r, http.StatusBadRequest, entity.CodeValidation, "invalid json")
		return
	}

	corrID := dto.CorrelationID
	if corrID == "" {
		corrID = CorrelationID(r.Context())
	}

	job, err := h.jobs.CreateAndStart(r.Context(), service.CreateRequest{
		JobRequest: entity.JobRequest{
			Brief:      dto.Brief,
			PlanSpec:   dto.PlanSpec,
			VoiceSpec:  dto.VoiceSpec,
			RenderSpec: dto.RenderSpec,
		},
		CorrelationID: corrID,
	})
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}

	w.Header().Set("Location", "/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, createResp{
		JobID:         job.ID,
		Status:        job.Status,
		Stage:         job.Stage,
		CorrelationID: job.CorrelationID,
	})
}

// ListJobs godoc
// @Summary List recent jobs
// @Tags jobs
// @Produce json
// @Param limit query int false "max jobs (default 20, max 200)"
// @Success 200 {object} listJobsResp
// @Failure 400 {object} apiError
// @Router /jobs [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeErr(w, r, http.StatusBadRequest, entity.CodeValidation, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	jobs := h.jobs.List(limit)
	resp := listJobsResp{Jobs: make([]jobResp, 0, len(jobs)), Count: len(jobs)}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResp(j, false))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob godoc
// @Summary Get job by id
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} jobResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	j, err := h.jobs.Get(id)
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResp(j, true))
}

// GetProgress godoc
// @Summary Get aggregated progress
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} progress.AggregatedProgress
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id}/progress [get]
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	j, err := h.jobs.Get(id)
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}

	view, found := h.jobs.Progress(id)
	if !found {
		view = progress.AggregatedProgress{
			JobID:     j.ID,
			Stage:     j.Stage,
			Phase:     pipeline.JobPhase(j),
			Percent:   j.Percent,
			Message:   j.ProgressMessage,
			UpdatedAt: j.UpdatedAt,
		}
	}
	writeJSON(w, http.StatusOK, view)
}

// StreamEvents godoc
// @Summary Stream job events (SSE)
// @Description Sends a full job-status snapshot, then status, step, progress and log events, heartbeats, and one terminal event.
// @Tags jobs
// @Produce text/event-stream
// @Param id path string true "job id (uuid)"
// @Param Last-Event-ID header string false "last event id seen"
// @Param lastEventId query string false "last event id seen"
// @Success 200 {string} string
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id}/events [get]
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	if _, err := h.jobs.Get(id); err != nil {
		writeServiceErr(w, r, err)
		return
	}
	h.stream.ServeJob(w, r, id)
}

// CancelJob godoc
// @Summary Cancel a job
// @Description Best-effort: providers that cannot stop are reported with a warning. Repeated calls report no action needed.
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} cancellation.Result
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id}/cancel [post]
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	res, err := h.jobs.Cancel(id)
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PauseJob godoc
// @Summary Pause a running job at the next stage boundary
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 202 {object} controlResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id}/pause [post]
func (h *Handler) PauseJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	accepted, err := h.jobs.Pause(id)
	h.writeControl(w, r, id, accepted, err, "job is not running")
}

// ResumeJob godoc
// @Summary Resume a paused job
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 202 {object} controlResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id}/resume [post]
func (h *Handler) ResumeJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	accepted, err := h.jobs.Resume(r.Context(), id)
	h.writeControl(w, r, id, accepted, err, "job is not paused")
}

func (h *Handler) writeControl(w http.ResponseWriter, r *http.Request, id string, accepted bool, err error, rejected string) {
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	if !accepted {
		writeErr(w, r, http.StatusConflict, entity.CodeInvalidState, rejected)
		return
	}

	j, err := h.jobs.Get(id)
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, controlResp{JobID: id, Status: j.Status})
}

// RetryJob godoc
// @Summary Retry a failed job
// @Description Resumes at the failed stage. Refused past the retry ceiling or inside the cool-down window (Retry-After is set).
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 202 {object} jobResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id}/retry [post]
func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	j, err := h.jobs.Retry(r.Context(), id)
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toJobResp(j, false))
}
