package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/insiderwatch/internal/pipeline"
)

// JobTrigger queues a job run on the scheduler.
type JobTrigger interface {
	Trigger(name string) error
	Jobs() []string
}

// JobsHandler serves job endpoints.
type JobsHandler struct {
	trigger JobTrigger
	logger  *slog.Logger
}

// NewJobsHandler creates a JobsHandler. trigger is nil when no scheduler
// runs in this process.
func NewJobsHandler(trigger JobTrigger, logger *slog.Logger) *JobsHandler {
	return &JobsHandler{trigger: trigger, logger: logger}
}

// ListJobs returns the registered job names.
// GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := []string{}
	if h.trigger != nil {
		jobs = append(jobs, h.trigger.Jobs()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// TriggerJob asks the scheduler to run a job now.
// POST /api/jobs/{name}/trigger
func (h *JobsHandler) TriggerJob(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not running in this process")
		return
	}
	name := r.PathValue("name")
	if err := h.trigger.Trigger(name); err != nil {
		if errors.Is(err, pipeline.ErrUnknownJob) {
			writeError(w, http.StatusNotFound, "unknown job")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to trigger job")
		return
	}
	h.logger.InfoContext(r.Context(), "job trigger requested", slog.String("job", name))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"job":          name,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
