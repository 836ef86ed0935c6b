package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/digiens-academy/sellibra-backend/internal/api/response"
	"github.com/digiens-academy/sellibra-backend/internal/queue"
	"github.com/digiens-academy/sellibra-backend/internal/task"
	"github.com/digiens-academy/sellibra-backend/pkg/models"
)

type Queues interface {
	Queue(name string) (*queue.Queue, error)
}

type jobView struct {
	ID            string      `json:"id"`
	Queue         string      `json:"queue"`
	State         queue.State `json:"state"`
	Attempts      int         `json:"attempts"`
	Result        *aiResponse `json:"result,omitempty"`
	FailureReason string      `json:"failure_reason,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	FinishedAt    *time.Time  `json:"finished_at,omitempty"`
}

// NewJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{queue}/{jobID}.
// It lets a client pick up a result after TOOK_TOO_LONG. Jobs belonging to
// other users are reported as not found.
func NewJobHandler(queues Queues) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userFrom(w, r)
		if !ok {
			return
		}

		q, err := queues.Queue(chi.URLParam(r, "queue"))
		if err != nil {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Job not found", nil)
			return
		}
		job, err := q.Get(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			if errors.Is(err, queue.ErrJobNotFound) {
				response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Job not found", nil)
				return
			}
			slog.Error("read job failed", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read job", nil)
			return
		}

		var order models.WorkOrder
		if err := json.Unmarshal(job.Payload, &order); err != nil || order.UserID != userID {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Job not found", nil)
			return
		}

		view := jobView{
			ID:        job.ID,
			Queue:     job.Queue,
			State:     job.State,
			Attempts:  job.AttemptsMade,
			CreatedAt: job.CreatedAt,
		}
		if !job.FinishedAt.IsZero() {
			view.FinishedAt = &job.FinishedAt
		}
		switch job.State {
		case queue.StateCompleted:
			var res task.Result
			if err := json.Unmarshal(job.Result, &res); err != nil {
				slog.Error("decode job result failed", "job_id", job.ID, "error", err)
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read job", nil)
				return
			}
			out := newAIResponse(&res)
			view.Result = &out
		case queue.StateFailed:
			view.FailureReason = job.FailureReason
		default:
			response.Accepted(w, view)
			return
		}
		response.JSON(w, view)
	}
}
