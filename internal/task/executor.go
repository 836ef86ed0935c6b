// Package task runs a work order: the AI operation first, then the token
// charge. The same Executor backs queue workers and the inline fallback.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/digiens-academy/sellibra-backend/internal/ai"
	"github.com/digiens-academy/sellibra-backend/internal/queue"
	"github.com/digiens-academy/sellibra-backend/internal/quota"
	"github.com/digiens-academy/sellibra-backend/pkg/models"
)

// Quota charges a user after the work is done.
type Quota interface {
	ConsumeTokens(ctx context.Context, userID uuid.UUID, amount int) (int, error)
}

// Artifacts removes the scratch files that belong to a work order.
type Artifacts interface {
	Remove(paths ...string)
}

// Result is what a finished work order returns, both as the job result and
// as the HTTP response payload.
type Result struct {
	Type            models.TaskType       `json:"type"`
	Provider        string                `json:"provider"`
	Image           *models.ImageResult   `json:"image,omitempty"`
	Content         *models.ContentResult `json:"content,omitempty"`
	TokensCharged   int                   `json:"tokens_charged"`
	TokensRemaining int                   `json:"tokens_remaining"`
}

type Executor struct {
	provider models.AIProvider
	quota    Quota
	logger   *slog.Logger
}

func NewExecutor(provider models.AIProvider, q Quota, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{provider: provider, quota: q, logger: logger}
}

// Execute validates the order, runs its AI operation and charges the user.
// Tokens are only consumed once the operation has succeeded; if the charge is
// refused the result is discarded.
func (e *Executor) Execute(ctx context.Context, order models.WorkOrder) (*Result, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}

	res := &Result{Type: order.Task.Type(), Provider: e.provider.Name()}
	var err error
	switch t := order.Task.(type) {
	case models.RemoveBackground:
		res.Image, err = image(e.provider.RemoveBackground(ctx, t))
	case models.TextToImage:
		res.Image, err = image(e.provider.TextToImage(ctx, t))
	case models.ImageToImage:
		res.Image, err = image(e.provider.ImageToImage(ctx, t))
	case models.GenerateMockup:
		res.Image, err = image(e.provider.GenerateMockup(ctx, t))
	case models.GenerateContent:
		var c models.ContentResult
		c, err = e.provider.GenerateContent(ctx, t)
		res.Content = &c
	default:
		return nil, fmt.Errorf("%w: unsupported task %T", models.ErrInvalidTask, order.Task)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", res.Type, err)
	}

	remaining, err := e.quota.ConsumeTokens(ctx, order.UserID, order.TokenCost)
	if err != nil {
		if errors.Is(err, quota.ErrUserNotFound) {
			e.logger.Error("work order for unknown user", "user_id", order.UserID, "type", res.Type)
		}
		return nil, fmt.Errorf("charging tokens: %w", err)
	}
	res.TokensCharged = order.TokenCost
	res.TokensRemaining = remaining
	return res, nil
}

func image(r models.ImageResult, err error) (*models.ImageResult, error) {
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// IsPermanent reports whether a failed execution would fail the same way if
// repeated.
func IsPermanent(err error) bool {
	return errors.Is(err, models.ErrInvalidTask) ||
		errors.Is(err, quota.ErrInsufficientQuota) ||
		errors.Is(err, quota.ErrUserNotFound) ||
		errors.Is(err, quota.ErrInvalidAmount) ||
		errors.Is(err, ai.ErrRejected) ||
		errors.Is(err, ai.ErrNotConfigured)
}

// Failure codes stored on a failed job so a waiter can rebuild the error the
// inline path would have returned.
const (
	CodeInvalidTask         = "invalid_task"
	CodeInsufficientTokens  = "insufficient_tokens"
	CodeUserNotFound        = "user_not_found"
	CodeInvalidAmount       = "invalid_amount"
	CodeNotConfigured       = "ai_not_configured"
	CodeRejected            = "ai_rejected"
	CodeInferenceTimeout    = "ai_inference_timeout"
	CodeProviderUnavailable = "ai_unavailable"
	CodeInvalidResponse     = "ai_invalid_response"
	CodeProviderQuota       = "ai_quota_exceeded"
)

var failureKinds = []struct {
	code string
	err  error
}{
	{CodeInvalidTask, models.ErrInvalidTask},
	{CodeInsufficientTokens, quota.ErrInsufficientQuota},
	{CodeUserNotFound, quota.ErrUserNotFound},
	{CodeInvalidAmount, quota.ErrInvalidAmount},
	{CodeNotConfigured, ai.ErrNotConfigured},
	{CodeRejected, ai.ErrRejected},
	{CodeInferenceTimeout, ai.ErrInferenceTimeout},
	{CodeProviderUnavailable, ai.ErrProviderUnavailable},
	{CodeInvalidResponse, ai.ErrInvalidResponse},
	{CodeProviderQuota, ai.ErrQuotaExceeded},
}

// FailureCode classifies an execution error, or returns "" for errors with
// no known kind.
func FailureCode(err error) string {
	for _, k := range failureKinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return ""
}

// RestoreFailure gives a *queue.JobFailedError back the error kind recorded
// in its code, so errors.Is matches the same sentinel as an inline run. The
// job failure stays in the chain. Other errors are returned unchanged.
func RestoreFailure(err error) error {
	var failed *queue.JobFailedError
	if !errors.As(err, &failed) || failed.Code == "" {
		return err
	}
	for _, k := range failureKinds {
		if k.code == failed.Code {
			return fmt.Errorf("%w: %w", k.err, err)
		}
	}
	return err
}

// Handler adapts the executor to a queue worker. Artifacts listed in the work
// order are removed once the job will not run again: on success, on a
// permanent error, or after the final attempt.
func (e *Executor) Handler(artifacts Artifacts) queue.Handler {
	return func(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
		var order models.WorkOrder
		if err := json.Unmarshal(job.Payload, &order); err != nil {
			return nil, queue.Permanent(fmt.Errorf("decoding work order: %w", err))
		}

		res, err := e.Execute(ctx, order)
		if err != nil {
			permanent := IsPermanent(err)
			err = queue.WithCode(FailureCode(err), err)
			if permanent || job.FinalAttempt() {
				artifacts.Remove(order.Artifacts...)
			}
			if permanent {
				return nil, queue.Permanent(err)
			}
			return nil, err
		}
		artifacts.Remove(order.Artifacts...)

		out, err := json.Marshal(res)
		if err != nil {
			return nil, queue.Permanent(fmt.Errorf("encoding result: %w", err))
		}
		return out, nil
	}
}
