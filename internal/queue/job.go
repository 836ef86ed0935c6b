// Package queue is a durable job queue with per-category workers, retries
// with exponential backoff, and completion notification for waiters.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrQueueUnavailable = errors.New("queue unavailable")
	ErrJobFailed        = errors.New("job failed")
	ErrWaitTimeout      = errors.New("timed out waiting for job")
	ErrJobNotFound      = errors.New("job not found")
	ErrNoJob            = errors.New("no job available")
	ErrLeaseLost        = errors.New("job lease lost")
)

type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 2 * time.Second
	DefaultTimeout     = 60 * time.Second
)

// Retention bounds how long finished jobs stay readable.
type Retention struct {
	CompletedTTL  time.Duration
	CompletedKeep int
	FailedTTL     time.Duration
}

var DefaultRetention = Retention{
	CompletedTTL:  24 * time.Hour,
	CompletedKeep: 1000,
	FailedTTL:     7 * 24 * time.Hour,
}

type Job struct {
	ID            string          `json:"id"`
	Queue         string          `json:"queue"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	AttemptsMade  int             `json:"attempts_made"`
	MaxAttempts   int             `json:"max_attempts"`
	Timeout       time.Duration   `json:"-"`
	Backoff       time.Duration   `json:"-"`
	State         State           `json:"state"`
	Result        json.RawMessage `json:"result,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	FailureCode   string          `json:"failure_code,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	FinishedAt    time.Time       `json:"finished_at,omitzero"`
}

// FinalAttempt reports whether a failure of the current attempt is terminal.
func (j *Job) FinalAttempt() bool {
	return j.AttemptsMade >= j.MaxAttempts
}

func (j *Job) clone() *Job {
	c := *j
	return &c
}

// JobFailedError is returned by Await when the job exhausted its attempts.
type JobFailedError struct {
	JobID    string
	Queue    string
	Reason   string
	Code     string
	Attempts int
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s on %s failed after %d attempt(s): %s", e.JobID, e.Queue, e.Attempts, e.Reason)
}

func (e *JobFailedError) Unwrap() error { return ErrJobFailed }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type codedError struct {
	code string
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

// WithCode tags err with a failure code that is stored on the job when the
// attempt fails terminally, so waiters can tell failure kinds apart.
func WithCode(code string, err error) error {
	if err == nil || code == "" {
		return err
	}
	return &codedError{code: code, err: err}
}

// FailureCode returns the code attached with WithCode, or "".
func FailureCode(err error) string {
	var c *codedError
	if errors.As(err, &c) {
		return c.code
	}
	return ""
}

// backoffFor returns the delay before the retry that follows attempt
// number attempt (1-based): base, 2*base, 4*base, ...
func backoffFor(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		attempt = 16
	}
	return base << (attempt - 1)
}
