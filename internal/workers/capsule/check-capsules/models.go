// internal/workers/capsule/check-capsules/models.go
package checkcapsules

import (
	"database/sql"

	apperrors "capsule-notifier/internal/common/errors"

	"github.com/google/uuid"
)

// Input is the optional invocation body.
type Input struct {
	Limit  int  `json:"limit,omitempty"`
	DryRun bool `json:"dryRun,omitempty"`

	// Trigger labels metrics and logs; set by the caller, never decoded.
	Trigger string `json:"-"`
}

// Output is the invocation response. Count is set when nothing was sent;
// Success and Failed are set after a dispatch.
type Output struct {
	Message string `json:"message"`
	Count   *int   `json:"count,omitempty"`
	Success *int   `json:"success,omitempty"`
	Failed  *int   `json:"failed,omitempty"`
	Skipped int    `json:"skipped,omitempty"`
}

const (
	MessageNoCapsules    = "No capsules to unlock"
	MessageProcessed     = "Capsules processed"
	MessageDryRun        = "Dry run"
	MessageRunInProgress = "Run already in progress"
)

// Triggers
const (
	TriggerHTTP      = "http"
	TriggerScheduler = "scheduler"
	TriggerZeebe     = "zeebe"
	TriggerCLI       = "cli"
)

// DueCapsule is the projection of a capsule whose unlock time has passed
// and whose notification is still pending.
type DueCapsule struct {
	ID          uuid.UUID
	Title       sql.NullString
	RecipientID uuid.NullUUID
	CreatedBy   uuid.NullUUID
}

type Profile struct {
	Username  sql.NullString
	APNsToken sql.NullString
}

type ResultStatus string

// Statuses
const (
	StatusSent    ResultStatus = "sent"
	StatusFailed  ResultStatus = "failed"
	StatusSkipped ResultStatus = "skipped"
)

// Result is the outcome of dispatching one capsule.
type Result struct {
	CapsuleID string
	Status    ResultStatus
	Code      apperrors.ErrorCode
	Err       error
}

type Summary struct {
	Success int
	Failed  int
	Skipped int
}

func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		switch r.Status {
		case StatusSent:
			s.Success++
		case StatusSkipped:
			s.Skipped++
		default:
			s.Failed++
		}
	}
	return s
}

func (s Summary) Output() *Output {
	success, failed := s.Success, s.Failed
	return &Output{
		Message: MessageProcessed,
		Success: &success,
		Failed:  &failed,
		Skipped: s.Skipped,
	}
}

func noCapsulesOutput() *Output {
	count := 0
	return &Output{Message: MessageNoCapsules, Count: &count}
}

func dryRunOutput(n int) *Output {
	return &Output{Message: MessageDryRun, Count: &n}
}
