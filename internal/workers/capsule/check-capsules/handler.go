// internal/workers/capsule/check-capsules/handler.go
package checkcapsules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"capsule-notifier/internal/common/apns"
	apperrors "capsule-notifier/internal/common/errors"
	"capsule-notifier/internal/common/logger"
	"capsule-notifier/internal/common/metrics"
	"capsule-notifier/internal/common/observability"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	TaskType = "check-capsules"
)

var (
	ErrRunInProgress = errors.New("check-capsules run already in progress")
)

// Alerter notifies operators about a run that failed as a whole.
type Alerter interface {
	Alert(ctx context.Context, subject, message string) error
}

// Dependencies are the collaborators of a Handler. Claimer, Alerter and
// Observability are optional.
type Dependencies struct {
	Store         Store
	Tokens        apns.TokenSource
	Pusher        Pusher
	Claimer       Claimer
	Alerter       Alerter
	Observability *observability.Observability
}

type Handler struct {
	config       *Config
	scanner      *Scanner
	tokens       apns.TokenSource
	dispatcher   *Dispatcher
	alerter      Alerter
	obs          *observability.Observability
	logger       logger.Logger
	errorHandler *apperrors.ErrorHandler
	now          func() time.Time

	running atomic.Bool
}

func NewHandler(cfg *Config, deps Dependencies, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       cfg,
		scanner:      NewScanner(deps.Store, cfg.QueryTimeout),
		tokens:       deps.Tokens,
		dispatcher:   NewDispatcher(cfg, deps.Store, deps.Pusher, deps.Claimer, deps.Observability, log),
		alerter:      deps.Alerter,
		obs:          deps.Observability,
		logger:       log,
		errorHandler: apperrors.NewErrorHandler(log),
		now:          time.Now,
	}
}

// Execute runs one check: scan, authenticate once, dispatch, summarize.
// Only scan and token failures are returned as errors; per-capsule
// failures are counted in the output. A call made while another is still
// running returns ErrRunInProgress.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input == nil {
		input = &Input{}
	}
	trigger := input.Trigger
	if trigger == "" {
		trigger = TriggerHTTP
	}

	if !h.running.CompareAndSwap(false, true) {
		metrics.RunsTotal.WithLabelValues(trigger, "overlap").Inc()
		h.logger.Warn("run already in progress, ignoring trigger", map[string]interface{}{"trigger": trigger})
		return nil, ErrRunInProgress
	}
	defer h.running.Store(false)

	runID := uuid.NewString()
	start := time.Now()
	log := h.logger.WithFields(map[string]interface{}{
		"runId":   runID,
		"trigger": trigger,
	})

	ctx, span := h.obs.StartSpan(ctx, "check-capsules.run",
		attribute.String("run.id", runID),
		attribute.String("run.trigger", trigger),
	)
	defer span.End()
	if sc := span.SpanContext(); sc.IsValid() {
		log = log.WithFields(map[string]interface{}{"traceId": sc.TraceID().String()})
	}

	output, err := h.execute(ctx, runID, input, log)

	outcome := "ok"
	if err != nil {
		outcome = "fatal"
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.CodeOf(err)))
		log.Error("run failed", map[string]interface{}{
			"errorCode": string(apperrors.CodeOf(err)),
			"error":     err,
		})
		h.alert(ctx, runID, err, log)
	}

	elapsed := time.Since(start)
	metrics.RunsTotal.WithLabelValues(trigger, outcome).Inc()
	metrics.RunDuration.WithLabelValues(trigger).Observe(elapsed.Seconds())
	h.obs.RecordRun(ctx, outcome, elapsed)

	return output, err
}

func (h *Handler) execute(ctx context.Context, runID string, input *Input, log logger.Logger) (*Output, error) {
	if input.Limit < 0 {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("limit must not be negative, got %d", input.Limit))
	}
	limit := input.Limit
	if limit == 0 {
		limit = h.config.BatchLimit
	}

	capsules, err := h.scanner.Scan(ctx, h.now(), limit)
	if err != nil {
		return nil, err
	}
	metrics.CapsulesDue.Set(float64(len(capsules)))

	if len(capsules) == 0 {
		log.Info("no capsules to unlock", nil)
		return noCapsulesOutput(), nil
	}

	if input.DryRun {
		log.Info("dry run, not sending", map[string]interface{}{"count": len(capsules)})
		return dryRunOutput(len(capsules)), nil
	}

	// Authenticate once up front; a broken key must not be reported as N
	// per-capsule failures.
	if _, err := h.tokens.Token(ctx); err != nil {
		if apperrors.CodeOf(err) != apperrors.ErrCodeTokenSigningFailed {
			err = apperrors.NewTokenSigningFailedError(err)
		}
		return nil, err
	}

	log.Info("dispatching notifications", map[string]interface{}{"count": len(capsules)})
	results := h.dispatcher.Dispatch(ctx, runID, capsules)
	summary := Summarize(results)

	h.obs.RecordCapsules(ctx, string(StatusSent), summary.Success)
	h.obs.RecordCapsules(ctx, string(StatusFailed), summary.Failed)
	h.obs.RecordCapsules(ctx, string(StatusSkipped), summary.Skipped)

	log.Info("capsules processed", map[string]interface{}{
		"success": summary.Success,
		"failed":  summary.Failed,
		"skipped": summary.Skipped,
	})
	return summary.Output(), nil
}

func (h *Handler) alert(ctx context.Context, runID string, runErr error, log logger.Logger) {
	if h.alerter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	subject := fmt.Sprintf("capsule-notifier: %s", apperrors.CodeOf(runErr))
	message := fmt.Sprintf("run %s failed: %v", runID, runErr)
	if err := h.alerter.Alert(ctx, subject, message); err != nil {
		log.Warn("failed to publish alert", map[string]interface{}{"error": err})
	}
}

// Handle is the Zeebe job handler for the check-capsules service task.
func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := parseJobInput(job.Variables)
	if err != nil {
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return
	}
	input.Trigger = TriggerZeebe

	output, err := h.Execute(ctx, input)
	if errors.Is(err, ErrRunInProgress) {
		output, err = &Output{Message: MessageRunInProgress}, nil
	}
	if err != nil {
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
}

func parseJobInput(variables string) (*Input, error) {
	var input Input
	if strings.TrimSpace(variables) == "" {
		return &input, nil
	}
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("parse job variables: %v", err))
	}
	return &input, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
	}
}
