// internal/workers/capsule/check-capsules/dispatcher.go
package checkcapsules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"capsule-notifier/internal/common/apns"
	apperrors "capsule-notifier/internal/common/errors"
	"capsule-notifier/internal/common/logger"
	"capsule-notifier/internal/common/metrics"
	"capsule-notifier/internal/common/observability"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Pusher delivers one notification to one device.
type Pusher interface {
	Send(ctx context.Context, deviceToken string, n apns.Notification) (*apns.Response, error)
}

// Dispatcher notifies the recipient of each due capsule. A failure on one
// capsule never stops the others.
type Dispatcher struct {
	config  *Config
	store   Store
	pusher  Pusher
	claimer Claimer
	obs     *observability.Observability
	logger  logger.Logger
}

func NewDispatcher(cfg *Config, store Store, pusher Pusher, claimer Claimer, obs *observability.Observability, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		config:  cfg,
		store:   store,
		pusher:  pusher,
		claimer: claimer,
		obs:     obs,
		logger:  log,
	}
}

// Dispatch processes capsules with at most config.Concurrency in flight and
// returns one Result per capsule, in input order.
func (d *Dispatcher) Dispatch(ctx context.Context, runID string, capsules []DueCapsule) []Result {
	results := make([]Result, len(capsules))

	workers := d.config.Concurrency
	if workers < 1 {
		workers = 1
	}
	p := pool.New().WithMaxGoroutines(workers)
	for i, capsule := range capsules {
		i, capsule := i, capsule
		p.Go(func() {
			results[i] = d.dispatchOne(ctx, runID, capsule)
		})
	}
	p.Wait()

	return results
}

func (d *Dispatcher) dispatchOne(ctx context.Context, runID string, capsule DueCapsule) Result {
	capsuleID := capsule.ID.String()
	log := d.logger.WithFields(map[string]interface{}{"capsuleId": capsuleID})

	if d.config.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.ItemTimeout)
		defer cancel()
	}
	ctx, span := d.obs.StartSpan(ctx, "check-capsules.dispatch", attribute.String("capsule.id", capsuleID))
	defer span.End()

	result := d.deliver(ctx, runID, capsule, log)

	span.SetAttributes(attribute.String("capsule.status", string(result.Status)))
	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, string(result.Code))
	}
	metrics.CapsulesProcessed.WithLabelValues(string(result.Status), string(result.Code)).Inc()
	return result
}

func (d *Dispatcher) deliver(ctx context.Context, runID string, capsule DueCapsule, log logger.Logger) Result {
	capsuleID := capsule.ID.String()

	if d.claimer != nil {
		claimed, err := d.claimer.Claim(ctx, capsuleID, runID)
		if err != nil {
			return d.fail(capsuleID, apperrors.NewCapsuleClaimFailedError(capsuleID, err), log)
		}
		if !claimed {
			log.Info("capsule claimed by another run, skipping", nil)
			return Result{CapsuleID: capsuleID, Status: StatusSkipped}
		}
	}

	result := d.send(ctx, capsule, log)
	if result.Status == StatusFailed && d.claimer != nil {
		d.release(ctx, capsuleID, log)
	}
	return result
}

func (d *Dispatcher) send(ctx context.Context, capsule DueCapsule, log logger.Logger) Result {
	capsuleID := capsule.ID.String()

	if !capsule.RecipientID.Valid {
		return d.fail(capsuleID, apperrors.NewDeviceTokenMissingError(""), log)
	}
	recipientID := capsule.RecipientID.UUID.String()

	profile, err := d.store.Profile(ctx, capsule.RecipientID.UUID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return d.fail(capsuleID, apperrors.NewDeviceTokenMissingError(recipientID), log)
	case err != nil:
		return d.fail(capsuleID, apperrors.NewProfileLookupFailedError(recipientID, err), log)
	}

	deviceToken := strings.TrimSpace(profile.APNsToken.String)
	if !profile.APNsToken.Valid || deviceToken == "" {
		return d.fail(capsuleID, apperrors.NewDeviceTokenMissingError(recipientID), log)
	}

	notification := d.buildNotification(capsule, d.senderName(ctx, capsule.CreatedBy, log))

	start := time.Now()
	resp, err := d.pusher.Send(ctx, deviceToken, notification)
	if err != nil {
		return d.fail(capsuleID, err, log.WithFields(map[string]interface{}{
			"deviceToken": logger.TokenPrefix(deviceToken),
		}))
	}

	marked, err := d.store.MarkNotified(ctx, capsule.ID)
	if err != nil {
		return d.fail(capsuleID, apperrors.NewMarkNotifiedFailedError(capsuleID, err), log)
	}
	if !marked {
		log.Warn("capsule was already marked notified", nil)
	}

	log.Info("notification sent", map[string]interface{}{
		"deviceToken": logger.TokenPrefix(deviceToken),
		"apnsId":      resp.APNsID,
		"durationMs":  time.Since(start).Milliseconds(),
	})
	return Result{CapsuleID: capsuleID, Status: StatusSent}
}

// senderName never fails the capsule; any problem falls back to the placeholder.
func (d *Dispatcher) senderName(ctx context.Context, createdBy uuid.NullUUID, log logger.Logger) string {
	if !createdBy.Valid {
		return d.config.DefaultSenderName
	}

	profile, err := d.store.Profile(ctx, createdBy.UUID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Debug("sender lookup failed, using placeholder", map[string]interface{}{"error": err})
		}
		return d.config.DefaultSenderName
	}

	name := strings.TrimSpace(profile.Username.String)
	if name == "" {
		return d.config.DefaultSenderName
	}
	return name
}

func (d *Dispatcher) buildNotification(capsule DueCapsule, sender string) apns.Notification {
	body := strings.TrimSpace(capsule.Title.String)
	if body == "" {
		body = d.config.DefaultBody
	}

	return apns.Notification{
		APS: apns.APS{
			Alert: apns.Alert{
				Title: renderTemplate(d.config.TitleTemplate, map[string]interface{}{"sender": sender}),
				Body:  body,
			},
			Sound:          d.config.Sound,
			Badge:          d.config.Badge,
			MutableContent: 1,
		},
		Data: map[string]interface{}{
			"capsule_id": capsule.ID.String(),
		},
	}
}

func (d *Dispatcher) fail(capsuleID string, err error, log logger.Logger) Result {
	code := apperrors.CodeOf(err)
	fields := map[string]interface{}{
		"errorCode": string(code),
		"error":     err,
	}
	var stdErr *apperrors.StandardError
	if errors.As(err, &stdErr) {
		for k, v := range stdErr.Metadata {
			fields[k] = v
		}
	}
	log.Warn("capsule notification failed", fields)

	return Result{CapsuleID: capsuleID, Status: StatusFailed, Code: code, Err: err}
}

func (d *Dispatcher) release(ctx context.Context, capsuleID string, log logger.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := d.claimer.Release(ctx, capsuleID); err != nil {
		log.Warn("failed to release capsule claim", map[string]interface{}{"error": err})
	}
}

// renderTemplate replaces {{key}} placeholders in a single pass over tmpl;
// unknown placeholders are removed. Substituted values are never rescanned,
// so braces inside a username survive.
func renderTemplate(tmpl string, data map[string]interface{}) string {
	var b strings.Builder
	rest := tmpl
	for {
		start := strings.Index(rest, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end == -1 {
			break
		}
		b.WriteString(rest[:start])
		key := rest[start+2 : start+end]
		if v, ok := data[key]; ok && v != nil {
			b.WriteString(fmt.Sprintf("%v", v))
		}
		rest = rest[start+end+2:]
	}
	b.WriteString(rest)
	return b.String()
}
