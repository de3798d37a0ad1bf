// Package services – SyncService
//
// This file implements the offline queue and its reconciliation flush.
// Enqueue is local and always succeeds: the action lands in a durable sqlite
// row with a monotonically increasing sequence number and the idempotency key
// fixed at enqueue time. Flush replays pending actions in sequence order
// (which preserves per-regimen submission order), retries transient failures
// with bounded exponential backoff, and classifies permanent rejections into
// structured reasons the caregiver must acknowledge. Nothing is silently
// dropped and nothing is silently force-applied.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kjanat/vet-med-tracker-sub009/internal/domain"
	"github.com/kjanat/vet-med-tracker-sub009/internal/observability"
	"github.com/kjanat/vet-med-tracker-sub009/internal/repo"
)

// SyncService owns the offline action queue.
type SyncService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// Recorder applies record/bulk/undo actions.
	Recorder *RecordingService
	// CoSigner applies cosign actions.
	CoSigner *CoSignService

	// MaxAttempts bounds retries per action within one flush. Zero means 3.
	MaxAttempts uint64
	// BaseBackoff is the initial retry interval. Zero means 100ms.
	BaseBackoff time.Duration

	// Now overrides the clock for tests. Defaults to time.Now.
	Now func() time.Time

	// flushing guards against re-entrant flushes: the flush is sequential per
	// process, a second caller observes ErrFlushInProgress.
	flushing atomic.Bool
}

func (s *SyncService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// EnqueueInput is an offline-buffered request.
type EnqueueInput struct {
	DeviceID       string
	Kind           domain.ActionKind
	Payload        json.RawMessage
	IdempotencyKey string
	ClientQueuedAt time.Time
}

// RecordActionPayload is the payload of record/bulk queued actions. Bulk
// actions carry AnimalIDs; single ones carry AnimalID.
type RecordActionPayload struct {
	RegimenID   string   `json:"regimen_id"`
	AnimalID    string   `json:"animal_id,omitempty"`
	AnimalIDs   []string `json:"animal_ids,omitempty"`
	HouseholdID string   `json:"household_id"`
	CaregiverID string   `json:"caregiver_id"`

	ScheduledFor     *time.Time `json:"scheduled_for,omitempty"`
	ClientRecordedAt *time.Time `json:"client_recorded_at,omitempty"`

	InventorySourceID *string `json:"inventory_source_id,omitempty"`
	AllowOverride     bool    `json:"allow_override,omitempty"`
	OverrideReason    string  `json:"override_reason,omitempty"`

	Notes string `json:"notes,omitempty"`
	Skip  bool   `json:"skip,omitempty"`
}

// ResolveActionPayload is the payload of cosign/undo queued actions.
type ResolveActionPayload struct {
	AdministrationID string `json:"administration_id"`
	HouseholdID      string `json:"household_id"`
	CaregiverID      string `json:"caregiver_id"`
}

// Enqueue appends an action to the durable queue. It never blocks on the
// network and re-enqueueing an already queued key is not an error: the
// existing row is returned, so client retry loops stay idempotent end to end.
func (s *SyncService) Enqueue(ctx context.Context, in EnqueueInput) (*domain.QueuedAction, error) {
	tr := otel.Tracer("services/SyncService")
	ctx, span := tr.Start(ctx, "Enqueue",
		trace.WithAttributes(
			attribute.String("device.id", in.DeviceID),
			attribute.String("action.kind", string(in.Kind)),
		),
	)
	defer span.End()

	if in.IdempotencyKey == "" {
		return nil, ErrMissingIdempotencyKey
	}
	switch in.Kind {
	case domain.ActionRecord, domain.ActionBulk, domain.ActionCoSign, domain.ActionUndo:
	default:
		return nil, ErrUnknownActionKind
	}

	queuedAt := in.ClientQueuedAt
	if queuedAt.IsZero() {
		queuedAt = s.now()
	}
	a := &domain.QueuedAction{
		DeviceID:       in.DeviceID,
		Kind:           in.Kind,
		Payload:        string(in.Payload),
		IdempotencyKey: in.IdempotencyKey,
		ClientQueuedAt: queuedAt,
		Status:         domain.QueuePending,
	}
	if err := repo.EnqueueAction(ctx, s.DB, a); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return repo.GetQueuedActionByKey(ctx, s.DB, in.IdempotencyKey)
		}
		return nil, err
	}
	return a, nil
}

// AppliedAction reports one successfully replayed queue entry.
type AppliedAction struct {
	Seq            uint64 `json:"seq"`
	IdempotencyKey string `json:"idempotency_key"`
	Replayed       bool   `json:"replayed,omitempty"`
}

// RejectedAction reports one permanently rejected queue entry. It stays in
// the queue until acknowledged.
type RejectedAction struct {
	Seq            uint64 `json:"seq"`
	IdempotencyKey string `json:"idempotency_key"`
	Reason         string `json:"reason"`
}

// FlushResult is the outcome of one flush pass.
type FlushResult struct {
	Applied  []AppliedAction  `json:"applied"`
	Rejected []RejectedAction `json:"rejected"`

	// Deferred counts actions left pending because transient failures
	// exhausted this flush's retry budget. They stay queued for the next
	// flush; later actions are not reordered past them.
	Deferred int `json:"deferred"`
}

// Flush replays the device's pending actions in enqueue order. Only one flush
// runs at a time; a concurrent caller gets ErrFlushInProgress and should wait.
//
// Transient failures retry with bounded exponential backoff; when the budget
// is exhausted the flush stops so later actions cannot jump the queue.
// Permanent rejections (discontinued regimen, exhausted inventory, validation)
// move the action to rejected with a structured reason and processing
// continues with the next action.
func (s *SyncService) Flush(ctx context.Context, deviceID string) (*FlushResult, error) {
	tr := otel.Tracer("services/SyncService")
	ctx, span := tr.Start(ctx, "Flush",
		trace.WithAttributes(attribute.String("device.id", deviceID)),
	)
	defer span.End()

	if !s.flushing.CompareAndSwap(false, true) {
		return nil, ErrFlushInProgress
	}
	defer s.flushing.Store(false)

	pending, err := repo.ListPendingActions(ctx, s.DB, deviceID)
	if err != nil {
		return nil, err
	}

	out := &FlushResult{
		Applied:  make([]AppliedAction, 0, len(pending)),
		Rejected: make([]RejectedAction, 0),
	}
	for i := range pending {
		action := &pending[i]
		replayed, applyErr := s.applyWithRetry(ctx, action)
		switch {
		case applyErr == nil:
			if delErr := repo.DeleteAction(ctx, s.DB, deviceID, action.Seq); delErr != nil {
				return out, delErr
			}
			observability.CountFlushAction("applied")
			out.Applied = append(out.Applied, AppliedAction{
				Seq:            action.Seq,
				IdempotencyKey: action.IdempotencyKey,
				Replayed:       replayed,
			})

		case IsPermanent(applyErr):
			reason := ReasonForError(applyErr)
			if rejErr := repo.MarkActionRejected(ctx, s.DB, action.Seq, reason, action.Attempts+1); rejErr != nil {
				return out, rejErr
			}
			observability.CountFlushAction("rejected")
			log.Warn().
				Uint64("seq", action.Seq).
				Str("idempotency_key", action.IdempotencyKey).
				Str("reason", reason).
				Msg("queued action rejected")
			out.Rejected = append(out.Rejected, RejectedAction{
				Seq:            action.Seq,
				IdempotencyKey: action.IdempotencyKey,
				Reason:         reason,
			})

		default:
			// Transient budget exhausted: leave this and everything after it
			// pending so replay order is preserved on the next flush.
			_ = repo.UpdateActionAttempts(ctx, s.DB, action.Seq, action.Attempts+1)
			observability.CountFlushAction("deferred")
			out.Deferred = len(pending) - i
			return out, nil
		}
	}
	return out, nil
}

// applyWithRetry runs one action with bounded exponential backoff. Permanent
// errors abort the retry loop immediately.
func (s *SyncService) applyWithRetry(ctx context.Context, action *domain.QueuedAction) (bool, error) {
	maxAttempts := s.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	base := s.BaseBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = base
	bo := backoff.WithContext(backoff.WithMaxRetries(expo, maxAttempts-1), ctx)

	var replayed bool
	err := backoff.Retry(func() error {
		r, applyErr := s.apply(ctx, action)
		if applyErr != nil {
			if IsPermanent(applyErr) {
				return backoff.Permanent(applyErr)
			}
			return applyErr
		}
		replayed = r
		return nil
	}, bo)
	return replayed, err
}

// apply dispatches one queued action to the owning service. The action's own
// idempotency key travels with it, so an action that already reached the
// server directly collapses into a replay here.
func (s *SyncService) apply(ctx context.Context, action *domain.QueuedAction) (bool, error) {
	switch action.Kind {
	case domain.ActionRecord:
		var p RecordActionPayload
		if err := json.Unmarshal([]byte(action.Payload), &p); err != nil {
			return false, ErrBadActionPayload
		}
		res, err := s.Recorder.Record(ctx, RecordInput{
			RegimenID:         p.RegimenID,
			AnimalID:          p.AnimalID,
			HouseholdID:       p.HouseholdID,
			CaregiverID:       p.CaregiverID,
			ScheduledFor:      p.ScheduledFor,
			ClientRecordedAt:  p.ClientRecordedAt,
			IdempotencyKey:    action.IdempotencyKey,
			InventorySourceID: p.InventorySourceID,
			AllowOverride:     p.AllowOverride,
			OverrideReason:    p.OverrideReason,
			Notes:             p.Notes,
			Skip:              p.Skip,
		})
		if err != nil {
			return false, err
		}
		return res.Replayed, nil

	case domain.ActionBulk:
		var p RecordActionPayload
		if err := json.Unmarshal([]byte(action.Payload), &p); err != nil {
			return false, ErrBadActionPayload
		}
		res, err := s.Recorder.RecordBulk(ctx, BulkInput{
			HouseholdID:       p.HouseholdID,
			RegimenID:         p.RegimenID,
			AnimalIDs:         p.AnimalIDs,
			CaregiverID:       p.CaregiverID,
			ScheduledFor:      p.ScheduledFor,
			ClientRecordedAt:  p.ClientRecordedAt,
			IdempotencyKey:    action.IdempotencyKey,
			InventorySourceID: p.InventorySourceID,
			AllowOverride:     p.AllowOverride,
			OverrideReason:    p.OverrideReason,
			Notes:             p.Notes,
			Skip:              p.Skip,
		})
		if err != nil {
			return false, err
		}
		// A bulk action counts as applied only when every animal succeeded.
		// Succeeded records stay persisted and replay through their derived
		// keys on retry; the failures become the action's rejection reasons.
		if len(res.Failed) > 0 {
			return false, &BulkApplyError{Failures: res.Failed}
		}
		return false, nil

	case domain.ActionCoSign:
		var p ResolveActionPayload
		if err := json.Unmarshal([]byte(action.Payload), &p); err != nil {
			return false, ErrBadActionPayload
		}
		_, err := s.CoSigner.Confirm(ctx, p.AdministrationID, p.HouseholdID, p.CaregiverID)
		return false, err

	case domain.ActionUndo:
		var p ResolveActionPayload
		if err := json.Unmarshal([]byte(action.Payload), &p); err != nil {
			return false, ErrBadActionPayload
		}
		return false, s.Recorder.Undo(ctx, p.AdministrationID, p.HouseholdID, p.CaregiverID)

	default:
		return false, ErrUnknownActionKind
	}
}

// List returns all of the device's queued actions, pending and rejected.
func (s *SyncService) List(ctx context.Context, deviceID string) ([]domain.QueuedAction, error) {
	return repo.ListActions(ctx, s.DB, deviceID)
}

// Ack removes a rejected action after the caregiver has seen the reason.
// Pending actions cannot be acknowledged away.
func (s *SyncService) Ack(ctx context.Context, deviceID string, seq uint64) error {
	err := repo.AckRejectedAction(ctx, s.DB, deviceID, seq)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrRecordNotFound
	}
	return err
}
