// Package services – RecordingService
//
// This file implements the idempotent recording pipeline: the single entry
// point through which every administration fact — given, skipped, or
// materialized as missed — reaches storage. The at-most-once guarantee rests
// on the unique index over idempotency_key: the insert itself is the atomic
// check, never a read-then-write. A retried request with the same key gets
// the previously persisted record back, flagged as a replay.
//
// High-risk regimens get their CoSignRequest created in the same transaction
// as the record, so a recording can never exist with co-signing required but
// no request attached.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include regimen/animal/caregiver identifiers.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/cases"

	"github.com/kjanat/vet-med-tracker-sub009/internal/domain"
	"github.com/kjanat/vet-med-tracker-sub009/internal/ids"
	"github.com/kjanat/vet-med-tracker-sub009/internal/observability"
	"github.com/kjanat/vet-med-tracker-sub009/internal/repo"
	"github.com/kjanat/vet-med-tracker-sub009/internal/schedule"
)

// keyFold folds medication names for comparison, so "amoxicillin" matches
// "Amoxicillin" regardless of locale.
var keyFold = cases.Fold()

// RecordingService owns the administration recording pipeline.
type RecordingService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// CoSignWindow is how long a high-risk recording stays confirmable.
	CoSignWindow time.Duration

	// DefaultLateAfter / DefaultVeryLateAfter apply when a regimen leaves its
	// tolerance windows unset.
	DefaultLateAfter     time.Duration
	DefaultVeryLateAfter time.Duration

	// Now overrides the clock for tests. Defaults to time.Now.
	Now func() time.Time
}

func (s *RecordingService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// RecordInput is a single administration recording request.
type RecordInput struct {
	RegimenID   string
	AnimalID    string
	HouseholdID string
	CaregiverID string

	// ScheduledFor is the UTC occurrence this recording answers. Nil for PRN
	// administrations. Ignored for PRN regimens.
	ScheduledFor *time.Time

	// ClientRecordedAt is the caller's clock at submission time. Stored as a
	// hint only; the server clock is authoritative for status classification.
	ClientRecordedAt *time.Time

	IdempotencyKey string

	InventorySourceID *string
	AllowOverride     bool
	OverrideReason    string

	Notes string

	// Skip marks an explicit decision not to give the dose. Skipped doses are
	// neither completed nor missed.
	Skip bool
}

// RecordResult is the outcome of a recording request.
type RecordResult struct {
	Record *domain.AdministrationRecord `json:"record"`
	CoSign *domain.CoSignRequest        `json:"cosign,omitempty"`

	// Replayed is true when the request collapsed onto a previously persisted
	// record via its idempotency key.
	Replayed bool `json:"replayed"`
}

// Record persists a single administration. Guarantees:
//
//   - at most one persisted record per idempotency key, under concurrent
//     retries included;
//   - at most one non-deleted record per (regimen, schedule slot) for non-PRN
//     regimens;
//   - a high-risk recording and its CoSignRequest commit atomically.
//
// A replayed key returns the original record with Replayed=true, never an
// error.
func (s *RecordingService) Record(ctx context.Context, in RecordInput) (*RecordResult, error) {
	tr := otel.Tracer("services/RecordingService")
	ctx, span := tr.Start(ctx, "Record",
		trace.WithAttributes(
			attribute.String("regimen.id", in.RegimenID),
			attribute.String("animal.id", in.AnimalID),
			attribute.String("caregiver.id", in.CaregiverID),
		),
	)
	defer span.End()

	if strings.TrimSpace(in.IdempotencyKey) == "" {
		return nil, ErrMissingIdempotencyKey
	}
	if strings.TrimSpace(in.CaregiverID) == "" {
		return nil, ErrMissingCaregiver
	}

	// Fast replay path: a prior record under this key wins outright.
	if prior, err := repo.GetAdministrationByKey(ctx, s.DB, in.IdempotencyKey); err == nil {
		observability.CountReplay()
		return s.replayResult(ctx, prior), nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	reg, err := repo.GetRegimen(ctx, s.DB, in.RegimenID, in.HouseholdID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRegimenNotFound
		}
		return nil, err
	}
	if !reg.Active() {
		return nil, ErrRegimenDiscontinued
	}

	recordedAt := s.now()
	scheduledFor := in.ScheduledFor
	if reg.PRN {
		scheduledFor = nil
	}

	status := domain.DoseStatusSkipped
	if !in.Skip {
		tol := schedule.ToleranceFor(reg, s.DefaultLateAfter, s.DefaultVeryLateAfter)
		status = schedule.Evaluate(scheduledFor, &recordedAt, recordedAt, tol)
	}

	rec := &domain.AdministrationRecord{
		ID:               ids.New(),
		RegimenID:        reg.ID,
		AnimalID:         in.AnimalID,
		HouseholdID:      in.HouseholdID,
		CaregiverID:      in.CaregiverID,
		ScheduledFor:     scheduledFor,
		RecordedAt:       recordedAt,
		ClientRecordedAt: in.ClientRecordedAt,
		Status:           status,
		IdempotencyKey:   in.IdempotencyKey,
		Notes:            in.Notes,
	}

	needsCoSign := reg.NeedsCoSign() && !in.Skip
	var cosign *domain.CoSignRequest

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Slot invariant: one non-deleted record per (regimen, animal, occurrence).
		if scheduledFor != nil {
			if _, slotErr := repo.FindBySlot(ctx, tx, reg.ID, in.AnimalID, *scheduledFor); slotErr == nil {
				return ErrDuplicateSlot
			} else if !errors.Is(slotErr, repo.ErrNotFound) {
				return slotErr
			}
		}

		if in.InventorySourceID != nil && !in.Skip {
			if invErr := s.consumeInventory(ctx, tx, reg, rec, in); invErr != nil {
				return invErr
			}
		}

		if needsCoSign {
			rec.CosignPending = true
		}
		if createErr := repo.CreateAdministration(ctx, tx, rec); createErr != nil {
			return createErr
		}

		if needsCoSign {
			cosign = &domain.CoSignRequest{
				ID:               ids.New(),
				AdministrationID: rec.ID,
				RegimenID:        reg.ID,
				HouseholdID:      in.HouseholdID,
				RequestedBy:      in.CaregiverID,
				RequestedAt:      recordedAt,
				ExpiresAt:        recordedAt.Add(s.CoSignWindow),
				State:            domain.CoSignPending,
			}
			if csErr := repo.CreateCoSign(ctx, tx, cosign); csErr != nil {
				return csErr
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			// A concurrent retry with the same key won the insert race. Replay it.
			if prior, getErr := repo.GetAdministrationByKey(ctx, s.DB, in.IdempotencyKey); getErr == nil {
				observability.CountReplay()
				return s.replayResult(ctx, prior), nil
			}
			// The unique violation came from the slot index, not the key: a
			// concurrent recording under a different key took the occurrence.
			return nil, ErrDuplicateSlot
		}
		return nil, err
	}

	observability.CountAdministration(string(status))
	log.Info().
		Str("regimen_id", reg.ID).
		Str("animal_id", in.AnimalID).
		Str("caregiver_id", in.CaregiverID).
		Str("idempotency_key", in.IdempotencyKey).
		Str("status", string(status)).
		Bool("cosign_pending", rec.CosignPending).
		Msg("administration recorded")

	return &RecordResult{Record: rec, CoSign: cosign}, nil
}

// consumeInventory validates the referenced stock and takes one unit.
// Expiry and medication mismatches can be overridden; the override is stamped
// onto the record as part of the audit trail. Exhaustion is never overridable.
func (s *RecordingService) consumeInventory(ctx context.Context, tx *gorm.DB, reg *domain.Regimen, rec *domain.AdministrationRecord, in RecordInput) error {
	src, err := repo.GetInventorySource(ctx, tx, *in.InventorySourceID, in.HouseholdID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrInventoryNotFound
		}
		return err
	}

	overridden := false
	if src.ExpiredBy(rec.RecordedAt) {
		if !in.AllowOverride {
			return ErrInventoryExpired
		}
		overridden = true
	}
	if keyFold.String(src.MedicationName) != keyFold.String(reg.MedicationName) {
		if !in.AllowOverride {
			return ErrInventoryMismatch
		}
		overridden = true
	}

	ok, err := repo.DecrementInventory(ctx, tx, src.ID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInventoryExhausted
	}

	rec.InventorySourceID = in.InventorySourceID
	if overridden {
		rec.InventoryOverride = true
		reason := in.OverrideReason
		if reason == "" {
			reason = "override accepted without reason"
		}
		rec.OverrideReason = &reason
	}
	return nil
}

// replayResult reassembles the result for a replayed key, reattaching the
// co-sign request when the original recording created one.
func (s *RecordingService) replayResult(ctx context.Context, rec *domain.AdministrationRecord) *RecordResult {
	res := &RecordResult{Record: rec, Replayed: true}
	if rec.CosignPending {
		if cs, err := repo.GetCoSignByAdministration(ctx, s.DB, rec.ID); err == nil {
			res.CoSign = cs
		}
	}
	return res
}

// BulkInput is a bulk recording request: one regimen applied to several
// animals in a single caregiver gesture.
type BulkInput struct {
	HouseholdID string
	RegimenID   string
	AnimalIDs   []string
	CaregiverID string

	ScheduledFor     *time.Time
	ClientRecordedAt *time.Time

	IdempotencyKey string

	InventorySourceID *string
	AllowOverride     bool
	OverrideReason    string

	Notes string
	Skip  bool
}

// BulkFailure is a single animal's outcome inside a partially failed bulk
// recording.
type BulkFailure struct {
	AnimalID string `json:"animal_id"`
	Reason   string `json:"reason"`
}

// BulkSummary reports exact outcome counts so the caller can distinguish
// fully, partially, and not-at-all succeeded bulk calls.
type BulkSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// BulkResult is the outcome of a bulk recording request.
type BulkResult struct {
	Successful []RecordResult `json:"successful"`
	Failed     []BulkFailure  `json:"failed"`
	Summary    BulkSummary    `json:"summary"`
}

// RecordBulk fans a recording out across animals. Each animal is evaluated
// independently: one failure never blocks or rolls back the others. The
// caller's idempotency key is treated as opaque; per-animal keys are derived
// by suffixing the animal id, so a retried bulk call replays each per-animal
// outcome and reports the same summary counts without creating new rows.
func (s *RecordingService) RecordBulk(ctx context.Context, in BulkInput) (*BulkResult, error) {
	tr := otel.Tracer("services/RecordingService")
	ctx, span := tr.Start(ctx, "RecordBulk",
		trace.WithAttributes(
			attribute.String("regimen.id", in.RegimenID),
			attribute.Int("animals", len(in.AnimalIDs)),
		),
	)
	defer span.End()

	if strings.TrimSpace(in.IdempotencyKey) == "" {
		return nil, ErrMissingIdempotencyKey
	}

	out := &BulkResult{
		Successful: make([]RecordResult, 0, len(in.AnimalIDs)),
		Failed:     make([]BulkFailure, 0),
	}
	for _, animalID := range in.AnimalIDs {
		res, err := s.Record(ctx, RecordInput{
			RegimenID:         in.RegimenID,
			AnimalID:          animalID,
			HouseholdID:       in.HouseholdID,
			CaregiverID:       in.CaregiverID,
			ScheduledFor:      in.ScheduledFor,
			ClientRecordedAt:  in.ClientRecordedAt,
			IdempotencyKey:    in.IdempotencyKey + ":" + animalID,
			InventorySourceID: in.InventorySourceID,
			AllowOverride:     in.AllowOverride,
			OverrideReason:    in.OverrideReason,
			Notes:             in.Notes,
			Skip:              in.Skip,
		})
		if err != nil {
			out.Failed = append(out.Failed, BulkFailure{AnimalID: animalID, Reason: ReasonForError(err)})
			continue
		}
		out.Successful = append(out.Successful, *res)
	}
	out.Summary = BulkSummary{
		Total:      len(in.AnimalIDs),
		Successful: len(out.Successful),
		Failed:     len(out.Failed),
	}
	return out, nil
}

// MaterializeMissed writes the synthetic system-authored record for a dose
// whose very-late cutoff elapsed with nothing recorded. The dedupe key is
// derived from the occurrence itself, so concurrent materialization by
// multiple readers collapses to one row. Returns whether this caller created
// the row.
func (s *RecordingService) MaterializeMissed(ctx context.Context, reg *domain.Regimen, scheduledAt time.Time) (bool, error) {
	tr := otel.Tracer("services/RecordingService")
	ctx, span := tr.Start(ctx, "MaterializeMissed",
		trace.WithAttributes(
			attribute.String("regimen.id", reg.ID),
			attribute.String("scheduled_at", scheduledAt.Format(time.RFC3339)),
		),
	)
	defer span.End()

	tol := schedule.ToleranceFor(reg, s.DefaultLateAfter, s.DefaultVeryLateAfter)
	cutoff := schedule.MissedCutoff(scheduledAt, tol)
	at := scheduledAt.UTC()

	rec := &domain.AdministrationRecord{
		ID:             ids.New(),
		RegimenID:      reg.ID,
		AnimalID:       reg.AnimalID,
		HouseholdID:    reg.HouseholdID,
		CaregiverID:    domain.SystemCaregiverID,
		ScheduledFor:   &at,
		RecordedAt:     cutoff,
		Status:         domain.DoseStatusMissed,
		IdempotencyKey: schedule.MissedKey(reg.ID, scheduledAt),
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// A real recording in the slot means the dose was not missed.
		if _, slotErr := repo.FindBySlot(ctx, tx, reg.ID, reg.AnimalID, at); slotErr == nil {
			return repo.ErrDuplicate
		} else if !errors.Is(slotErr, repo.ErrNotFound) {
			return slotErr
		}
		return repo.CreateAdministration(ctx, tx, rec)
	})
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return false, nil
		}
		return false, err
	}

	observability.CountAdministration(string(domain.DoseStatusMissed))
	return true, nil
}

// Edit applies an audited note change to a record. Mutation happens only
// through this explicit operation; the soft-edit markers preserve who changed
// what and when.
func (s *RecordingService) Edit(ctx context.Context, id, householdID, caregiverID, notes string) (*domain.AdministrationRecord, error) {
	tr := otel.Tracer("services/RecordingService")
	ctx, span := tr.Start(ctx, "Edit",
		trace.WithAttributes(attribute.String("record.id", id)),
	)
	defer span.End()

	if err := repo.MarkAdministrationEdited(ctx, s.DB, id, householdID, caregiverID, notes, s.now()); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return repo.GetAdministration(ctx, s.DB, id, householdID)
}

// Undo soft-deletes a record, freeing its schedule slot for re-recording.
// The row is preserved for audit. A still-open co-sign request attached to
// the record is removed with it; the undone dose no longer needs a second
// signature.
func (s *RecordingService) Undo(ctx context.Context, id, householdID, caregiverID string) error {
	tr := otel.Tracer("services/RecordingService")
	ctx, span := tr.Start(ctx, "Undo",
		trace.WithAttributes(attribute.String("record.id", id)),
	)
	defer span.End()

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, getErr := repo.GetAdministration(ctx, tx, id, householdID)
		if getErr != nil {
			if errors.Is(getErr, repo.ErrNotFound) {
				return ErrRecordNotFound
			}
			return getErr
		}
		if rec.CosignPending {
			if delErr := repo.DeleteCoSignByAdministration(ctx, tx, rec.ID); delErr != nil {
				return delErr
			}
		}
		return repo.SoftDeleteAdministration(ctx, tx, id, householdID, caregiverID)
	})
	if errors.Is(err, repo.ErrNotFound) {
		return ErrRecordNotFound
	}
	return err
}
