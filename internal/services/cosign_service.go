// Package services – CoSignService
//
// This file implements the two-person confirmation protocol for high-risk
// administrations. A CoSignRequest moves pending→confirmed or pending→expired
// and nothing else; the confirmed transition is a storage-level
// compare-and-swap, so under racing confirmations exactly one caregiver wins
// and every other caller sees ErrStaleCoSign. Expiry is a derived fact —
// readers compare expires_at to the current time — persisted lazily here and
// proactively by the background sweeper.
package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kjanat/vet-med-tracker-sub009/internal/domain"
	"github.com/kjanat/vet-med-tracker-sub009/internal/observability"
	"github.com/kjanat/vet-med-tracker-sub009/internal/repo"
)

// CoSignService resolves co-sign requests and surfaces pending ones.
type CoSignService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// SuggestionWindow is the maximum gap between two administrations of the
	// same regimen by different caregivers for the pair to be flagged as an
	// implicit high-risk situation.
	SuggestionWindow time.Duration

	// Now overrides the clock for tests. Defaults to time.Now.
	Now func() time.Time
}

func (s *CoSignService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Confirm applies the second signature to a high-risk administration.
// Requirements: a different caregiver than the requester, before expiry, and
// only while the request is still pending. Exactly one confirmation can ever
// succeed; losers — concurrent confirmers, late confirmers, repeat
// confirmers — receive ErrStaleCoSign. A failed confirmation never reverts
// the underlying administration record.
func (s *CoSignService) Confirm(ctx context.Context, administrationID, householdID, caregiverID string) (*domain.AdministrationRecord, error) {
	tr := otel.Tracer("services/CoSignService")
	ctx, span := tr.Start(ctx, "Confirm",
		trace.WithAttributes(
			attribute.String("administration.id", administrationID),
			attribute.String("caregiver.id", caregiverID),
		),
	)
	defer span.End()

	if caregiverID == "" {
		return nil, ErrMissingCaregiver
	}

	rec, err := repo.GetAdministration(ctx, s.DB, administrationID, householdID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	req, err := repo.GetCoSignByAdministration(ctx, s.DB, administrationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrCoSignNotFound
		}
		return nil, err
	}
	if req.RequestedBy == caregiverID {
		return nil, ErrSelfCoSign
	}

	now := s.now()
	if req.ExpiredBy(now) {
		// Persist the lapse opportunistically; the record stays flagged as
		// lacking its required co-signature for audit.
		if did, _ := repo.ExpireCoSign(ctx, s.DB, req.ID); did {
			observability.CountCoSign("expired")
		}
		return nil, ErrStaleCoSign
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		won, casErr := repo.ConfirmCoSign(ctx, tx, req.ID, caregiverID, now)
		if casErr != nil {
			return casErr
		}
		if !won {
			return ErrStaleCoSign
		}
		return repo.ResolveCosignPending(ctx, tx, administrationID)
	})
	if err != nil {
		if errors.Is(err, ErrStaleCoSign) {
			observability.CountCoSign("stale")
		}
		return nil, err
	}

	observability.CountCoSign("confirmed")
	log.Info().
		Str("administration_id", administrationID).
		Str("confirmed_by", caregiverID).
		Str("requested_by", req.RequestedBy).
		Msg("co-sign confirmed")

	rec.CosignPending = false
	return rec, nil
}

// ListPending returns a household's still-confirmable requests. Requests past
// their expiry are excluded even before the sweeper persists the transition.
func (s *CoSignService) ListPending(ctx context.Context, householdID string) ([]domain.CoSignRequest, error) {
	tr := otel.Tracer("services/CoSignService")
	ctx, span := tr.Start(ctx, "ListPending",
		trace.WithAttributes(attribute.String("household.id", householdID)),
	)
	defer span.End()

	return repo.ListPendingCoSigns(ctx, s.DB, householdID, s.now())
}

// DoubleDoseSuggestion flags a regimen that received two administrations by
// different caregivers within a short window without an explicit high-risk
// flag — a hint that the household may want co-signing on it.
type DoubleDoseSuggestion struct {
	RegimenID       string        `json:"regimen_id"`
	AnimalID        string        `json:"animal_id"`
	FirstRecordID   string        `json:"first_record_id"`
	SecondRecordID  string        `json:"second_record_id"`
	FirstCaregiver  string        `json:"first_caregiver"`
	SecondCaregiver string        `json:"second_caregiver"`
	Gap             time.Duration `json:"gap_ns"`
}

// Suggestions scans the household's last day of administrations for implicit
// double-dose situations. This is a read-only recommendation feed: it never
// mutates regimen flags.
func (s *CoSignService) Suggestions(ctx context.Context, householdID string) ([]DoubleDoseSuggestion, error) {
	tr := otel.Tracer("services/CoSignService")
	ctx, span := tr.Start(ctx, "Suggestions",
		trace.WithAttributes(attribute.String("household.id", householdID)),
	)
	defer span.End()

	window := s.SuggestionWindow
	if window <= 0 {
		window = 2 * time.Hour
	}
	now := s.now()

	regs, err := repo.ListRegimens(ctx, s.DB, householdID)
	if err != nil {
		return nil, err
	}
	flagged := make(map[string]bool, len(regs))
	animals := make(map[string]string, len(regs))
	for _, r := range regs {
		flagged[r.ID] = r.NeedsCoSign()
		animals[r.ID] = r.AnimalID
	}

	recent, err := repo.ListRecentAdministrations(ctx, s.DB, householdID, now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}

	byRegimen := make(map[string][]domain.AdministrationRecord)
	for _, rec := range recent {
		if rec.CaregiverID == domain.SystemCaregiverID || rec.Status == domain.DoseStatusSkipped {
			continue
		}
		byRegimen[rec.RegimenID] = append(byRegimen[rec.RegimenID], rec)
	}

	var out []DoubleDoseSuggestion
	for regID, recs := range byRegimen {
		if flagged[regID] || len(recs) < 2 {
			continue
		}
		sort.Slice(recs, func(i, j int) bool { return recs[i].RecordedAt.Before(recs[j].RecordedAt) })
		for i := 1; i < len(recs); i++ {
			a, b := recs[i-1], recs[i]
			gap := b.RecordedAt.Sub(a.RecordedAt)
			if a.CaregiverID != b.CaregiverID && gap <= window {
				out = append(out, DoubleDoseSuggestion{
					RegimenID:       regID,
					AnimalID:        animals[regID],
					FirstRecordID:   a.ID,
					SecondRecordID:  b.ID,
					FirstCaregiver:  a.CaregiverID,
					SecondCaregiver: b.CaregiverID,
					Gap:             gap,
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegimenID < out[j].RegimenID })
	return out, nil
}
