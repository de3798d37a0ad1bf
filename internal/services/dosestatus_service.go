// Package services – DoseStatusService
//
// This file produces the dose-status feed consumed by dashboards and the
// reminder scheduler: every resolved occurrence of the requested animals'
// regimens over a UTC range, joined with whatever was actually recorded.
// Occurrences are derived on demand, never stored; an occurrence with no
// record gets a live pending/due/missed classification against the current
// clock.
package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kjanat/vet-med-tracker-sub009/internal/domain"
	"github.com/kjanat/vet-med-tracker-sub009/internal/repo"
	"github.com/kjanat/vet-med-tracker-sub009/internal/schedule"
)

// DoseStatusService resolves schedule occurrences and joins recorded facts
// onto them.
type DoseStatusService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// DefaultLateAfter / DefaultVeryLateAfter apply when a regimen leaves its
	// tolerance windows unset.
	DefaultLateAfter     time.Duration
	DefaultVeryLateAfter time.Duration

	// Now overrides the clock for tests. Defaults to time.Now.
	Now func() time.Time
}

func (s *DoseStatusService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// DoseStatusEntry is one occurrence (or PRN administration) with its status.
// RecordID is empty for occurrences nothing has been recorded against yet.
type DoseStatusEntry struct {
	RegimenID      string            `json:"regimen_id"`
	AnimalID       string            `json:"animal_id"`
	MedicationName string            `json:"medication_name"`
	ScheduledAt    *time.Time        `json:"scheduled_at,omitempty"`
	Status         domain.DoseStatus `json:"status"`

	RecordID    string     `json:"record_id,omitempty"`
	RecordedAt  *time.Time `json:"recorded_at,omitempty"`
	CaregiverID string     `json:"caregiver_id,omitempty"`
}

// slotKey identifies an occurrence by (regimen, animal, scheduled instant).
func slotKey(regimenID, animalID string, at time.Time) string {
	return fmt.Sprintf("%s:%s:%d", regimenID, animalID, at.UTC().Unix())
}

// List returns the dose statuses for the given animals over [fromUTC, toUTC).
// An empty animalIDs slice covers the whole household. The listing is a pure
// recomputation: the same range and data always yield the same entries, and
// nothing is written.
//
// Occurrences after a regimen's discontinuation instant are excluded; doses
// that were already scheduled before the discontinuation stay visible.
func (s *DoseStatusService) List(ctx context.Context, householdID string, animalIDs []string, fromUTC, toUTC time.Time) ([]DoseStatusEntry, error) {
	tr := otel.Tracer("services/DoseStatusService")
	ctx, span := tr.Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("household.id", householdID),
			attribute.Int("animals", len(animalIDs)),
		),
	)
	defer span.End()

	regs, err := repo.ListRegimensForAnimals(ctx, s.DB, householdID, animalIDs)
	if err != nil {
		return nil, err
	}
	if len(regs) == 0 {
		return nil, nil
	}

	now := s.now()
	regimenIDs := make([]string, 0, len(regs))
	byRegimen := make(map[string]*domain.Regimen, len(regs))
	var occurrences []schedule.Occurrence
	for i := range regs {
		reg := &regs[i]
		regimenIDs = append(regimenIDs, reg.ID)
		byRegimen[reg.ID] = reg

		occs, resErr := schedule.ResolveOccurrences(reg, fromUTC, toUTC)
		if resErr != nil {
			return nil, resErr
		}
		for _, occ := range occs {
			if reg.DiscontinuedAt != nil && !occ.ScheduledAt.Before(*reg.DiscontinuedAt) {
				continue
			}
			occurrences = append(occurrences, occ)
		}
	}

	records, err := repo.ListAdministrationsForRegimens(ctx, s.DB, regimenIDs, fromUTC, toUTC)
	if err != nil {
		return nil, err
	}
	recordsBySlot := make(map[string]*domain.AdministrationRecord, len(records))
	var prnRecords []*domain.AdministrationRecord
	for i := range records {
		rec := &records[i]
		if rec.ScheduledFor == nil {
			prnRecords = append(prnRecords, rec)
			continue
		}
		recordsBySlot[slotKey(rec.RegimenID, rec.AnimalID, *rec.ScheduledFor)] = rec
	}

	out := make([]DoseStatusEntry, 0, len(occurrences)+len(prnRecords))
	for _, occ := range occurrences {
		reg := byRegimen[occ.RegimenID]
		at := occ.ScheduledAt
		entry := DoseStatusEntry{
			RegimenID:      occ.RegimenID,
			AnimalID:       occ.AnimalID,
			MedicationName: reg.MedicationName,
			ScheduledAt:    &at,
		}
		if rec, found := recordsBySlot[slotKey(occ.RegimenID, occ.AnimalID, at)]; found {
			recorded := rec.RecordedAt
			entry.Status = rec.Status
			entry.RecordID = rec.ID
			entry.RecordedAt = &recorded
			entry.CaregiverID = rec.CaregiverID
		} else {
			tol := schedule.ToleranceFor(reg, s.DefaultLateAfter, s.DefaultVeryLateAfter)
			entry.Status = schedule.Evaluate(&at, nil, now, tol)
		}
		out = append(out, entry)
	}

	for _, rec := range prnRecords {
		reg := byRegimen[rec.RegimenID]
		recorded := rec.RecordedAt
		out = append(out, DoseStatusEntry{
			RegimenID:      rec.RegimenID,
			AnimalID:       rec.AnimalID,
			MedicationName: reg.MedicationName,
			Status:         rec.Status,
			RecordID:       rec.ID,
			RecordedAt:     &recorded,
			CaregiverID:    rec.CaregiverID,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		ti, tj := entryInstant(out[i]), entryInstant(out[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].RegimenID < out[j].RegimenID
	})
	return out, nil
}

// entryInstant orders an entry by its schedule slot, falling back to the
// recording instant for PRN administrations.
func entryInstant(e DoseStatusEntry) time.Time {
	if e.ScheduledAt != nil {
		return *e.ScheduledAt
	}
	if e.RecordedAt != nil {
		return *e.RecordedAt
	}
	return time.Time{}
}
