package schedule

import (
	"fmt"
	"time"

	"github.com/kjanat/vet-med-tracker-sub009/internal/domain"
)

// Tolerance is the per-dose grace window of a regimen: a recording within
// LateAfter of the scheduled instant is on time, within VeryLateAfter it is
// late, beyond that it is very late. An unrecorded dose is missed once
// VeryLateAfter has fully elapsed.
type Tolerance struct {
	LateAfter     time.Duration
	VeryLateAfter time.Duration
}

// ToleranceFor derives a regimen's tolerance, substituting the given defaults
// where the regimen leaves a window unset. VeryLateAfter is clamped to never
// be shorter than LateAfter.
func ToleranceFor(reg *domain.Regimen, defLate, defVeryLate time.Duration) Tolerance {
	t := Tolerance{
		LateAfter:     time.Duration(reg.LateAfterMin) * time.Minute,
		VeryLateAfter: time.Duration(reg.VeryLateAfterMin) * time.Minute,
	}
	if t.LateAfter <= 0 {
		t.LateAfter = defLate
	}
	if t.VeryLateAfter <= 0 {
		t.VeryLateAfter = defVeryLate
	}
	if t.VeryLateAfter < t.LateAfter {
		t.VeryLateAfter = t.LateAfter
	}
	return t
}

// MissedCutoff returns the instant at which an unrecorded dose becomes missed.
func MissedCutoff(scheduledAt time.Time, tol Tolerance) time.Time {
	return scheduledAt.Add(tol.VeryLateAfter)
}

// MissedKey returns the deterministic idempotency key used to materialize a
// missed dose. Every reader that decides to materialize the same occurrence
// derives the same key, so concurrent materialization collapses to one row on
// the recording pipeline's unique-key guarantee.
func MissedKey(regimenID string, scheduledAt time.Time) string {
	return fmt.Sprintf("missed:%s:%d", regimenID, scheduledAt.UTC().Unix())
}

// Evaluate classifies a dose.
//
//   - No scheduled instant: the administration is unscheduled (PRN).
//   - Recorded: classified by recordedAt − scheduledAt against the tolerance
//     (early recordings count as on time).
//   - Unrecorded: pending before the scheduled instant, due from then until
//     the missed cutoff, missed after it.
//
// recordedAt must be the server-received instant; client clocks are never
// trusted for lateness classification.
func Evaluate(scheduledAt, recordedAt *time.Time, now time.Time, tol Tolerance) domain.DoseStatus {
	if scheduledAt == nil {
		return domain.DoseStatusPRN
	}
	if recordedAt != nil {
		delta := recordedAt.Sub(*scheduledAt)
		switch {
		case delta <= tol.LateAfter:
			return domain.DoseStatusOnTime
		case delta <= tol.VeryLateAfter:
			return domain.DoseStatusLate
		default:
			return domain.DoseStatusVeryLate
		}
	}
	switch {
	case now.Before(*scheduledAt):
		return domain.DoseStatusPending
	case now.Before(MissedCutoff(*scheduledAt, tol)):
		return domain.DoseStatusDue
	default:
		return domain.DoseStatusMissed
	}
}
