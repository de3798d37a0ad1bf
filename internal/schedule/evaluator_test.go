package schedule

import (
	"testing"
	"time"

	"github.com/kjanat/vet-med-tracker-sub009/internal/domain"
)

var testTol = Tolerance{LateAfter: 30 * time.Minute, VeryLateAfter: 120 * time.Minute}

func tp(t time.Time) *time.Time { return &t }

func TestEvaluate_PRN(t *testing.T) {
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	if got := Evaluate(nil, tp(now), now, testTol); got != domain.DoseStatusPRN {
		t.Fatalf("expected prn, got %s", got)
	}
}

func TestEvaluate_RecordedClassification(t *testing.T) {
	scheduled := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	now := scheduled.Add(6 * time.Hour)

	cases := []struct {
		name     string
		recorded time.Time
		want     domain.DoseStatus
	}{
		{"early", scheduled.Add(-10 * time.Minute), domain.DoseStatusOnTime},
		{"exact", scheduled, domain.DoseStatusOnTime},
		{"within late tolerance", scheduled.Add(30 * time.Minute), domain.DoseStatusOnTime},
		{"45 minutes after schedule", scheduled.Add(45 * time.Minute), domain.DoseStatusLate},
		{"at very-late boundary", scheduled.Add(120 * time.Minute), domain.DoseStatusLate},
		{"past very-late boundary", scheduled.Add(121 * time.Minute), domain.DoseStatusVeryLate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(&scheduled, tp(tc.recorded), now, testTol)
			if got != tc.want {
				t.Fatalf("recorded %v: expected %s, got %s", tc.recorded, tc.want, got)
			}
		})
	}
}

func TestEvaluate_UnrecordedProgression(t *testing.T) {
	scheduled := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

	if got := Evaluate(&scheduled, nil, scheduled.Add(-time.Hour), testTol); got != domain.DoseStatusPending {
		t.Fatalf("before schedule: expected pending, got %s", got)
	}
	if got := Evaluate(&scheduled, nil, scheduled.Add(10*time.Minute), testTol); got != domain.DoseStatusDue {
		t.Fatalf("within window: expected due, got %s", got)
	}
	if got := Evaluate(&scheduled, nil, scheduled.Add(90*time.Minute), testTol); got != domain.DoseStatusDue {
		t.Fatalf("late but not yet missed: expected due, got %s", got)
	}
	if got := Evaluate(&scheduled, nil, scheduled.Add(120*time.Minute), testTol); got != domain.DoseStatusMissed {
		t.Fatalf("at cutoff: expected missed, got %s", got)
	}
}

func TestToleranceFor_DefaultsAndClamp(t *testing.T) {
	reg := &domain.Regimen{}
	tol := ToleranceFor(reg, 15*time.Minute, time.Hour)
	if tol.LateAfter != 15*time.Minute || tol.VeryLateAfter != time.Hour {
		t.Fatalf("defaults not applied: %+v", tol)
	}

	reg = &domain.Regimen{LateAfterMin: 60, VeryLateAfterMin: 30}
	tol = ToleranceFor(reg, 15*time.Minute, time.Hour)
	if tol.VeryLateAfter != tol.LateAfter {
		t.Fatalf("very-late window must never be shorter than late window: %+v", tol)
	}
}

func TestMissedKey_Deterministic(t *testing.T) {
	at := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	a := MissedKey("reg-1", at)
	b := MissedKey("reg-1", at.In(time.FixedZone("X", 3600)))
	if a != b {
		t.Fatalf("missed key must be timezone independent: %q vs %q", a, b)
	}
	if a == MissedKey("reg-2", at) {
		t.Fatal("missed keys for different regimens must differ")
	}
}
