package services

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/kjanat/vet-med-tracker-sub009/internal/domain"
	"github.com/kjanat/vet-med-tracker-sub009/internal/repo"
)

func newSweeper(db *gorm.DB, at time.Time) *Sweeper {
	return &Sweeper{
		DB:       db,
		Recorder: newRecorder(db, at),
		Interval: 10 * time.Millisecond,
		Lookback: 48 * time.Hour,
		Now:      func() time.Time { return at },
	}
}

func TestRunOnce_MaterializesMissedIdempotently(t *testing.T) {
	db := newTestDB(t)
	seedRegimen(t, db, nil)
	// Two elapsed 08:00 occurrences sit inside the lookback window.
	now := utcTime(t, "2025-06-10T23:00:00Z")
	s := newSweeper(db, now)

	report, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("first RunOnce: %v", err)
	}
	if report.MissedCreated != 2 {
		t.Fatalf("missed created = %d; want 2", report.MissedCreated)
	}

	report, err = s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if report.MissedCreated != 0 {
		t.Fatalf("re-sweep created %d rows; want 0", report.MissedCreated)
	}

	var count int64
	if err := db.Model(&domain.AdministrationRecord{}).
		Where("status = ?", domain.DoseStatusMissed).
		Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("missed rows = %d; want 2", count)
	}
}

func TestRunOnce_SkipsRecordedAndUnelapsedOccurrences(t *testing.T) {
	db := newTestDB(t)
	reg := seedRegimen(t, db, nil)
	now := utcTime(t, "2025-06-10T09:00:00Z")

	// Yesterday's dose was given; today's cutoff (10:00) has not elapsed.
	slot := utcTime(t, "2025-06-09T08:00:00Z")
	if _, err := newRecorder(db, slot.Add(time.Minute)).Record(context.Background(), RecordInput{
		RegimenID:      reg.ID,
		AnimalID:       reg.AnimalID,
		HouseholdID:    "hh-1",
		CaregiverID:    "cg-1",
		ScheduledFor:   &slot,
		IdempotencyKey: "sw:1",
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	report, err := newSweeper(db, now).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if report.MissedCreated != 0 {
		t.Fatalf("missed created = %d; want 0", report.MissedCreated)
	}
}

func TestRunOnce_SkipsDiscontinuedAndPRNRegimens(t *testing.T) {
	db := newTestDB(t)
	disc := seedRegimen(t, db, nil)
	seedRegimen(t, db, func(r *domain.Regimen) {
		r.PRN = true
		r.TimesLocal = ""
		r.AnimalID = "animal-2"
	})
	now := utcTime(t, "2025-06-10T23:00:00Z")
	if err := repo.DiscontinueRegimen(context.Background(), db, disc.ID, "hh-1", "cg-1", now.Add(-72*time.Hour)); err != nil {
		t.Fatalf("discontinue: %v", err)
	}

	report, err := newSweeper(db, now).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if report.MissedCreated != 0 {
		t.Fatalf("missed created = %d; want 0", report.MissedCreated)
	}
}

func TestRunOnce_SweepsMissesBeforeDiscontinuation(t *testing.T) {
	db := newTestDB(t)
	reg := seedRegimen(t, db, func(r *domain.Regimen) { r.TimesLocal = "08:00,20:00" })
	now := utcTime(t, "2025-06-10T23:00:00Z")

	// The 06-09 08:00, 06-09 20:00 and 06-10 08:00 cutoffs all elapsed before
	// the regimen ended at 06-10 12:00; 06-10 20:00 falls after it.
	if err := repo.DiscontinueRegimen(context.Background(), db, reg.ID, "hh-1", "cg-1", utcTime(t, "2025-06-10T12:00:00Z")); err != nil {
		t.Fatalf("discontinue: %v", err)
	}

	report, err := newSweeper(db, now).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if report.MissedCreated != 3 {
		t.Fatalf("missed created = %d; want 3", report.MissedCreated)
	}
	if _, err := repo.FindBySlot(context.Background(), db, reg.ID, reg.AnimalID, utcTime(t, "2025-06-10T20:00:00Z")); err == nil {
		t.Fatal("occurrence after discontinuation must not be materialized")
	}

	// Re-sweeping the same window creates nothing new.
	report, err = newSweeper(db, now).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if report.MissedCreated != 0 {
		t.Fatalf("re-sweep created %d rows; want 0", report.MissedCreated)
	}
}

func TestRunOnce_PersistsLapsedCoSigns(t *testing.T) {
	db := newTestDB(t)
	recordedAt := utcTime(t, "2025-06-10T08:00:00Z")
	rec, req := seedHighRiskRecording(t, db, recordedAt)
	_ = rec

	s := newSweeper(db, req.ExpiresAt.Add(time.Minute))
	report, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if report.CoSignsExpired != 1 {
		t.Fatalf("cosigns expired = %d; want 1", report.CoSignsExpired)
	}

	after, err := repo.GetCoSignByAdministration(context.Background(), db, rec.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if after.State != domain.CoSignExpired {
		t.Fatalf("state = %q; want expired", after.State)
	}

	// Re-sweeping transitions nothing twice.
	report, err = s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if report.CoSignsExpired != 0 {
		t.Fatalf("re-sweep expired %d requests; want 0", report.CoSignsExpired)
	}
}

func TestSweeper_StartStopLifecycle(t *testing.T) {
	db := newTestDB(t)
	s := newSweeper(db, utcTime(t, "2025-06-10T08:00:00Z"))

	if s.Status().Running {
		t.Fatal("sweeper must start stopped")
	}
	s.Start(context.Background())
	s.Start(context.Background()) // idempotent
	if !s.Status().Running {
		t.Fatal("sweeper must report running after Start")
	}

	// Let at least one tick elapse.
	time.Sleep(30 * time.Millisecond)

	s.Stop()
	s.Stop() // idempotent
	st := s.Status()
	if st.Running {
		t.Fatal("sweeper must report stopped after Stop")
	}
	if st.Sweeps == 0 {
		t.Fatal("expected at least one sweep while running")
	}
}
