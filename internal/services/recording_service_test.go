package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kjanat/vet-med-tracker-sub009/internal/domain"
	"github.com/kjanat/vet-med-tracker-sub009/internal/repo"
)

// newTestDB opens a unique in-memory database per test and migrates the full
// schema, unique indexes included.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// newRecorder builds a RecordingService pinned to a fixed clock.
func newRecorder(db *gorm.DB, at time.Time) *RecordingService {
	return &RecordingService{
		DB:                   db,
		CoSignWindow:         15 * time.Minute,
		DefaultLateAfter:     30 * time.Minute,
		DefaultVeryLateAfter: 2 * time.Hour,
		Now:                  func() time.Time { return at },
	}
}

// seedRegimen persists a daily 08:00 UTC regimen and returns it. Mutate the
// returned struct before calling for PRN/high-risk variants.
func seedRegimen(t *testing.T, db *gorm.DB, mutate func(*domain.Regimen)) *domain.Regimen {
	t.Helper()
	reg := &domain.Regimen{
		ID:               uuid.NewString(),
		HouseholdID:      "hh-1",
		AnimalID:         "animal-1",
		MedicationName:   "Amoxicillin",
		TimesLocal:       "08:00",
		Timezone:         "UTC",
		LateAfterMin:     30,
		VeryLateAfterMin: 120,
		CreatedBy:        "cg-1",
	}
	if mutate != nil {
		mutate(reg)
	}
	if err := repo.CreateRegimen(context.Background(), db, reg); err != nil {
		t.Fatalf("seed regimen: %v", err)
	}
	return reg
}

func seedInventory(t *testing.T, db *gorm.DB, med string, units int, expires *time.Time) *domain.InventorySource {
	t.Helper()
	src := &domain.InventorySource{
		ID:             uuid.NewString(),
		HouseholdID:    "hh-1",
		MedicationName: med,
		UnitsRemaining: units,
		ExpiresAt:      expires,
	}
	if err := repo.CreateInventorySource(context.Background(), db, src); err != nil {
		t.Fatalf("seed inventory: %v", err)
	}
	return src
}

func utcTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse time %q: %v", value, err)
	}
	return ts.UTC()
}

func TestRecord_FortyFiveMinutesPastScheduleIsLate(t *testing.T) {
	db := newTestDB(t)
	reg := seedRegimen(t, db, nil)
	scheduled := utcTime(t, "2025-06-10T08:00:00Z")
	s := newRecorder(db, utcTime(t, "2025-06-10T08:45:00Z"))

	res, err := s.Record(context.Background(), RecordInput{
		RegimenID:      reg.ID,
		AnimalID:       reg.AnimalID,
		HouseholdID:    "hh-1",
		CaregiverID:    "cg-1",
		ScheduledFor:   &scheduled,
		IdempotencyKey: "record:r1:k1",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if res.Replayed {
		t.Fatal("first recording must not be a replay")
	}
	if res.Record.Status != domain.DoseStatusLate {
		t.Fatalf("status = %q; want late", res.Record.Status)
	}
	if !res.Record.RecordedAt.Equal(utcTime(t, "2025-06-10T08:45:00Z")) {
		t.Fatalf("recorded_at = %v; want server clock", res.Record.RecordedAt)
	}
}

func TestRecord_SameKeyTwiceYieldsOneRowAndReplayFlag(t *testing.T) {
	db := newTestDB(t)
	reg := seedRegimen(t, db, nil)
	scheduled := utcTime(t, "2025-06-10T08:00:00Z")
	s := newRecorder(db, utcTime(t, "2025-06-10T08:05:00Z"))

	in := RecordInput{
		RegimenID:      reg.ID,
		AnimalID:       reg.AnimalID,
		HouseholdID:    "hh-1",
		CaregiverID:    "cg-1",
		ScheduledFor:   &scheduled,
		IdempotencyKey: "record:r1:dup",
	}
	first, err := s.Record(context.Background(), in)
	if err != nil {
		t.Fatalf("first Record: %v", err)
	}
	second, err := s.Record(context.Background(), in)
	if err != nil {
		t.Fatalf("second Record: %v", err)
	}
	if !second.Replayed {
		t.Fatal("second call must be flagged as replay")
	}
	if second.Record.ID != first.Record.ID {
		t.Fatalf("replay returned a different record: %s vs %s", second.Record.ID, first.Record.ID)
	}

	var count int64
	if err := db.Model(&domain.AdministrationRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 persisted row, got %d", count)
	}
}

func TestRecord_OccupiedSlotUnderDifferentKeyIsRejected(t *testing.T) {
	db := newTestDB(t)
	reg := seedRegimen(t, db, nil)
	scheduled := utcTime(t, "2025-06-10T08:00:00Z")
	s := newRecorder(db, utcTime(t, "2025-06-10T08:05:00Z"))

	base := RecordInput{
		RegimenID:      reg.ID,
		AnimalID:       reg.AnimalID,
		HouseholdID:    "hh-1",
		CaregiverID:    "cg-1",
		ScheduledFor:   &scheduled,
		IdempotencyKey: "record:r1:a",
	}
	if _, err := s.Record(context.Background(), base); err != nil {
		t.Fatalf("first Record: %v", err)
	}
	base.IdempotencyKey = "record:r1:b"
	base.CaregiverID = "cg-2"
	if _, err := s.Record(context.Background(), base); !errors.Is(err, ErrDuplicateSlot) {
		t.Fatalf("expected ErrDuplicateSlot, got %v", err)
	}
}

func TestRecord_HighRiskCreatesCoSignAtomically(t *testing.T) {
	db := newTestDB(t)
	reg := seedRegimen(t, db, func(r *domain.Regimen) { r.HighRisk = true })
	scheduled := utcTime(t, "2025-06-10T08:00:00Z")
	now := utcTime(t, "2025-06-10T08:02:00Z")
	s := newRecorder(db, now)

	res, err := s.Record(context.Background(), RecordInput{
		RegimenID:      reg.ID,
		AnimalID:       reg.AnimalID,
		HouseholdID:    "hh-1",
		CaregiverID:    "cg-1",
		ScheduledFor:   &scheduled,
		IdempotencyKey: "record:hr:1",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !res.Record.CosignPending {
		t.Fatal("high-risk record must be cosign_pending")
	}
	if res.CoSign == nil {
		t.Fatal("co-sign request must exist immediately after creation")
	}
	if res.CoSign.RequestedBy != "cg-1" || res.CoSign.State != domain.CoSignPending {
		t.Fatalf("unexpected co-sign request: %+v", res.CoSign)
	}
	if !res.CoSign.ExpiresAt.Equal(now.Add(s.CoSignWindow)) {
		t.Fatalf("expires_at = %v; want recording time + window", res.CoSign.ExpiresAt)
	}

	// A replay reattaches the same request.
	replay, err := s.Record(context.Background(), RecordInput{
		RegimenID:      reg.ID,
		AnimalID:       reg.AnimalID,
		HouseholdID:    "hh-1",
		CaregiverID:    "cg-1",
		ScheduledFor:   &scheduled,
		IdempotencyKey: "record:hr:1",
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.CoSign == nil || replay.CoSign.ID != res.CoSign.ID {
		t.Fatal("replay must return the original co-sign request")
	}
}

func TestRecord_SkipNeedsNoCoSignAndNoInventory(t *testing.T) {
	db := newTestDB(t)
	reg := seedRegimen(t, db, func(r *domain.Regimen) { r.HighRisk = true })
	src := seedInventory(t, db, "Amoxicillin", 1, nil)
	scheduled := utcTime(t, "2025-06-10T08:00:00Z")
	s := newRecorder(db, utcTime(t, "2025-06-10T08:01:00Z"))

	res, err := s.Record(context.Background(), RecordInput{
		RegimenID:         reg.ID,
		AnimalID:          reg.AnimalID,
		HouseholdID:       "hh-1",
		CaregiverID:       "cg-1",
		ScheduledFor:      &scheduled,
		IdempotencyKey:    "record:skip:1",
		InventorySourceID: &src.ID,
		Skip:              true,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if res.Record.Status != domain.DoseStatusSkipped {
		t.Fatalf("status = %q; want skipped", res.Record.Status)
	}
	if res.Record.CosignPending || res.CoSign != nil {
		t.Fatal("a skipped dose needs no second signature")
	}

	after, err := repo.GetInventorySource(context.Background(), db, src.ID, "hh-1")
	if err != nil {
		t.Fatalf("get inventory: %v", err)
	}
	if after.UnitsRemaining != 1 {
		t.Fatalf("skip must not consume inventory, units = %d", after.UnitsRemaining)
	}
}

func TestRecord_DiscontinuedRegimenRejected(t *testing.T) {
	db := newTestDB(t)
	reg := seedRegimen(t, db, nil)
	now := utcTime(t, "2025-06-10T08:00:00Z")
	if err := repo.DiscontinueRegimen(context.Background(), db, reg.ID, "hh-1", "cg-1", now); err != nil {
		t.Fatalf("discontinue: %v", err)
	}
	s := newRecorder(db, now.Add(time.Hour))

	_, err := s.Record(context.Background(), RecordInput{
		RegimenID:      reg.ID,
		AnimalID:       reg.AnimalID,
		HouseholdID:    "hh-1",
		CaregiverID:    "cg-1",
		IdempotencyKey: "record:disc:1",
	})
	if !errors.Is(err, ErrRegimenDiscontinued) {
		t.Fatalf("expected ErrRegimenDiscontinued, got %v", err)
	}
}

func TestRecord_PRNRegimenDropsScheduleSlot(t *testing.T) {
	db := newTestDB(t)
	reg := seedRegimen(t, db, func(r *domain.Regimen) {
		r.PRN = true
		r.TimesLocal = ""
	})
	scheduled := utcTime(t, "2025-06-10T08:00:00Z")
	s := newRecorder(db, utcTime(t, "2025-06-10T14:00:00Z"))

	res, err := s.Record(context.Background(), RecordInput{
		RegimenID:      reg.ID,
		AnimalID:       reg.AnimalID,
		HouseholdID:    "hh-1",
		CaregiverID:    "cg-1",
		ScheduledFor:   &scheduled, // stray slot from the client, ignored
		IdempotencyKey: "record:prn:1",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if res.Record.Status != domain.DoseStatusPRN {
		t.Fatalf("status = %q; want prn", res.Record.Status)
	}
	if res.Record.ScheduledFor != nil {
		t.Fatal("PRN administrations carry no schedule slot")
	}
}

func TestRecord_InventoryValidationAndDepletion(t *testing.T) {
	db := newTestDB(t)
	reg := seedRegimen(t, db, nil)
	now := utcTime(t, "2025-06-10T08:00:00Z")
	past := now.Add(-24 * time.Hour)
	expired := seedInventory(t, db, "Amoxicillin", 5, &past)
	wrongMed := seedInventory(t, db, "Meloxicam", 5, nil)
	lastUnit := seedInventory(t, db, "Amoxicillin", 1, nil)

	s := newRecorder(db, now)
	scheduled := func(day int) *time.Time {
		ts := utcTime(t, fmt.Sprintf("2025-06-%02dT08:00:00Z", day))
		return &ts
	}
	base := func(key string, day int, srcID string) RecordInput {
		return RecordInput{
			RegimenID:         reg.ID,
			AnimalID:          reg.AnimalID,
			HouseholdID:       "hh-1",
			CaregiverID:       "cg-1",
			ScheduledFor:      scheduled(day),
			IdempotencyKey:    key,
			InventorySourceID: &srcID,
		}
	}

	if _, err := s.Record(context.Background(), base("inv:exp", 1, expired.ID)); !errors.Is(err, ErrInventoryExpired) {
		t.Fatalf("expected ErrInventoryExpired, got %v", err)
	}
	if _, err := s.Record(context.Background(), base("inv:mis", 2, wrongMed.ID)); !errors.Is(err, ErrInventoryMismatch) {
		t.Fatalf("expected ErrInventoryMismatch, got %v", err)
	}

	// Expiry is overridable with an audit stamp.
	in := base("inv:ovr", 3, expired.ID)
	in.AllowOverride = true
	in.OverrideReason = "vet approved use past expiry"
	res, err := s.Record(context.Background(), in)
	if err != nil {
		t.Fatalf("override Record: %v", err)
	}
	if !res.Record.InventoryOverride || res.Record.OverrideReason == nil {
		t.Fatal("override must be stamped onto the record")
	}

	// Exhaustion is never overridable.
	if _, err := s.Record(context.Background(), base("inv:last", 4, lastUnit.ID)); err != nil {
		t.Fatalf("consume last unit: %v", err)
	}
	in = base("inv:empty", 5, lastUnit.ID)
	in.AllowOverride = true
	if _, err := s.Record(context.Background(), in); !errors.Is(err, ErrInventoryExhausted) {
		t.Fatalf("expected ErrInventoryExhausted, got %v", err)
	}
}

func TestRecordBulk_PartialFailureAndReplaySummary(t *testing.T) {
	db := newTestDB(t)
	regA := seedRegimen(t, db, func(r *domain.Regimen) { r.AnimalID = "animal-a" })
	scheduled := utcTime(t, "2025-06-10T08:00:00Z")
	s := newRecorder(db, utcTime(t, "2025-06-10T08:05:00Z"))

	// Occupy animal-c's derived key slot through a conflicting recording so
	// the bulk call fails for exactly one animal.
	if _, err := s.Record(context.Background(), RecordInput{
		RegimenID:      regA.ID,
		AnimalID:       "animal-c",
		HouseholdID:    "hh-1",
		CaregiverID:    "cg-2",
		ScheduledFor:   &scheduled,
		IdempotencyKey: "record:solo:c",
	}); err != nil {
		t.Fatalf("seed conflicting record: %v", err)
	}

	in := BulkInput{
		HouseholdID:    "hh-1",
		RegimenID:      regA.ID,
		AnimalIDs:      []string{"animal-a", "animal-b", "animal-c"},
		CaregiverID:    "cg-1",
		ScheduledFor:   &scheduled,
		IdempotencyKey: "bulk:morning",
	}
	first, err := s.RecordBulk(context.Background(), in)
	if err != nil {
		t.Fatalf("first RecordBulk: %v", err)
	}
	if first.Summary.Total != 3 || first.Summary.Successful != 2 || first.Summary.Failed != 1 {
		t.Fatalf("summary = %+v; want 3/2/1", first.Summary)
	}
	if len(first.Failed) != 1 || first.Failed[0].AnimalID != "animal-c" || first.Failed[0].Reason != "duplicate_slot" {
		t.Fatalf("unexpected failure detail: %+v", first.Failed)
	}

	var before int64
	if err := db.Model(&domain.AdministrationRecord{}).Count(&before).Error; err != nil {
		t.Fatalf("count: %v", err)
	}

	second, err := s.RecordBulk(context.Background(), in)
	if err != nil {
		t.Fatalf("second RecordBulk: %v", err)
	}
	if second.Summary != first.Summary {
		t.Fatalf("replayed summary %+v differs from original %+v", second.Summary, first.Summary)
	}
	for _, res := range second.Successful {
		if !res.Replayed {
			t.Fatalf("per-animal result for %s not flagged as replay", res.Record.AnimalID)
		}
	}

	var after int64
	if err := db.Model(&domain.AdministrationRecord{}).Count(&after).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if after != before {
		t.Fatalf("replayed bulk created rows: %d -> %d", before, after)
	}
}

func TestMaterializeMissed_CollapsesOnDeterministicKey(t *testing.T) {
	db := newTestDB(t)
	reg := seedRegimen(t, db, nil)
	scheduled := utcTime(t, "2025-06-10T08:00:00Z")
	s := newRecorder(db, utcTime(t, "2025-06-10T12:00:00Z"))

	created, err := s.MaterializeMissed(context.Background(), reg, scheduled)
	if err != nil {
		t.Fatalf("first MaterializeMissed: %v", err)
	}
	if !created {
		t.Fatal("first materialization must create the row")
	}
	created, err = s.MaterializeMissed(context.Background(), reg, scheduled)
	if err != nil {
		t.Fatalf("second MaterializeMissed: %v", err)
	}
	if created {
		t.Fatal("second materialization must collapse onto the first")
	}

	rec, err := repo.FindBySlot(context.Background(), db, reg.ID, reg.AnimalID, scheduled)
	if err != nil {
		t.Fatalf("find slot: %v", err)
	}
	if rec.Status != domain.DoseStatusMissed || rec.CaregiverID != domain.SystemCaregiverID {
		t.Fatalf("unexpected materialized row: status=%q caregiver=%q", rec.Status, rec.CaregiverID)
	}
	if !rec.RecordedAt.Equal(scheduled.Add(2 * time.Hour)) {
		t.Fatalf("recorded_at = %v; want the missed cutoff", rec.RecordedAt)
	}
}

func TestMaterializeMissed_RealRecordingWins(t *testing.T) {
	db := newTestDB(t)
	reg := seedRegimen(t, db, nil)
	scheduled := utcTime(t, "2025-06-10T08:00:00Z")
	s := newRecorder(db, utcTime(t, "2025-06-10T08:10:00Z"))

	if _, err := s.Record(context.Background(), RecordInput{
		RegimenID:      reg.ID,
		AnimalID:       reg.AnimalID,
		HouseholdID:    "hh-1",
		CaregiverID:    "cg-1",
		ScheduledFor:   &scheduled,
		IdempotencyKey: "record:real:1",
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	created, err := s.MaterializeMissed(context.Background(), reg, scheduled)
	if err != nil {
		t.Fatalf("MaterializeMissed: %v", err)
	}
	if created {
		t.Fatal("an occupied slot must not be materialized as missed")
	}
}

func TestUndo_FreesSlotAndRemovesOpenCoSign(t *testing.T) {
	db := newTestDB(t)
	reg := seedRegimen(t, db, func(r *domain.Regimen) { r.RequiresCoSign = true })
	scheduled := utcTime(t, "2025-06-10T08:00:00Z")
	s := newRecorder(db, utcTime(t, "2025-06-10T08:01:00Z"))

	res, err := s.Record(context.Background(), RecordInput{
		RegimenID:      reg.ID,
		AnimalID:       reg.AnimalID,
		HouseholdID:    "hh-1",
		CaregiverID:    "cg-1",
		ScheduledFor:   &scheduled,
		IdempotencyKey: "record:undo:1",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	if err := s.Undo(context.Background(), res.Record.ID, "hh-1", "cg-1"); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if _, err := repo.GetCoSignByAdministration(context.Background(), db, res.Record.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("co-sign request must be removed with the undo, got %v", err)
	}

	// The slot is free again under a fresh key.
	again, err := s.Record(context.Background(), RecordInput{
		RegimenID:      reg.ID,
		AnimalID:       reg.AnimalID,
		HouseholdID:    "hh-1",
		CaregiverID:    "cg-2",
		ScheduledFor:   &scheduled,
		IdempotencyKey: "record:undo:2",
	})
	if err != nil {
		t.Fatalf("re-record after undo: %v", err)
	}
	if again.Record.ID == res.Record.ID {
		t.Fatal("re-recording must create a fresh row")
	}

	// Undoing something already gone reports not found.
	if err := s.Undo(context.Background(), res.Record.ID, "hh-1", "cg-1"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestEdit_StampsAuditMarkers(t *testing.T) {
	db := newTestDB(t)
	reg := seedRegimen(t, db, nil)
	scheduled := utcTime(t, "2025-06-10T08:00:00Z")
	s := newRecorder(db, utcTime(t, "2025-06-10T08:01:00Z"))

	res, err := s.Record(context.Background(), RecordInput{
		RegimenID:      reg.ID,
		AnimalID:       reg.AnimalID,
		HouseholdID:    "hh-1",
		CaregiverID:    "cg-1",
		ScheduledFor:   &scheduled,
		IdempotencyKey: "record:edit:1",
		Notes:          "gave with food",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	edited, err := s.Edit(context.Background(), res.Record.ID, "hh-1", "cg-2", "gave with food, half dose wasted")
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if !edited.IsEdited || edited.EditedBy == nil || *edited.EditedBy != "cg-2" {
		t.Fatalf("edit markers not stamped: %+v", edited)
	}
	if edited.Notes != "gave with food, half dose wasted" {
		t.Fatalf("notes = %q", edited.Notes)
	}

	if _, err := s.Edit(context.Background(), "no-such-id", "hh-1", "cg-2", "x"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestRecord_RequiresKeyAndCaregiver(t *testing.T) {
	db := newTestDB(t)
	s := newRecorder(db, utcTime(t, "2025-06-10T08:00:00Z"))

	if _, err := s.Record(context.Background(), RecordInput{CaregiverID: "cg-1"}); !errors.Is(err, ErrMissingIdempotencyKey) {
		t.Fatalf("expected ErrMissingIdempotencyKey, got %v", err)
	}
	if _, err := s.Record(context.Background(), RecordInput{IdempotencyKey: "k"}); !errors.Is(err, ErrMissingCaregiver) {
		t.Fatalf("expected ErrMissingCaregiver, got %v", err)
	}
}
