package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kjanat/vet-med-tracker-sub009/internal/domain"
	"github.com/kjanat/vet-med-tracker-sub009/internal/repo"
)

func newSyncService(db *gorm.DB, at time.Time) *SyncService {
	rec := newRecorder(db, at)
	return &SyncService{
		DB:          db,
		Recorder:    rec,
		CoSigner:    &CoSignService{DB: db, Now: func() time.Time { return at }},
		MaxAttempts: 2,
		BaseBackoff: time.Millisecond,
		Now:         func() time.Time { return at },
	}
}

func recordPayload(t *testing.T, reg *domain.Regimen, caregiver string, scheduled *time.Time) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(RecordActionPayload{
		RegimenID:    reg.ID,
		AnimalID:     reg.AnimalID,
		HouseholdID:  reg.HouseholdID,
		CaregiverID:  caregiver,
		ScheduledFor: scheduled,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return raw
}

func TestEnqueue_SameKeyReturnsExistingAction(t *testing.T) {
	db := newTestDB(t)
	now := utcTime(t, "2025-06-10T08:00:00Z")
	s := newSyncService(db, now)

	in := EnqueueInput{
		DeviceID:       "dev-1",
		Kind:           domain.ActionRecord,
		Payload:        json.RawMessage(`{}`),
		IdempotencyKey: "q:1",
	}
	first, err := s.Enqueue(context.Background(), in)
	if err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	second, err := s.Enqueue(context.Background(), in)
	if err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}
	if second.Seq != first.Seq {
		t.Fatalf("re-enqueue created a new row: %d vs %d", second.Seq, first.Seq)
	}

	if _, err := s.Enqueue(context.Background(), EnqueueInput{DeviceID: "dev-1", Kind: domain.ActionRecord}); !errors.Is(err, ErrMissingIdempotencyKey) {
		t.Fatalf("expected ErrMissingIdempotencyKey, got %v", err)
	}
	if _, err := s.Enqueue(context.Background(), EnqueueInput{DeviceID: "dev-1", Kind: "nonsense", IdempotencyKey: "q:x"}); !errors.Is(err, ErrUnknownActionKind) {
		t.Fatalf("expected ErrUnknownActionKind, got %v", err)
	}
}

func TestFlush_AppliesInOrderAndRejectsConflicts(t *testing.T) {
	db := newTestDB(t)
	now := utcTime(t, "2025-06-10T08:05:00Z")
	s := newSyncService(db, now)

	regA := seedRegimen(t, db, nil)
	regB := seedRegimen(t, db, func(r *domain.Regimen) { r.AnimalID = "animal-2" })
	slot1 := utcTime(t, "2025-06-09T08:00:00Z")
	slot2 := utcTime(t, "2025-06-10T08:00:00Z")

	enqueue := func(key string, reg *domain.Regimen, scheduled *time.Time) {
		t.Helper()
		if _, err := s.Enqueue(context.Background(), EnqueueInput{
			DeviceID:       "dev-1",
			Kind:           domain.ActionRecord,
			Payload:        recordPayload(t, reg, "cg-1", scheduled),
			IdempotencyKey: key,
		}); err != nil {
			t.Fatalf("enqueue %s: %v", key, err)
		}
	}
	enqueue("q:1", regA, &slot1)
	enqueue("q:2", regA, &slot2)
	enqueue("q:3", regB, &slot2)

	// The regimen behind action 3 is discontinued before the flush runs.
	if err := repo.DiscontinueRegimen(context.Background(), db, regB.ID, "hh-1", "cg-2", now); err != nil {
		t.Fatalf("discontinue: %v", err)
	}

	res, err := s.Flush(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(res.Applied) != 2 || res.Applied[0].IdempotencyKey != "q:1" || res.Applied[1].IdempotencyKey != "q:2" {
		t.Fatalf("applied = %+v; want q:1 then q:2", res.Applied)
	}
	if len(res.Rejected) != 1 || res.Rejected[0].IdempotencyKey != "q:3" || res.Rejected[0].Reason != "regimen_discontinued" {
		t.Fatalf("rejected = %+v; want q:3 regimen_discontinued", res.Rejected)
	}

	// Applied actions leave the queue; the rejection stays for review.
	remaining, err := s.List(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Status != domain.QueueRejected {
		t.Fatalf("queue after flush = %+v; want only the rejected action", remaining)
	}
	if remaining[0].RejectReason == nil || *remaining[0].RejectReason != "regimen_discontinued" {
		t.Fatalf("reject reason = %v", remaining[0].RejectReason)
	}

	// Both applied recordings are persisted.
	for _, slot := range []time.Time{slot1, slot2} {
		if _, err := repo.FindBySlot(context.Background(), db, regA.ID, regA.AnimalID, slot); err != nil {
			t.Fatalf("recording for %v missing: %v", slot, err)
		}
	}
}

func bulkPayload(t *testing.T, reg *domain.Regimen, animals []string, scheduled *time.Time) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(RecordActionPayload{
		RegimenID:    reg.ID,
		AnimalIDs:    animals,
		HouseholdID:  reg.HouseholdID,
		CaregiverID:  "cg-1",
		ScheduledFor: scheduled,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return raw
}

func TestFlush_BulkActionConflictsRejectedPerAnimal(t *testing.T) {
	db := newTestDB(t)
	now := utcTime(t, "2025-06-10T08:05:00Z")
	s := newSyncService(db, now)
	reg := seedRegimen(t, db, nil)
	slot := utcTime(t, "2025-06-10T08:00:00Z")

	if _, err := s.Enqueue(context.Background(), EnqueueInput{
		DeviceID:       "dev-1",
		Kind:           domain.ActionBulk,
		Payload:        bulkPayload(t, reg, []string{"animal-1", "animal-2"}, &slot),
		IdempotencyKey: "q:bulk",
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := repo.DiscontinueRegimen(context.Background(), db, reg.ID, "hh-1", "cg-2", now); err != nil {
		t.Fatalf("discontinue: %v", err)
	}

	res, err := s.Flush(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(res.Applied) != 0 {
		t.Fatalf("a fully failed bulk action must not count as applied: %+v", res.Applied)
	}
	want := "animal-1:regimen_discontinued;animal-2:regimen_discontinued"
	if len(res.Rejected) != 1 || res.Rejected[0].Reason != want {
		t.Fatalf("rejected = %+v; want reason %q", res.Rejected, want)
	}

	// The action stays in the queue for review instead of vanishing.
	remaining, err := s.List(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Status != domain.QueueRejected {
		t.Fatalf("queue after flush = %+v; want the rejected bulk action", remaining)
	}
	if remaining[0].RejectReason == nil || *remaining[0].RejectReason != want {
		t.Fatalf("reject reason = %v; want %q", remaining[0].RejectReason, want)
	}

	var count int64
	if err := db.Model(&domain.AdministrationRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("rows = %d; want none for a fully rejected bulk action", count)
	}
}

func TestFlush_PartiallyFailedBulkActionKeepsSuccessfulRecords(t *testing.T) {
	db := newTestDB(t)
	now := utcTime(t, "2025-06-10T08:05:00Z")
	s := newSyncService(db, now)
	reg := seedRegimen(t, db, nil)
	slot := utcTime(t, "2025-06-10T08:00:00Z")

	// animal-1's slot is already taken under a different key, so its half of
	// the bulk action conflicts while animal-2's half succeeds.
	if _, err := s.Recorder.Record(context.Background(), RecordInput{
		RegimenID:      reg.ID,
		AnimalID:       "animal-1",
		HouseholdID:    "hh-1",
		CaregiverID:    "cg-1",
		ScheduledFor:   &slot,
		IdempotencyKey: "q:earlier",
	}); err != nil {
		t.Fatalf("direct record: %v", err)
	}
	if _, err := s.Enqueue(context.Background(), EnqueueInput{
		DeviceID:       "dev-1",
		Kind:           domain.ActionBulk,
		Payload:        bulkPayload(t, reg, []string{"animal-1", "animal-2"}, &slot),
		IdempotencyKey: "q:bulk",
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	res, err := s.Flush(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(res.Rejected) != 1 || res.Rejected[0].Reason != "animal-1:duplicate_slot" {
		t.Fatalf("rejected = %+v; want animal-1:duplicate_slot", res.Rejected)
	}
	if _, err := repo.FindBySlot(context.Background(), db, reg.ID, "animal-2", slot); err != nil {
		t.Fatalf("animal-2's recording must persist: %v", err)
	}
}

func TestFlush_ActionAlreadyAppliedDirectlyCollapses(t *testing.T) {
	db := newTestDB(t)
	now := utcTime(t, "2025-06-10T08:05:00Z")
	s := newSyncService(db, now)
	reg := seedRegimen(t, db, nil)
	slot := utcTime(t, "2025-06-10T08:00:00Z")

	// The same key already reached the server over the direct path.
	if _, err := s.Recorder.Record(context.Background(), RecordInput{
		RegimenID:      reg.ID,
		AnimalID:       reg.AnimalID,
		HouseholdID:    "hh-1",
		CaregiverID:    "cg-1",
		ScheduledFor:   &slot,
		IdempotencyKey: "q:direct",
	}); err != nil {
		t.Fatalf("direct record: %v", err)
	}

	if _, err := s.Enqueue(context.Background(), EnqueueInput{
		DeviceID:       "dev-1",
		Kind:           domain.ActionRecord,
		Payload:        recordPayload(t, reg, "cg-1", &slot),
		IdempotencyKey: "q:direct",
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	res, err := s.Flush(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(res.Applied) != 1 || !res.Applied[0].Replayed {
		t.Fatalf("applied = %+v; want one replayed action", res.Applied)
	}

	var count int64
	if err := db.Model(&domain.AdministrationRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("rows = %d; want 1", count)
	}
}

func TestFlush_SecondConcurrentFlushRefused(t *testing.T) {
	db := newTestDB(t)
	s := newSyncService(db, utcTime(t, "2025-06-10T08:00:00Z"))

	s.flushing.Store(true)
	if _, err := s.Flush(context.Background(), "dev-1"); !errors.Is(err, ErrFlushInProgress) {
		t.Fatalf("expected ErrFlushInProgress, got %v", err)
	}
	s.flushing.Store(false)

	if _, err := s.Flush(context.Background(), "dev-1"); err != nil {
		t.Fatalf("flush after release: %v", err)
	}
}

func TestFlush_TransientFailureDefersRestOfQueue(t *testing.T) {
	db := newTestDB(t)
	now := utcTime(t, "2025-06-10T08:05:00Z")
	s := newSyncService(db, now)
	reg := seedRegimen(t, db, nil)
	slot := utcTime(t, "2025-06-10T08:00:00Z")

	// Point the recorder at a database without a schema: every apply fails
	// with an unclassified (transient) storage error.
	broken, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s-broken?mode=memory&cache=shared", t.Name())), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open broken db: %v", err)
	}
	s.Recorder.DB = broken

	for i, key := range []string{"q:t1", "q:t2"} {
		offset := time.Duration(i) * time.Hour
		at := slot.Add(offset)
		if _, err := s.Enqueue(context.Background(), EnqueueInput{
			DeviceID:       "dev-1",
			Kind:           domain.ActionRecord,
			Payload:        recordPayload(t, reg, "cg-1", &at),
			IdempotencyKey: key,
		}); err != nil {
			t.Fatalf("enqueue %s: %v", key, err)
		}
	}

	res, err := s.Flush(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(res.Applied) != 0 || len(res.Rejected) != 0 {
		t.Fatalf("transient failures must not apply or reject: %+v", res)
	}
	if res.Deferred != 2 {
		t.Fatalf("deferred = %d; want 2 (the failing action and everything after it)", res.Deferred)
	}

	remaining, err := s.List(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("queue must retain deferred actions, got %d", len(remaining))
	}
	if remaining[0].Attempts == 0 {
		t.Fatal("deferred action must have its attempt count bumped")
	}
	if remaining[1].Attempts != 0 {
		t.Fatal("actions behind the failure are untouched")
	}
}

func TestFlush_MalformedPayloadRejected(t *testing.T) {
	db := newTestDB(t)
	s := newSyncService(db, utcTime(t, "2025-06-10T08:00:00Z"))

	if _, err := s.Enqueue(context.Background(), EnqueueInput{
		DeviceID:       "dev-1",
		Kind:           domain.ActionRecord,
		Payload:        json.RawMessage(`{not json`),
		IdempotencyKey: "q:bad",
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	res, err := s.Flush(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(res.Rejected) != 1 || res.Rejected[0].Reason != "bad_payload" {
		t.Fatalf("rejected = %+v; want bad_payload", res.Rejected)
	}
}

func TestAck_RemovesOnlyRejectedActions(t *testing.T) {
	db := newTestDB(t)
	now := utcTime(t, "2025-06-10T08:00:00Z")
	s := newSyncService(db, now)

	pending, err := s.Enqueue(context.Background(), EnqueueInput{
		DeviceID:       "dev-1",
		Kind:           domain.ActionRecord,
		Payload:        json.RawMessage(`{}`),
		IdempotencyKey: "q:pending",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.Ack(context.Background(), "dev-1", pending.Seq); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("pending actions must not be ackable, got %v", err)
	}

	if err := repo.MarkActionRejected(context.Background(), db, pending.Seq, "regimen_not_found", 1); err != nil {
		t.Fatalf("mark rejected: %v", err)
	}
	if err := s.Ack(context.Background(), "dev-1", pending.Seq); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	remaining, err := s.List(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("acked action must be gone, got %d", len(remaining))
	}
}

func TestFlush_UndoAndCoSignActions(t *testing.T) {
	db := newTestDB(t)
	now := utcTime(t, "2025-06-10T08:05:00Z")
	s := newSyncService(db, now)
	rec, _ := seedHighRiskRecording(t, db, now)

	cosignRaw, err := json.Marshal(ResolveActionPayload{
		AdministrationID: rec.ID,
		HouseholdID:      "hh-1",
		CaregiverID:      "cg-2",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := s.Enqueue(context.Background(), EnqueueInput{
		DeviceID:       "dev-1",
		Kind:           domain.ActionCoSign,
		Payload:        cosignRaw,
		IdempotencyKey: "q:cosign",
	}); err != nil {
		t.Fatalf("enqueue cosign: %v", err)
	}

	undoRaw, err := json.Marshal(ResolveActionPayload{
		AdministrationID: rec.ID,
		HouseholdID:      "hh-1",
		CaregiverID:      "cg-1",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := s.Enqueue(context.Background(), EnqueueInput{
		DeviceID:       "dev-1",
		Kind:           domain.ActionUndo,
		Payload:        undoRaw,
		IdempotencyKey: "q:undo",
	}); err != nil {
		t.Fatalf("enqueue undo: %v", err)
	}

	res, err := s.Flush(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(res.Applied) != 2 {
		t.Fatalf("applied = %+v; want both actions", res)
	}

	// The record was confirmed, then undone.
	if _, err := repo.GetAdministration(context.Background(), db, rec.ID, "hh-1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("record must be soft-deleted after the undo, got %v", err)
	}
}
