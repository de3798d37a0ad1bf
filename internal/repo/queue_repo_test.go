package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kjanat/vet-med-tracker-sub009/internal/domain"
)

func seedAction(t *testing.T, deviceID, key string) *domain.QueuedAction {
	t.Helper()
	return &domain.QueuedAction{
		DeviceID:       deviceID,
		Kind:           domain.ActionRecord,
		Payload:        `{"regimen_id":"reg-1"}`,
		IdempotencyKey: key,
		ClientQueuedAt: time.Now().UTC(),
		Status:         domain.QueuePending,
	}
}

func TestEnqueueAction_OrderAndDuplicate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, key := range []string{"q-1", "q-2", "q-3"} {
		if err := EnqueueAction(ctx, db, seedAction(t, "dev-1", key)); err != nil {
			t.Fatalf("enqueue %s: %v", key, err)
		}
	}
	if err := EnqueueAction(ctx, db, seedAction(t, "dev-1", "q-2")); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate on re-enqueue, got %v", err)
	}

	pending, err := ListPendingActions(ctx, db, "dev-1")
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending actions, got %d", len(pending))
	}
	for i := 1; i < len(pending); i++ {
		if pending[i-1].Seq >= pending[i].Seq {
			t.Fatalf("pending actions not in seq order: %d then %d", pending[i-1].Seq, pending[i].Seq)
		}
	}
	if pending[0].IdempotencyKey != "q-1" || pending[2].IdempotencyKey != "q-3" {
		t.Fatalf("replay order lost: %+v", pending)
	}
}

func TestMarkActionRejected_RetainedUntilAck(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := seedAction(t, "dev-2", "q-rej")
	if err := EnqueueAction(ctx, db, a); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := MarkActionRejected(ctx, db, a.Seq, "regimen_discontinued", 1); err != nil {
		t.Fatalf("reject: %v", err)
	}

	// Rejected actions drop out of the pending view but stay listed.
	pending, err := ListPendingActions(ctx, db, "dev-2")
	if err != nil || len(pending) != 0 {
		t.Fatalf("pending after rejection: (%d, %v)", len(pending), err)
	}
	all, err := ListActions(ctx, db, "dev-2")
	if err != nil || len(all) != 1 {
		t.Fatalf("all after rejection: (%d, %v)", len(all), err)
	}
	if all[0].Status != domain.QueueRejected || all[0].RejectReason == nil || *all[0].RejectReason != "regimen_discontinued" {
		t.Fatalf("rejection not structured: %+v", all[0])
	}

	if err := AckRejectedAction(ctx, db, "dev-2", a.Seq); err != nil {
		t.Fatalf("ack: %v", err)
	}
	all, err = ListActions(ctx, db, "dev-2")
	if err != nil || len(all) != 0 {
		t.Fatalf("queue not empty after ack: (%d, %v)", len(all), err)
	}
}

func TestAckRejectedAction_PendingNotAckable(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := seedAction(t, "dev-3", "q-pend")
	if err := EnqueueAction(ctx, db, a); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := AckRejectedAction(ctx, db, "dev-3", a.Seq); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound when acking a pending action, got %v", err)
	}
}

func TestDeleteAction_RemovesApplied(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := seedAction(t, "dev-4", "q-done")
	if err := EnqueueAction(ctx, db, a); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := DeleteAction(ctx, db, "dev-4", a.Seq); err != nil {
		t.Fatalf("delete: %v", err)
	}
	all, err := ListActions(ctx, db, "dev-4")
	if err != nil || len(all) != 0 {
		t.Fatalf("applied action still queued: (%d, %v)", len(all), err)
	}
}
