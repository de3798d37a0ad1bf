package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kjanat/vet-med-tracker-sub009/internal/domain"
	"github.com/kjanat/vet-med-tracker-sub009/internal/ids"
)

func seedCoSign(t *testing.T, adminID string, expiresAt time.Time) *domain.CoSignRequest {
	t.Helper()
	return &domain.CoSignRequest{
		ID:               ids.New(),
		AdministrationID: adminID,
		RegimenID:        "reg-1",
		HouseholdID:      "hh-1",
		RequestedBy:      "cg-1",
		RequestedAt:      time.Now().UTC(),
		ExpiresAt:        expiresAt,
		State:            domain.CoSignPending,
	}
}

func TestCreateCoSign_OnePerAdministration(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	req := seedCoSign(t, "adm-1", time.Now().UTC().Add(10*time.Minute))
	if err := CreateCoSign(ctx, db, req); err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := seedCoSign(t, "adm-1", time.Now().UTC().Add(10*time.Minute))
	if err := CreateCoSign(ctx, db, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for second request on same record, got %v", err)
	}
}

func TestConfirmCoSign_CASExactlyOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	req := seedCoSign(t, "adm-2", now.Add(10*time.Minute))
	if err := CreateCoSign(ctx, db, req); err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := ConfirmCoSign(ctx, db, req.ID, "cg-2", now)
	if err != nil || !ok {
		t.Fatalf("first confirm should win: (%v, %v)", ok, err)
	}
	ok, err = ConfirmCoSign(ctx, db, req.ID, "cg-3", now)
	if err != nil {
		t.Fatalf("second confirm errored: %v", err)
	}
	if ok {
		t.Fatal("second confirm must lose the compare-and-swap")
	}

	got, err := GetCoSignByAdministration(ctx, db, "adm-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.CoSignConfirmed || got.ConfirmedBy == nil || *got.ConfirmedBy != "cg-2" {
		t.Fatalf("unexpected state after CAS: %+v", got)
	}
}

func TestConfirmCoSign_PastExpiryLoses(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	req := seedCoSign(t, "adm-3", now.Add(-time.Minute))
	if err := CreateCoSign(ctx, db, req); err != nil {
		t.Fatalf("create: %v", err)
	}
	ok, err := ConfirmCoSign(ctx, db, req.ID, "cg-2", now)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if ok {
		t.Fatal("confirm past expires_at must not win")
	}
}

func TestExpireLapsedCoSigns(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	lapsed := seedCoSign(t, "adm-4", now.Add(-time.Minute))
	live := seedCoSign(t, "adm-5", now.Add(10*time.Minute))
	for _, r := range []*domain.CoSignRequest{lapsed, live} {
		if err := CreateCoSign(ctx, db, r); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	n, err := ExpireLapsedCoSigns(ctx, db, now)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 expiry, got (%d, %v)", n, err)
	}
	// Idempotent: a second sweep finds nothing to do.
	n, err = ExpireLapsedCoSigns(ctx, db, now)
	if err != nil || n != 0 {
		t.Fatalf("second sweep should expire 0, got (%d, %v)", n, err)
	}

	pending, err := ListPendingCoSigns(ctx, db, "hh-1", now)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].AdministrationID != "adm-5" {
		t.Fatalf("unexpected pending set: %+v", pending)
	}
}

func TestDeleteCoSignByAdministration(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	req := seedCoSign(t, "adm-6", time.Now().UTC().Add(10*time.Minute))
	if err := CreateCoSign(ctx, db, req); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := DeleteCoSignByAdministration(ctx, db, "adm-6"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := GetCoSignByAdministration(ctx, db, "adm-6"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
