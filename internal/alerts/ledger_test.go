package alerts

import (
	"context"
	"errors"
	"testing"

	"github.com/MarcoPoloResearchLab/villagewatch/internal/models"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	db := openTestDatabase(t)
	ledger, err := NewLedger(LedgerConfig{Database: db, Clock: newSteppingClock().Now, IDProvider: &sequentialIDs{prefix: "delivery"}})
	if err != nil {
		t.Fatalf("failed to build ledger: %v", err)
	}
	return ledger
}

func TestLedgerMarkReadKeepsFirstTimestamp(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	if err := ledger.RecordDelivery(ctx, "alert-1", "user-1"); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := ledger.MarkRead(ctx, "alert-1", "user-1"); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	first, err := ledger.ListForUser(ctx, "user-1")
	if err != nil || len(first) != 1 || first[0].ReadAt == nil {
		t.Fatalf("expected one read delivery, got %+v (%v)", first, err)
	}

	if err := ledger.MarkRead(ctx, "alert-1", "user-1"); err != nil {
		t.Fatalf("second mark read failed: %v", err)
	}
	second, err := ledger.ListForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !second[0].ReadAt.Equal(*first[0].ReadAt) {
		t.Fatalf("expected read_at to stay %v, got %v", *first[0].ReadAt, *second[0].ReadAt)
	}
}

func TestLedgerMarkReadWithoutReceiptIsNoOp(t *testing.T) {
	ledger := newTestLedger(t)
	if err := ledger.MarkRead(context.Background(), "alert-missing", "user-1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	deliveries, err := ledger.ListForUser(context.Background(), "user-1")
	if err != nil || len(deliveries) != 0 {
		t.Fatalf("expected no rows, got %+v (%v)", deliveries, err)
	}
}

func TestLedgerListsNewestFirstAndCountsUnread(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	for _, alertID := range []string{"alert-1", "alert-2", "alert-3"} {
		if err := ledger.RecordDelivery(ctx, alertID, "user-1"); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}
	if err := ledger.RecordDelivery(ctx, "alert-1", "user-2"); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := ledger.MarkRead(ctx, "alert-2", "user-1"); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}

	deliveries, err := ledger.ListForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(deliveries) != 3 || deliveries[0].AlertID != "alert-3" || deliveries[2].AlertID != "alert-1" {
		t.Fatalf("unexpected order: %+v", deliveries)
	}

	unread, err := ledger.UnreadCount(ctx, "user-1")
	if err != nil || unread != 2 {
		t.Fatalf("expected 2 unread, got %d (%v)", unread, err)
	}
}

func TestLedgerRejectsBlankIdentifiers(t *testing.T) {
	ledger := newTestLedger(t)
	if err := ledger.RecordDelivery(context.Background(), " ", "user-1"); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
