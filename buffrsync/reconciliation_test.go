package buffrsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/vouchers_backend/models"
	"bitbucket.org/mmdatafocus/vouchers_backend/utils"
)

type fakeReconStore struct {
	vouchers []*models.Voucher
	saved    []*models.ReconciliationRecord
	loadErr  error
}

func (f *fakeReconStore) VouchersIssuedOn(ctx context.Context, date time.Time) ([]*models.Voucher, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.vouchers, nil
}

func (f *fakeReconStore) SaveRecord(ctx context.Context, record *models.ReconciliationRecord) error {
	f.saved = append(f.saved, record)
	return nil
}

func reconVoucher(id string, status models.VoucherStatus) *models.Voucher {
	v := testVoucher(id)
	v.Status = status
	return v
}

func TestReconcileMatchesAndDiscrepancies(t *testing.T) {
	store := &fakeReconStore{vouchers: []*models.Voucher{
		reconVoucher("v-1", models.VoucherStatusRedeemed),
		reconVoucher("v-2", models.VoucherStatusDelivered),
		reconVoucher("v-3", models.VoucherStatusRedeemed),
		reconVoucher("v-4", models.VoucherStatusDelivered),
	}}
	partner := &fakePartner{statuses: map[string]string{
		"v-1": "redeemed",
		"v-2": "redeemed", // partner ahead of the ledger
		"v-3": "redeemed",
		"v-4": "delivered",
	}}

	date := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	report, err := NewReconciler(partner, store).Reconcile(context.Background(), date)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if report.TotalVouchers != 4 || report.Matched != 3 || report.Discrepancies != 1 {
		t.Fatalf("report = total %d matched %d discrepancies %d", report.TotalVouchers, report.Matched, report.Discrepancies)
	}
	if report.MatchRate != 75.0 {
		t.Errorf("MatchRate = %v, want 75", report.MatchRate)
	}
	if report.Date != "2026-08-27" {
		t.Errorf("Date = %s", report.Date)
	}
	if len(store.saved) != 4 {
		t.Fatalf("saved %d records, want 4", len(store.saved))
	}

	for _, record := range store.saved {
		if record.VoucherId == "v-2" {
			if record.Match {
				t.Error("v-2 marked as matching")
			}
			if record.Discrepancy == nil {
				t.Error("v-2 has no discrepancy text")
			}
		}
	}
}

func TestReconcilePartnerErrorBecomesUnknown(t *testing.T) {
	store := &fakeReconStore{vouchers: []*models.Voucher{
		reconVoucher("v-1", models.VoucherStatusRedeemed),
	}}
	partner := &fakePartner{
		statuses:  map[string]string{},
		statusErr: map[string]error{"v-1": errors.New("timeout")},
	}

	report, err := NewReconciler(partner, store).Reconcile(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if report.Discrepancies != 1 || report.Matched != 0 {
		t.Fatalf("report = %+v, want one discrepancy", report)
	}
	record := store.saved[0]
	if record.PartnerStatus != "unknown" || record.Match {
		t.Errorf("record = %+v, want partner status unknown and no match", record)
	}
}

func TestReconcileEmptyDay(t *testing.T) {
	store := &fakeReconStore{}
	report, err := NewReconciler(&fakePartner{}, store).Reconcile(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if report.TotalVouchers != 0 || report.MatchRate != 0 {
		t.Errorf("report = %+v, want empty with zero match rate", report)
	}
}

func TestReconcileMatchRateRounding(t *testing.T) {
	store := &fakeReconStore{vouchers: []*models.Voucher{
		reconVoucher("v-1", models.VoucherStatusRedeemed),
		reconVoucher("v-2", models.VoucherStatusRedeemed),
		reconVoucher("v-3", models.VoucherStatusDelivered),
	}}
	partner := &fakePartner{statuses: map[string]string{
		"v-1": "redeemed",
		"v-2": "redeemed",
		"v-3": "redeemed",
	}}

	report, err := NewReconciler(partner, store).Reconcile(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	// 2/3 rounds to two decimal places.
	if report.MatchRate != 66.67 {
		t.Errorf("MatchRate = %v, want 66.67", report.MatchRate)
	}
}

func TestReconcileLoadFailure(t *testing.T) {
	store := &fakeReconStore{loadErr: errors.New("db down")}
	_, err := NewReconciler(&fakePartner{}, store).Reconcile(context.Background(), time.Now().UTC())
	if err == nil {
		t.Fatal("Reconcile() error = nil, want persistence error")
	}
	if !utils.IsKind(err, utils.KindPersistence) {
		t.Errorf("error kind = %v, want persistence", err)
	}
}
