package buffrsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/vouchers_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/utils/tests"
)

type fakePartner struct {
	mu        sync.Mutex
	sent      []string
	failIds   map[string]bool
	inFlight  int32
	maxSeen   int32
	statuses  map[string]string
	statusErr map[string]error
}

func (f *fakePartner) SendVoucher(ctx context.Context, voucher *models.Voucher, enrichment Enrichment) SendResult {
	cur := atomic.AddInt32(&f.inFlight, 1)
	for {
		max := atomic.LoadInt32(&f.maxSeen)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxSeen, max, cur) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	atomic.AddInt32(&f.inFlight, -1)

	f.mu.Lock()
	f.sent = append(f.sent, voucher.ID)
	fail := f.failIds[voucher.ID]
	f.mu.Unlock()

	if fail {
		return SendResult{Success: false, VoucherId: voucher.ID, Error: "partner rejected voucher"}
	}
	return SendResult{Success: true, VoucherId: voucher.ID, DeliveryId: "dlv-" + voucher.ID}
}

func (f *fakePartner) CheckStatus(ctx context.Context, voucherId string) (StatusResult, error) {
	if err := f.statusErr[voucherId]; err != nil {
		return StatusResult{}, err
	}
	return StatusResult{Status: f.statuses[voucherId]}, nil
}

func (f *fakePartner) Health(ctx context.Context) (bool, time.Duration) {
	return true, time.Millisecond
}

func testVoucher(id string) *models.Voucher {
	return &models.Voucher{
		ID:            id,
		BeneficiaryId: "ben-" + id,
		Amount:        decimal.NewFromInt(350),
		Status:        models.VoucherStatusIssued,
		VoucherCode:   "SPV-" + id,
		ExpiryDate:    time.Now().UTC().AddDate(0, 1, 0),
	}
}

func TestDistributeOne(t *testing.T) {
	partner := &fakePartner{}
	d := NewDistributor(partner)

	res := d.DistributeOne(context.Background(), testVoucher("a"), Enrichment{})
	if !res.Success || res.DeliveryId != "dlv-a" {
		t.Fatalf("DistributeOne = %+v, want success with delivery id", res)
	}

	if res := d.DistributeOne(context.Background(), nil, Enrichment{}); res.Success {
		t.Fatalf("DistributeOne(nil) = %+v, want failure", res)
	}
}

func TestDistributeBatchPreservesOrderAndIsolatesFailures(t *testing.T) {
	partner := &fakePartner{failIds: map[string]bool{"b": true, "d": true}}
	d := NewDistributor(partner)

	var vouchers []*models.Voucher
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		vouchers = append(vouchers, testVoucher(id))
	}

	batch := d.DistributeBatch(context.Background(), vouchers, nil)
	if batch.Total != 5 || batch.Successful != 3 || batch.Failed != 2 {
		t.Fatalf("batch counts = total %d successful %d failed %d", batch.Total, batch.Successful, batch.Failed)
	}
	if batch.Success {
		t.Error("batch.Success = true with failures present")
	}
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		if batch.Results[i].VoucherId != id {
			t.Errorf("Results[%d].VoucherId = %s, want %s", i, batch.Results[i].VoucherId, id)
		}
	}
	if batch.Results[1].Success || batch.Results[3].Success {
		t.Error("failing vouchers reported as successful")
	}
	if !batch.Results[0].Success || !batch.Results[2].Success || !batch.Results[4].Success {
		t.Error("sibling vouchers affected by failures")
	}
}

func TestDistributeBatchAllSucceed(t *testing.T) {
	partner := &fakePartner{}
	d := NewDistributor(partner)

	batch := d.DistributeBatch(context.Background(), []*models.Voucher{testVoucher("x"), testVoucher("y")}, nil)
	if !batch.Success || batch.Successful != 2 || batch.Failed != 0 {
		t.Fatalf("batch = %+v, want full success", batch)
	}
}

func TestDistributeBatchBoundsConcurrency(t *testing.T) {
	partner := &fakePartner{}
	d := NewDistributor(partner)

	var vouchers []*models.Voucher
	for i := 0; i < 50; i++ {
		vouchers = append(vouchers, testVoucher(fmt.Sprintf("v%02d", i)))
	}

	d.DistributeBatch(context.Background(), vouchers, nil)
	if max := atomic.LoadInt32(&partner.maxSeen); max > maxInFlight {
		t.Errorf("observed %d concurrent partner calls, cap is %d", max, maxInFlight)
	}
}

func TestDistributeBatchResolverFailure(t *testing.T) {
	partner := &fakePartner{}
	d := NewDistributor(partner)

	resolve := func(ctx context.Context, beneficiaryId string) (*models.Beneficiary, error) {
		if beneficiaryId == "ben-bad" {
			return nil, errors.New("beneficiary missing")
		}
		return &models.Beneficiary{ID: beneficiaryId, IdNumber: "ID-1", Phone: "+26481000000"}, nil
	}

	batch := d.DistributeBatch(context.Background(), []*models.Voucher{testVoucher("good"), testVoucher("bad")}, resolve)
	if batch.Successful != 1 || batch.Failed != 1 {
		t.Fatalf("batch counts = successful %d failed %d, want 1/1", batch.Successful, batch.Failed)
	}

	// The failing resolver must keep the voucher away from the partner.
	partner.mu.Lock()
	defer partner.mu.Unlock()
	for _, id := range partner.sent {
		if id == "bad" {
			t.Error("voucher with failing resolver was sent to the partner")
		}
	}
}

func TestEnrichmentFor(t *testing.T) {
	voucher := testVoucher("a")
	partnerUser := "pu-9"
	beneficiary := &models.Beneficiary{IdNumber: "ID-7", Phone: "+26481", PartnerUserId: &partnerUser}

	e := enrichmentFor(voucher, beneficiary)
	if e.RedemptionToken != voucher.VoucherCode {
		t.Errorf("RedemptionToken = %s, want voucher code %s", e.RedemptionToken, voucher.VoucherCode)
	}
	if e.BeneficiaryIdNumber != "ID-7" || e.Phone != "+26481" || e.PartnerUserId != "pu-9" {
		t.Errorf("enrichment = %+v", e)
	}

	if e := enrichmentFor(voucher, nil); e.RedemptionToken != voucher.VoucherCode || e.Phone != "" {
		t.Errorf("nil beneficiary enrichment = %+v", e)
	}
}

// dryRunDB builds SQL without executing it and records which tables the
// update statements target.
func dryRunDB(t *testing.T) (*gorm.DB, *[]string) {
	t.Helper()
	db, err := gorm.Open(tests.DummyDialector{}, &gorm.Config{DryRun: true, SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open dry-run db: %v", err)
	}
	updated := &[]string{}
	err = db.Callback().Update().After("gorm:update").Register("test_capture_updates", func(tx *gorm.DB) {
		*updated = append(*updated, tx.Statement.Table)
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}
	return db, updated
}

func TestMarkRunFailedAlsoFailsIdempotencyKey(t *testing.T) {
	db, updated := dryRunDB(t)

	run := models.DistributionRun{ID: 7, Status: models.DistributionRunStatusRunning}
	if err := markRunFailed(db, &run, errors.New("decode voucher ids: boom")); err != nil {
		t.Fatalf("markRunFailed() error = %v", err)
	}

	want := map[string]bool{"idempotency_keys": false, "distribution_runs": false}
	for _, table := range *updated {
		if _, ok := want[table]; ok {
			want[table] = true
		}
	}
	for table, seen := range want {
		if !seen {
			t.Errorf("no update issued against %s", table)
		}
	}
}
