package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cvpay-svc/config"
	"cvpay-svc/database"
	"cvpay-svc/models"
	"cvpay-svc/selcom"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const testCVID = "3f2b8c1a-6d4e-4f7a-9b0c-1d2e3f4a5b6c"

type fakePayments struct {
	mu          sync.Mutex
	byOrder     map[string]*models.Payment
	cvs         *fakeCVs
	completions int
	failures    int
}

func newFakePayments(cvs *fakeCVs) *fakePayments {
	return &fakePayments{byOrder: make(map[string]*models.Payment), cvs: cvs}
}

func (f *fakePayments) put(p models.Payment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byOrder[p.OrderID] = &p
}

func (f *fakePayments) Create(_ context.Context, p *models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byOrder[p.OrderID]; ok {
		return database.ErrDuplicate
	}
	p.ID = len(f.byOrder) + 1
	p.CreatedAt = time.Now()
	cp := *p
	f.byOrder[p.OrderID] = &cp
	return nil
}

func (f *fakePayments) GetByOrderID(_ context.Context, orderID string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byOrder[orderID]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePayments) MarkProcessing(_ context.Context, orderID, reference string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byOrder[orderID]
	if !ok || p.Status != models.PaymentStatusPending {
		return false, nil
	}
	p.Status = models.PaymentStatusProcessing
	p.SelcomReference = reference
	return true, nil
}

func (f *fakePayments) Complete(_ context.Context, c database.Completion) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byOrder[c.OrderID]
	if !ok || p.Status.IsTerminal() {
		return false, nil
	}
	p.Status = models.PaymentStatusCompleted
	p.TransactionID = c.TransactionID
	t := c.CompletedAt
	p.CompletedAt = &t
	if p.CVID == "" {
		p.CVID = c.CVID
	}
	if c.CVID != "" {
		f.cvs.markPaid(c.CVID)
	}
	f.completions++
	return true, nil
}

func (f *fakePayments) Fail(_ context.Context, fl database.Failure) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byOrder[fl.OrderID]
	if !ok || p.Status.IsTerminal() {
		return false, nil
	}
	p.Status = models.PaymentStatusFailed
	if fl.TransactionID != "" {
		p.TransactionID = fl.TransactionID
	}
	f.failures++
	return true, nil
}

func (f *fakePayments) ListStale(_ context.Context, olderThan time.Time, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, p := range f.byOrder {
		if p.Status == models.PaymentStatusProcessing && p.CreatedAt.Before(olderThan) && len(ids) < limit {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakePayments) status(orderID string) models.PaymentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.byOrder[orderID]; ok {
		return p.Status
	}
	return ""
}

type fakeCVs struct {
	mu         sync.Mutex
	status     map[string]models.CVStatus
	paidWrites int
}

func newFakeCVs() *fakeCVs {
	return &fakeCVs{status: make(map[string]models.CVStatus)}
}

func (f *fakeCVs) markPaid(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.status[id]
	if ok && (s == models.CVStatusDraft || s == models.CVStatusPendingPayment) {
		f.status[id] = models.CVStatusPaid
		f.paidWrites++
	}
}

func (f *fakeCVs) Get(_ context.Context, id string) (*models.CV, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.status[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &models.CV{ID: id, Status: s}, nil
}

func (f *fakeCVs) MarkPendingPayment(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.status[id]
	if s != models.CVStatusDraft && s != models.CVStatusPendingPayment {
		return false, nil
	}
	f.status[id] = models.CVStatusPendingPayment
	return true, nil
}

func (f *fakeCVs) get(id string) models.CVStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status[id]
}

type fakeAffiliates struct {
	mu          sync.Mutex
	affiliates  []models.Affiliate
	conversions map[string]models.AffiliateConversion
}

func newFakeAffiliates(affiliates ...models.Affiliate) *fakeAffiliates {
	return &fakeAffiliates{affiliates: affiliates, conversions: make(map[string]models.AffiliateConversion)}
}

func (f *fakeAffiliates) GetByCode(_ context.Context, code string) (*models.Affiliate, error) {
	for _, a := range f.affiliates {
		if a.Code == code {
			cp := a
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeAffiliates) GetByID(_ context.Context, id int) (*models.Affiliate, error) {
	for _, a := range f.affiliates {
		if a.ID == id {
			cp := a
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeAffiliates) RecordConversion(_ context.Context, conv *models.AffiliateConversion) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.conversions[conv.OrderID]; ok {
		return false, nil
	}
	f.conversions[conv.OrderID] = *conv
	return true, nil
}

func (f *fakeAffiliates) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conversions)
}

type fakeGateway struct {
	status      selcom.StatusResponse
	statusErr   error
	push        selcom.PushResult
	pushErr     error
	orderErr    error
	statusCalls atomic.Int32
	pushCalls   atomic.Int32
}

func (f *fakeGateway) CreateOrder(context.Context, selcom.Order) (selcom.CreateOrderResult, error) {
	if f.orderErr != nil {
		return selcom.CreateOrderResult{}, f.orderErr
	}
	return selcom.CreateOrderResult{ResultCode: selcom.ResultCodeSuccess}, nil
}

func (f *fakeGateway) PushPayment(context.Context, string, string) (selcom.PushResult, error) {
	f.pushCalls.Add(1)
	return f.push, f.pushErr
}

func (f *fakeGateway) OrderStatus(context.Context, string) (selcom.StatusResponse, error) {
	f.statusCalls.Add(1)
	return f.status, f.statusErr
}

func gatewayStatus(status selcom.PaymentStatus, transID string) selcom.StatusResponse {
	return selcom.StatusResponse{
		Result:     "SUCCESS",
		ResultCode: selcom.ResultCodeSuccess,
		Data: []selcom.OrderStatusData{{
			PaymentStatus: status,
			TransID:       transID,
			Amount:        selcom.Amount{Decimal: decimal.NewFromInt(5000)},
		}},
	}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.PaymentEvent
}

func (f *fakePublisher) PublishPaymentEvent(_ context.Context, e models.PaymentEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type harness struct {
	coord      *Coordinator
	payments   *fakePayments
	cvs        *fakeCVs
	affiliates *fakeAffiliates
	gateway    *fakeGateway
	publisher  *fakePublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cvs := newFakeCVs()
	h := &harness{
		payments:   newFakePayments(cvs),
		cvs:        cvs,
		affiliates: newFakeAffiliates(models.Affiliate{ID: 3, Code: "JUMA10", CommissionRate: decimal.NewFromInt(10), Active: true}),
		gateway:    &fakeGateway{},
		publisher:  &fakePublisher{},
	}
	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	h.coord = NewCoordinator(Deps{
		Payments:   h.payments,
		CVs:        h.cvs,
		Affiliates: h.affiliates,
		Gateway:    h.gateway,
		Publisher:  h.publisher,
	}, config.Pricing{CVPrice: decimal.NewFromInt(5000), Currency: "TZS"}, logger)
	return h
}

// seed stores a processing payment for testCVID attributed to affiliate 3.
func (h *harness) seed(orderID string) {
	affiliateID := 3
	h.cvs.status[testCVID] = models.CVStatusPendingPayment
	h.payments.put(models.Payment{
		OrderID:     orderID,
		CVID:        testCVID,
		AffiliateID: &affiliateID,
		Amount:      decimal.NewFromInt(5000),
		Currency:    "TZS",
		MSISDN:      "255712345678",
		Status:      models.PaymentStatusProcessing,
		CreatedAt:   time.Now().Add(-time.Hour),
	})
}
