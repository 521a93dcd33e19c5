package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/alanyoungcy/fundxeval/internal/domain"
	"github.com/shopspring/decimal"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLedger is a scripted LedgerWriter. Confirmations for every hash are
// delivered through confirm.
type fakeLedger struct {
	mu       sync.Mutex
	hash     string
	submitFn func(ctx context.Context, req domain.PaymentRequest) (string, error)
	receipts map[string]domain.Confirmation
	balance  decimal.Decimal
	confirm  chan domain.Confirmation
	requests []domain.PaymentRequest
}

func newFakeLedger(hash string) *fakeLedger {
	return &fakeLedger{
		hash:     hash,
		receipts: make(map[string]domain.Confirmation),
		balance:  decimal.NewFromInt(100),
		confirm:  make(chan domain.Confirmation),
	}
}

func (l *fakeLedger) SubmitPayment(ctx context.Context, req domain.PaymentRequest) (string, error) {
	l.mu.Lock()
	l.requests = append(l.requests, req)
	fn := l.submitFn
	l.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return l.hash, nil
}

func (l *fakeLedger) Receipt(_ context.Context, txHash string) (domain.Confirmation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.receipts[strings.ToLower(txHash)]
	if !ok {
		return domain.Confirmation{}, domain.ErrNotFound
	}
	return c, nil
}

func (l *fakeLedger) setReceipt(c domain.Confirmation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receipts[strings.ToLower(c.TransactionHash)] = c
}

func (l *fakeLedger) AwaitConfirmation(_ context.Context, _ string) (<-chan domain.Confirmation, error) {
	return l.confirm, nil
}

func (l *fakeLedger) Balance(context.Context, string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance, nil
}

type fakeProvisioner struct {
	calls  atomic.Int32
	result domain.ProvisionResult
	err    error

	mu   sync.Mutex
	reqs []domain.ProvisionRequest
}

func (p *fakeProvisioner) Provision(_ context.Context, req domain.ProvisionRequest) (domain.ProvisionResult, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()
	return p.result, p.err
}

type fakePaymentStore struct {
	mu     sync.Mutex
	saved  []domain.PaymentSession
	latest []domain.PaymentSession
}

func (s *fakePaymentStore) Save(_ context.Context, ps domain.PaymentSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, ps)
	return nil
}

func (s *fakePaymentStore) GetByID(context.Context, string) (domain.PaymentSession, error) {
	return domain.PaymentSession{}, domain.ErrNotFound
}

func (s *fakePaymentStore) GetByTxHash(context.Context, string) (domain.PaymentSession, error) {
	return domain.PaymentSession{}, domain.ErrNotFound
}

func (s *fakePaymentStore) ClaimProvisioning(context.Context, string) (bool, error) {
	return true, nil
}

func (s *fakePaymentStore) ListNeedingRecovery(context.Context, domain.ListOpts) ([]domain.PaymentSession, error) {
	return nil, nil
}

func (s *fakePaymentStore) ListByTrader(context.Context, string, domain.ListOpts) ([]domain.PaymentSession, error) {
	return s.latest, nil
}

func (s *fakePaymentStore) states() []domain.PaymentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PaymentState
	for _, ps := range s.saved {
		if len(out) == 0 || out[len(out)-1] != ps.State {
			out = append(out, ps.State)
		}
	}
	return out
}

type fakeAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (a *fakeAudit) has(event string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.events {
		if e == event {
			return true
		}
	}
	return false
}

type fakeNotifier struct {
	mu       sync.Mutex
	payments []domain.PaymentSession
	messages []string
}

func (n *fakeNotifier) NotifyPayment(_ context.Context, s domain.PaymentSession) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payments = append(n.payments, s)
	return nil
}

func (n *fakeNotifier) Notify(_ context.Context, _, _, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

func (n *fakeNotifier) count() (payments, messages int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.payments), len(n.messages)
}

// fakeReader serves evaluation records and counts type lookups.
type fakeReader struct {
	mu        sync.Mutex
	ids       []uint64
	idsErr    error
	records   map[uint64]domain.Evaluation
	recordErr error
	failIDs   map[uint64]error
	types     map[domain.EvaluationTypeID]domain.EvaluationType
	typeCalls atomic.Int32
}

func (r *fakeReader) TraderEvaluationIDs(context.Context, string) ([]uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ids, r.idsErr
}

func (r *fakeReader) Evaluation(_ context.Context, id uint64) (domain.Evaluation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recordErr != nil {
		return domain.Evaluation{}, r.recordErr
	}
	if err := r.failIDs[id]; err != nil {
		return domain.Evaluation{}, err
	}
	ev, ok := r.records[id]
	if !ok {
		return domain.Evaluation{}, domain.ErrNotFound
	}
	return ev, nil
}

func (r *fakeReader) EvaluationType(_ context.Context, id domain.EvaluationTypeID) (domain.EvaluationType, error) {
	r.typeCalls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.types[id]
	if !ok {
		return domain.EvaluationType{}, domain.ErrNotFound
	}
	return t, nil
}

func (r *fakeReader) setRecord(ev domain.Evaluation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[ev.ID] = ev
}

type fakeEvents struct {
	ch chan domain.LedgerEvent
}

func (e *fakeEvents) WatchEvents(context.Context, string) (<-chan domain.LedgerEvent, error) {
	return e.ch, nil
}
