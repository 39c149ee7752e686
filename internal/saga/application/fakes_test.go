package application_test

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"fulfillment/internal/saga/domain"
)

// fakeStep scripts Execute outcomes per call and records the global call
// order across all steps, so tests can assert strict sequencing.
type fakeStep struct {
	name             domain.Step
	mu               sync.Mutex
	executeResults   []domain.StepResult
	executeCalls     int
	compensateResult *domain.StepResult
	compensateCalls  int
	callLog          *callLog
}

type callLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *callLog) record(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func (s *fakeStep) Name() domain.Step { return s.name }

func (s *fakeStep) Execute(ctx context.Context, req *domain.OrderFulfillmentRequest) domain.StepResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callLog != nil {
		s.callLog.record("execute:" + string(s.name))
	}
	s.executeCalls++
	if len(s.executeResults) > 0 {
		result := s.executeResults[0]
		s.executeResults = s.executeResults[1:]
		return result
	}
	return domain.StepSuccess("ok", "raw:"+string(s.name))
}

func (s *fakeStep) Compensate(ctx context.Context, orderNumber string) domain.StepResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callLog != nil {
		s.callLog.record("compensate:" + string(s.name))
	}
	s.compensateCalls++
	if s.compensateResult != nil {
		return *s.compensateResult
	}
	return domain.StepSuccess("undone", "")
}

// fakeRepo is an in-memory ledger with the same guarantees as the MySQL one:
// atomic check-and-create, terminal immutability.
type fakeRepo struct {
	mu             sync.Mutex
	byID           map[string]*domain.Transaction
	byOrder        map[string]string
	failStepWrites bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byID: map[string]*domain.Transaction{}, byOrder: map[string]string{}}
}

func (r *fakeRepo) CreateIfAbsent(ctx context.Context, orderNumber string) (*domain.Transaction, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byOrder[orderNumber]; ok {
		copied := *r.byID[id]
		return &copied, true, nil
	}
	tx := domain.NewTransaction(orderNumber)
	r.byID[tx.ID] = tx
	r.byOrder[orderNumber] = tx.ID
	copied := *tx
	return &copied, false, nil
}

func (r *fakeRepo) UpdateStepStatus(ctx context.Context, txID string, step domain.Step, status domain.StepStatus, response string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failStepWrites {
		return errors.New("ledger unavailable")
	}
	tx, ok := r.byID[txID]
	if !ok {
		return domain.ErrNotFound
	}
	return tx.SetStepState(step, domain.StepState{Status: status, Response: response})
}

func (r *fakeRepo) MarkTerminal(ctx context.Context, txID string, status domain.Status, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.byID[txID]
	if !ok {
		return domain.ErrNotFound
	}
	if status == domain.StatusCompleted {
		return tx.MarkCompleted()
	}
	return tx.MarkFailed(errorMessage)
}

func (r *fakeRepo) FindByOrderNumber(ctx context.Context, orderNumber string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byOrder[orderNumber]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *r.byID[id]
	return &copied, nil
}

func (r *fakeRepo) CountByStatus(ctx context.Context, status domain.Status) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, tx := range r.byID {
		if tx.Status == status {
			count++
		}
	}
	return count, nil
}

// stored returns the ledger's own copy, not the orchestrator's working one.
func (r *fakeRepo) stored(orderNumber string) *domain.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byOrder[orderNumber]
	if !ok {
		return nil
	}
	copied := *r.byID[id]
	return &copied
}

type fakePublisher struct {
	mu       sync.Mutex
	outcomes []*domain.FulfillmentOutcome
	err      error
}

func (p *fakePublisher) PublishOutcome(ctx context.Context, outcome *domain.FulfillmentOutcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.outcomes = append(p.outcomes, outcome)
	return nil
}

func (p *fakePublisher) published() []*domain.FulfillmentOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*domain.FulfillmentOutcome(nil), p.outcomes...)
}

type fakeGuard struct {
	mu      sync.Mutex
	held    map[string]bool
	denyAll bool
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{held: map[string]bool{}}
}

func (g *fakeGuard) Acquire(ctx context.Context, orderNumber string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.denyAll || g.held[orderNumber] {
		return false, nil
	}
	g.held[orderNumber] = true
	return true, nil
}

func (g *fakeGuard) Release(ctx context.Context, orderNumber string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, orderNumber)
}
