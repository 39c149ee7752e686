package infrastructure

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"fulfillment/internal/saga/application"
	"fulfillment/internal/saga/domain"
	"fulfillment/internal/saga/domain/port"
)

// fakeKafkaReader hands out scripted messages, then blocks like a live
// consumer-group reader. It records commit/close ordering.
type fakeKafkaReader struct {
	mu     sync.Mutex
	queue  []kafka.Message
	events []string
	closed bool
}

func (r *fakeKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeKafkaReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.events = append(r.events, "commit-after-close")
		return errors.New("reader closed")
	}
	if err := ctx.Err(); err != nil {
		r.events = append(r.events, "commit-cancelled")
		return err
	}
	r.events = append(r.events, "commit")
	return nil
}

func (r *fakeKafkaReader) Config() kafka.ReaderConfig {
	return kafka.ReaderConfig{Topic: "order-fulfillment-requests"}
}

func (r *fakeKafkaReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.events = append(r.events, "close")
	return nil
}

func (r *fakeKafkaReader) log() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// memoryLedger is just enough of the repository for consumer-level tests.
type memoryLedger struct {
	mu      sync.Mutex
	byID    map[string]*domain.Transaction
	byOrder map[string]string
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{byID: map[string]*domain.Transaction{}, byOrder: map[string]string{}}
}

func (l *memoryLedger) CreateIfAbsent(ctx context.Context, orderNumber string) (*domain.Transaction, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id, ok := l.byOrder[orderNumber]; ok {
		copied := *l.byID[id]
		return &copied, true, nil
	}
	tx := domain.NewTransaction(orderNumber)
	l.byID[tx.ID] = tx
	l.byOrder[orderNumber] = tx.ID
	copied := *tx
	return &copied, false, nil
}

func (l *memoryLedger) UpdateStepStatus(ctx context.Context, txID string, step domain.Step, status domain.StepStatus, response string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.byID[txID]
	if !ok {
		return domain.ErrNotFound
	}
	return tx.SetStepState(step, domain.StepState{Status: status, Response: response})
}

func (l *memoryLedger) MarkTerminal(ctx context.Context, txID string, status domain.Status, errorMessage string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.byID[txID]
	if !ok {
		return domain.ErrNotFound
	}
	if status == domain.StatusCompleted {
		return tx.MarkCompleted()
	}
	return tx.MarkFailed(errorMessage)
}

func (l *memoryLedger) FindByOrderNumber(ctx context.Context, orderNumber string) (*domain.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byOrder[orderNumber]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *l.byID[id]
	return &copied, nil
}

func (l *memoryLedger) CountByStatus(ctx context.Context, status domain.Status) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var count int64
	for _, tx := range l.byID {
		if tx.Status == status {
			count++
		}
	}
	return count, nil
}

type openGuard struct{}

func (openGuard) Acquire(ctx context.Context, orderNumber string) (bool, error) { return true, nil }
func (openGuard) Release(ctx context.Context, orderNumber string)               {}

type nopPublisher struct{}

func (nopPublisher) PublishOutcome(ctx context.Context, outcome *domain.FulfillmentOutcome) error {
	return nil
}

// blockingStep holds its single execution open until proceed closes.
type blockingStep struct {
	started chan struct{}
	proceed chan struct{}
}

func (s *blockingStep) Name() domain.Step { return domain.StepClientRegistration }

func (s *blockingStep) Execute(ctx context.Context, req *domain.OrderFulfillmentRequest) domain.StepResult {
	close(s.started)
	<-s.proceed
	return domain.StepSuccess("ok", "raw")
}

func (s *blockingStep) Compensate(ctx context.Context, orderNumber string) domain.StepResult {
	return domain.StepSuccess("undone", "")
}

func orderMessage(t *testing.T, orderNumber string) kafka.Message {
	t.Helper()
	value, err := json.Marshal(&domain.OrderFulfillmentRequested{
		OrderNumber:        orderNumber,
		ClientID:           "CL-1",
		PickupAddress:      "1 Dock Rd",
		DeliveryAddress:    "9 Harbour St",
		PackageDescription: "pallet of parts",
		Priority:           "STANDARD",
	})
	require.NoError(t, err)
	return kafka.Message{Key: []byte(orderNumber), Value: value}
}

func TestStopDrainsInFlightSagaBeforeClosingReader(t *testing.T) {
	step := &blockingStep{started: make(chan struct{}), proceed: make(chan struct{})}
	ledger := newMemoryLedger()
	tracer := noop.NewTracerProvider().Tracer("test")
	orch := application.NewOrchestrator([]port.SagaStep{step}, ledger, nopPublisher{}, tracer)
	svc := application.NewFulfillmentService(ledger, openGuard{}, orch, tracer, time.Minute)

	reader := &fakeKafkaReader{queue: []kafka.Message{orderMessage(t, "ORD-0001")}}
	consumer := NewOrderConsumerAdapter(reader, svc, 4)

	ctx, cancel := context.WithCancel(context.Background())
	consumer.Start(ctx)

	select {
	case <-step.started:
	case <-time.After(5 * time.Second):
		t.Fatal("saga never started")
	}

	// Shutdown order as in the composition root: stop fetching first, then
	// drain. The in-flight saga is still running when the fetch loop dies.
	cancel()
	close(step.proceed)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, consumer.Stop(stopCtx))

	// The completed saga committed its offset against a still-open reader,
	// and the reader closed only after the drain.
	assert.Equal(t, []string{"commit", "close"}, reader.log())

	stored, err := ledger.FindByOrderNumber(context.Background(), "ORD-0001")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
}

func TestUnparseableMessageIsCommittedAndSkipped(t *testing.T) {
	step := &blockingStep{started: make(chan struct{}), proceed: make(chan struct{})}
	ledger := newMemoryLedger()
	tracer := noop.NewTracerProvider().Tracer("test")
	orch := application.NewOrchestrator([]port.SagaStep{step}, ledger, nopPublisher{}, tracer)
	svc := application.NewFulfillmentService(ledger, openGuard{}, orch, tracer, time.Minute)

	reader := &fakeKafkaReader{queue: []kafka.Message{{Key: []byte("junk"), Value: []byte("{not json")}}}
	consumer := NewOrderConsumerAdapter(reader, svc, 4)

	ctx, cancel := context.WithCancel(context.Background())
	consumer.Start(ctx)

	require.Eventually(t, func() bool {
		for _, e := range reader.log() {
			if e == "commit" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond, "poison message must be committed so it cannot wedge the partition")

	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, consumer.Stop(stopCtx))

	select {
	case <-step.started:
		t.Fatal("poison message must not start a saga")
	default:
	}
}
