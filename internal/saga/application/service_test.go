package application_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"fulfillment/internal/saga/application"
	"fulfillment/internal/saga/domain"
	"fulfillment/internal/saga/domain/port"
)

func testEvent(orderNumber string) *domain.OrderFulfillmentRequested {
	return &domain.OrderFulfillmentRequested{
		OrderNumber:        orderNumber,
		ClientID:           "CL-42",
		PickupAddress:      "1 Dock Rd",
		DeliveryAddress:    "9 Harbour St",
		PackageDescription: "pallet of parts",
		Priority:           "EXPRESS",
	}
}

func newTestService(repo *fakeRepo, guard *fakeGuard, pub *fakePublisher, crm, wms, ros *fakeStep) *application.FulfillmentService {
	tracer := noop.NewTracerProvider().Tracer("test")
	orch := application.NewOrchestrator(
		[]port.SagaStep{crm, wms, ros},
		repo, pub, tracer,
	)
	return application.NewFulfillmentService(repo, guard, orch, tracer, time.Minute)
}

func TestHandleOrderEventCompletesSaga(t *testing.T) {
	crm, wms, ros, _ := threeSteps()
	repo := newFakeRepo()
	guard := newFakeGuard()
	pub := &fakePublisher{}
	svc := newTestService(repo, guard, pub, crm, wms, ros)

	require.NoError(t, svc.HandleOrderEvent(context.Background(), testEvent("ORD-0001")))

	assert.Equal(t, domain.StatusCompleted, repo.stored("ORD-0001").Status)
	assert.Equal(t, 1, crm.executeCalls)
	assert.Empty(t, guard.held, "in-flight marker released after terminal state")
}

func TestDuplicateDeliveryAfterCompletionIsIdempotent(t *testing.T) {
	crm, wms, ros, _ := threeSteps()
	repo := newFakeRepo()
	guard := newFakeGuard()
	pub := &fakePublisher{}
	svc := newTestService(repo, guard, pub, crm, wms, ros)

	require.NoError(t, svc.HandleOrderEvent(context.Background(), testEvent("ORD-0001")))
	require.NoError(t, svc.HandleOrderEvent(context.Background(), testEvent("ORD-0001")))

	// One ledger row, one registration call: the redelivery only
	// re-published the outcome.
	assert.Equal(t, 1, crm.executeCalls)
	assert.Equal(t, 1, wms.executeCalls)
	assert.Len(t, pub.published(), 2)
	count, err := repo.CountByStatus(context.Background(), domain.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestInFlightOrderIsLeftForRedelivery(t *testing.T) {
	crm, wms, ros, _ := threeSteps()
	repo := newFakeRepo()
	guard := newFakeGuard()
	guard.denyAll = true
	pub := &fakePublisher{}
	svc := newTestService(repo, guard, pub, crm, wms, ros)

	err := svc.HandleOrderEvent(context.Background(), testEvent("ORD-0002"))
	require.ErrorIs(t, err, domain.ErrInFlight)

	assert.Zero(t, crm.executeCalls)
	assert.Nil(t, repo.stored("ORD-0002"), "no ledger entry while another worker owns the order")
}

func TestInvalidEventIsRejected(t *testing.T) {
	crm, wms, ros, _ := threeSteps()
	repo := newFakeRepo()
	guard := newFakeGuard()
	pub := &fakePublisher{}
	svc := newTestService(repo, guard, pub, crm, wms, ros)

	err := svc.HandleOrderEvent(context.Background(), &domain.OrderFulfillmentRequested{ClientID: "CL-1"})
	require.Error(t, err)
	assert.Zero(t, crm.executeCalls)
}

func TestConcurrentDuplicateDeliveryRunsOneSaga(t *testing.T) {
	crm, wms, ros, _ := threeSteps()
	repo := newFakeRepo()
	guard := newFakeGuard()
	pub := &fakePublisher{}
	svc := newTestService(repo, guard, pub, crm, wms, ros)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Either outcome is legal: run to terminal, no-op on the
			// terminal duplicate, or bounce off the in-flight guard.
			_ = svc.HandleOrderEvent(context.Background(), testEvent("ORD-0003"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, crm.executeCalls, "never two successful registrations for one order")
	count, err := repo.CountByStatus(context.Background(), domain.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
