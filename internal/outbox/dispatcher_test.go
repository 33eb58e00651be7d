package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/RaikyD/orders-checkout/internal/repository"
	"github.com/RaikyD/orders-checkout/internal/tasks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	fail      bool
	published []domain.OutboxEvent
}

func (p *fakePublisher) PublishEvent(_ context.Context, e domain.OutboxEvent) error {
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, e)
	return nil
}

func addEvents(t *testing.T, store *repository.MemoryStore, events ...domain.OutboxEvent) {
	t.Helper()
	err := store.WithTransaction(context.Background(), repository.ReadCommitted, func(tx repository.Tx) error {
		return tx.Outbox().Add(context.Background(), events...)
	})
	require.NoError(t, err)
}

func TestDispatchOnce_RoutesEvents(t *testing.T) {
	store := repository.NewMemoryStore()
	queue := tasks.NewMemoryQueue()
	pub := &fakePublisher{}
	d := NewDispatcher(store, pub, queue, Options{Batch: 10}, nil)

	orderID := uuid.New()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	expiry, err := domain.NewOutboxEvent(orderID, domain.EventStockExpiryCheck, domain.StockExpiryPayload{OrderID: orderID, NotBefore: now.Add(15 * time.Minute)}, now)
	require.NoError(t, err)
	created, err := domain.NewOutboxEvent(orderID, domain.EventOrderCreated, domain.OrderCreatedPayload{OrderID: orderID}, now)
	require.NoError(t, err)
	addEvents(t, store, expiry, created)

	n, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, pub.published, 1)
	assert.Equal(t, domain.EventOrderCreated, pub.published[0].Type)
	assert.Equal(t, 1, queue.Pending())

	due, err := queue.Claim(context.Background(), now.Add(14*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
	due, err = queue.Claim(context.Background(), now.Add(15*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "stock-expiry:"+orderID.String(), due[0].ID)

	for _, e := range store.OutboxEvents() {
		assert.True(t, e.Dispatched())
	}
	n, err = d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDispatchOnce_FailedPublishIsRetried(t *testing.T) {
	store := repository.NewMemoryStore()
	pub := &fakePublisher{fail: true}
	d := NewDispatcher(store, pub, tasks.NewMemoryQueue(), Options{}, nil)

	e, err := domain.NewOutboxEvent(uuid.New(), domain.EventOrderStatusChanged, domain.StatusChangedPayload{}, time.Now())
	require.NoError(t, err)
	addEvents(t, store, e)

	n, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	events := store.OutboxEvents()
	require.Len(t, events, 1)
	assert.False(t, events[0].Dispatched())
	assert.Equal(t, 1, events[0].Attempts)
	assert.Equal(t, "broker unavailable", events[0].LastError)

	pub.fail = false
	n, err = d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, pub.published, 1)
}

func TestDispatchOnce_ParksAfterMaxAttempts(t *testing.T) {
	store := repository.NewMemoryStore()
	pub := &fakePublisher{fail: true}
	d := NewDispatcher(store, pub, tasks.NewMemoryQueue(), Options{MaxAttempts: 2}, nil)

	e, err := domain.NewOutboxEvent(uuid.New(), domain.EventOrderStatusChanged, domain.StatusChangedPayload{}, time.Now())
	require.NoError(t, err)
	addEvents(t, store, e)

	for i := 0; i < 3; i++ {
		_, err := d.DispatchOnce(context.Background())
		require.NoError(t, err)
	}
	events := store.OutboxEvents()
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].Attempts, "parked rows are not claimed again")

	pub.fail = false
	n, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, pub.published)
}

// inspectingPublisher reads the store while publishing; that only works when
// no store transaction is open around the relay.
type inspectingPublisher struct {
	store   *repository.MemoryStore
	pending []bool
}

func (p *inspectingPublisher) PublishEvent(_ context.Context, e domain.OutboxEvent) error {
	for _, row := range p.store.OutboxEvents() {
		if row.ID == e.ID {
			p.pending = append(p.pending, !row.Dispatched())
		}
	}
	return nil
}

func TestDispatchOnce_PublishesOutsideTransaction(t *testing.T) {
	store := repository.NewMemoryStore()
	pub := &inspectingPublisher{store: store}
	d := NewDispatcher(store, pub, tasks.NewMemoryQueue(), Options{}, nil)

	e, err := domain.NewOutboxEvent(uuid.New(), domain.EventOrderCreated, domain.OrderCreatedPayload{}, time.Now())
	require.NoError(t, err)
	addEvents(t, store, e)

	done := make(chan struct{})
	go func() {
		defer close(done)
		n, err := d.DispatchOnce(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, 1, n)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch blocked while publishing")
	}
	assert.Equal(t, []bool{true}, pub.pending)
	assert.True(t, store.OutboxEvents()[0].Dispatched())
}

func TestDispatchOnce_LeaseHidesClaimedRows(t *testing.T) {
	store := repository.NewMemoryStore()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	e, err := domain.NewOutboxEvent(uuid.New(), domain.EventOrderCreated, domain.OrderCreatedPayload{}, now)
	require.NoError(t, err)
	addEvents(t, store, e)

	claim := func(at time.Time) []domain.OutboxEvent {
		var out []domain.OutboxEvent
		err := store.WithTransaction(context.Background(), repository.ReadCommitted, func(tx repository.Tx) error {
			var err error
			out, err = tx.Outbox().ClaimPending(context.Background(), repository.OutboxClaim{
				Limit: 10, MaxAttempts: 5, Now: at, Until: at.Add(30 * time.Second),
			})
			return err
		})
		require.NoError(t, err)
		return out
	}

	require.Len(t, claim(now), 1)
	assert.Empty(t, claim(now.Add(10*time.Second)), "a second dispatcher skips the leased row")
	assert.Len(t, claim(now.Add(31*time.Second)), 1, "an abandoned lease expires")
}
