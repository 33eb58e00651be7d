package application

import (
	"context"
	"fmt"
	"sync"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/RaikyD/orders-checkout/internal/logger"
	"github.com/RaikyD/orders-checkout/internal/repository"
	"github.com/google/uuid"
)

// OrdersService serves reads. Orders in a terminal status no longer change
// through the state machine, so they are kept in memory after the first load.
type OrdersService struct {
	uow  repository.UnitOfWork
	mu   sync.RWMutex
	byID map[uuid.UUID]*domain.Order
}

func NewOrdersService(uow repository.UnitOfWork) *OrdersService {
	return &OrdersService{
		uow:  uow,
		byID: make(map[uuid.UUID]*domain.Order),
	}
}

func (s *OrdersService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	s.mu.RLock()
	if o, ok := s.byID[id]; ok {
		s.mu.RUnlock()
		return visible(ctx, o)
	}
	s.mu.RUnlock()

	var o *domain.Order
	err := s.uow.WithTransaction(ctx, repository.ReadCommitted, func(tx repository.Tx) error {
		var err error
		o, err = tx.Orders().Get(ctx, id)
		return err
	})
	if err != nil {
		logger.Debug("order lookup failed", "order_id", id, "err", err)
		return nil, err
	}

	if o.Status.Terminal() {
		s.mu.Lock()
		s.byID[o.ID] = o
		s.mu.Unlock()
	}
	return visible(ctx, o)
}

// visible hides orders of other tenants behind not found.
func visible(ctx context.Context, o *domain.Order) (*domain.Order, error) {
	if err := ownTenant(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func ownTenant(ctx context.Context, o *domain.Order) error {
	if domain.SameTenant(ctx, o.TenantID) {
		return nil
	}
	return fmt.Errorf("order %s: %w: %w", o.ID, domain.ErrNotFound, domain.ErrTenantMismatch)
}

// limit <= 0 означает без ограничения
func (s *OrdersService) ListByCustomer(ctx context.Context, customerID string, limit int) ([]*domain.Order, error) {
	var out []*domain.Order
	err := s.uow.WithTransaction(ctx, repository.ReadCommitted, func(tx repository.Tx) error {
		var err error
		out, err = tx.Orders().ListByCustomer(ctx, customerID, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	kept := out[:0]
	for _, o := range out {
		if domain.SameTenant(ctx, o.TenantID) {
			kept = append(kept, o)
		}
	}
	return kept, nil
}

// Invalidate drops a cached order after an administrative correction.
func (s *OrdersService) Invalidate(id uuid.UUID) {
	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()
}
