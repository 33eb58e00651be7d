package repository

import (
	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Seed and inspection helpers for tests; MemoryStore is not wired into cmd.

func (s *MemoryStore) SeedSKU(sku domain.SKU) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.skus[sku.ID] = sku
}

func (s *MemoryStore) SeedCartItem(ci domain.CartItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.carts[ci.CustomerID] = append(s.st.carts[ci.CustomerID], ci)
}

func (s *MemoryStore) SeedCoupon(c domain.Coupon, owners ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.coupons[c.Code] = c
	if len(owners) > 0 {
		m := s.st.owners[c.ID]
		if m == nil {
			m = map[string]bool{}
			s.st.owners[c.ID] = m
		}
		for _, o := range owners {
			m[o] = true
		}
	}
}

func (s *MemoryStore) SeedAddress(a domain.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.addresses[a.ID] = a
}

func (s *MemoryStore) SeedOrder(o *domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.orders[o.ID] = copyOrder(o)
}

func (s *MemoryStore) SeedPayment(p domain.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.payments[p.ID] = p
}

func (s *MemoryStore) SKU(id uuid.UUID) domain.SKU {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.skus[id]
}

func (s *MemoryStore) Order(id uuid.UUID) *domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[id]
	if !ok {
		return nil
	}
	return copyOrder(o)
}

func (s *MemoryStore) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.orders)
}

func (s *MemoryStore) CartItems(customerID string) []domain.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.CartItem(nil), s.st.carts[customerID]...)
}

func (s *MemoryStore) Coupon(code string) domain.Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.coupons[code]
}

func (s *MemoryStore) Payments(orderID uuid.UUID) []domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Payment
	for _, p := range s.st.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out
}

func (s *MemoryStore) OutboxEvents() []domain.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OutboxEvent(nil), s.st.outbox...)
}

func (s *MemoryStore) WebhookEvents() []domain.WebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.WebhookEvent, 0, len(s.st.webhooks))
	for _, e := range s.st.webhooks {
		out = append(out, e)
	}
	return out
}

func (s *MemoryStore) LoyaltyPoints(orderID uuid.UUID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.points[orderID]
}

func (s *MemoryStore) GatewayFee(orderID uuid.UUID) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.fees[orderID]
}
