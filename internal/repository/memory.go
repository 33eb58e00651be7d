package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore is a UnitOfWork over in-process maps. Transactions are fully
// serialized and run against a copy of the state that replaces it on commit.
type MemoryStore struct {
	mu        sync.Mutex
	st        *memState
	conflicts int
}

type redemptionKey struct {
	coupon uuid.UUID
	order  uuid.UUID
}

type memState struct {
	orders      map[uuid.UUID]*domain.Order
	skus        map[uuid.UUID]domain.SKU
	carts       map[string][]domain.CartItem
	coupons     map[string]domain.Coupon
	owners      map[uuid.UUID]map[string]bool
	redemptions map[redemptionKey]bool
	addresses   map[uuid.UUID]domain.Address
	payments    map[uuid.UUID]domain.Payment
	outbox      []domain.OutboxEvent
	leases      map[uuid.UUID]time.Time
	webhooks    map[string]domain.WebhookEvent
	points      map[uuid.UUID]int64
	fees        map[uuid.UUID]decimal.Decimal
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: &memState{
		orders:      map[uuid.UUID]*domain.Order{},
		skus:        map[uuid.UUID]domain.SKU{},
		carts:       map[string][]domain.CartItem{},
		coupons:     map[string]domain.Coupon{},
		owners:      map[uuid.UUID]map[string]bool{},
		redemptions: map[redemptionKey]bool{},
		addresses:   map[uuid.UUID]domain.Address{},
		payments:    map[uuid.UUID]domain.Payment{},
		leases:      map[uuid.UUID]time.Time{},
		webhooks:    map[string]domain.WebhookEvent{},
		points:      map[uuid.UUID]int64{},
		fees:        map[uuid.UUID]decimal.Decimal{},
	}}
}

// InjectConflicts makes the next n transactions fail with domain.ErrConcurrencyConflict.
func (s *MemoryStore) InjectConflicts(n int) {
	s.mu.Lock()
	s.conflicts = n
	s.mu.Unlock()
}

func (s *MemoryStore) WithTransaction(ctx context.Context, _ IsolationLevel, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if s.conflicts > 0 {
		s.conflicts--
		return fmt.Errorf("%w: injected", domain.ErrConcurrencyConflict)
	}

	work := s.st.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

func copyOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Items = append([]domain.Item(nil), o.Items...)
	return &c
}

func (st *memState) clone() *memState {
	c := &memState{
		orders:      make(map[uuid.UUID]*domain.Order, len(st.orders)),
		skus:        make(map[uuid.UUID]domain.SKU, len(st.skus)),
		carts:       make(map[string][]domain.CartItem, len(st.carts)),
		coupons:     make(map[string]domain.Coupon, len(st.coupons)),
		owners:      make(map[uuid.UUID]map[string]bool, len(st.owners)),
		redemptions: make(map[redemptionKey]bool, len(st.redemptions)),
		addresses:   make(map[uuid.UUID]domain.Address, len(st.addresses)),
		payments:    make(map[uuid.UUID]domain.Payment, len(st.payments)),
		outbox:      append([]domain.OutboxEvent(nil), st.outbox...),
		leases:      make(map[uuid.UUID]time.Time, len(st.leases)),
		webhooks:    make(map[string]domain.WebhookEvent, len(st.webhooks)),
		points:      make(map[uuid.UUID]int64, len(st.points)),
		fees:        make(map[uuid.UUID]decimal.Decimal, len(st.fees)),
	}
	for k, v := range st.orders {
		c.orders[k] = copyOrder(v)
	}
	for k, v := range st.skus {
		c.skus[k] = v
	}
	for k, v := range st.carts {
		c.carts[k] = append([]domain.CartItem(nil), v...)
	}
	for k, v := range st.coupons {
		c.coupons[k] = v
	}
	for k, v := range st.owners {
		m := make(map[string]bool, len(v))
		for o := range v {
			m[o] = true
		}
		c.owners[k] = m
	}
	for k, v := range st.redemptions {
		c.redemptions[k] = v
	}
	for k, v := range st.addresses {
		c.addresses[k] = v
	}
	for k, v := range st.payments {
		c.payments[k] = v
	}
	for k, v := range st.webhooks {
		c.webhooks[k] = v
	}
	for k, v := range st.leases {
		c.leases[k] = v
	}
	for k, v := range st.points {
		c.points[k] = v
	}
	for k, v := range st.fees {
		c.fees[k] = v
	}
	return c
}

type memTx struct {
	st *memState
}

func (t *memTx) Orders() OrderRepo       { return memOrders{t.st} }
func (t *memTx) Stock() StockLedger      { return memStock{t.st} }
func (t *memTx) Carts() CartRepo         { return memCarts{t.st} }
func (t *memTx) Coupons() DiscountLedger { return memCoupons{t.st} }
func (t *memTx) Addresses() AddressRepo  { return memAddresses{t.st} }
func (t *memTx) Payments() PaymentRepo   { return memPayments{t.st} }
func (t *memTx) Outbox() OutboxRepo      { return memOutbox{t.st} }
func (t *memTx) Webhooks() WebhookRepo   { return memWebhooks{t.st} }
func (t *memTx) Rewards() RewardLedger   { return memRewards{t.st} }

type memOrders struct{ st *memState }

func (r memOrders) Create(_ context.Context, o *domain.Order) error {
	if _, ok := r.st.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	if err := o.CheckTotals(); err != nil {
		return err
	}
	r.st.orders[o.ID] = copyOrder(o)
	return nil
}

func (r memOrders) Get(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	o, ok := r.st.orders[id]
	if !ok {
		return nil, fmt.Errorf("order: %w", domain.ErrNotFound)
	}
	return copyOrder(o), nil
}

func (r memOrders) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.Get(ctx, id)
}

func (r memOrders) Update(_ context.Context, o *domain.Order) error {
	cur, ok := r.st.orders[o.ID]
	if !ok {
		return fmt.Errorf("order %s: %w", o.ID, domain.ErrNotFound)
	}
	next := copyOrder(cur)
	next.Status = o.Status
	next.Payment = o.Payment
	next.Shipping = o.Shipping
	next.CancelReason = o.CancelReason
	next.CancelledAt = o.CancelledAt
	next.UpdatedAt = o.UpdatedAt
	r.st.orders[o.ID] = next
	return nil
}

func (r memOrders) ListByCustomer(_ context.Context, customerID string, limit int) ([]*domain.Order, error) {
	var out []*domain.Order
	for _, o := range r.st.orders {
		if o.CustomerID == customerID {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memOrders) FindByTrackingCode(_ context.Context, code string) (*domain.Order, error) {
	for _, o := range r.st.orders {
		if code != "" && o.Shipping.TrackingCode == code {
			return copyOrder(o), nil
		}
	}
	return nil, fmt.Errorf("order: %w", domain.ErrNotFound)
}

type memStock struct{ st *memState }

func (r memStock) GetSKUs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.SKU, error) {
	out := make(map[uuid.UUID]domain.SKU, len(ids))
	for _, id := range ids {
		if s, ok := r.st.skus[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (r memStock) Reserve(_ context.Context, skuID uuid.UUID, qty int) error {
	s, ok := r.st.skus[skuID]
	if !ok {
		return fmt.Errorf("sku %s: %w", skuID, domain.ErrNotFound)
	}
	if s.Stock < qty {
		return &domain.InsufficientStockError{SKUID: skuID, Requested: qty, Available: s.Stock}
	}
	s.Stock -= qty
	r.st.skus[skuID] = s
	return nil
}

func (r memStock) Release(_ context.Context, skuID uuid.UUID, qty int) error {
	s, ok := r.st.skus[skuID]
	if !ok {
		return fmt.Errorf("sku %s: %w", skuID, domain.ErrNotFound)
	}
	s.Stock += qty
	r.st.skus[skuID] = s
	return nil
}

type memCarts struct{ st *memState }

func (r memCarts) Items(_ context.Context, customerID string) ([]domain.CartItem, error) {
	return append([]domain.CartItem(nil), r.st.carts[customerID]...), nil
}

func (r memCarts) Remove(_ context.Context, customerID string, itemIDs []uuid.UUID) error {
	drop := make(map[uuid.UUID]bool, len(itemIDs))
	for _, id := range itemIDs {
		drop[id] = true
	}
	kept := r.st.carts[customerID][:0:0]
	for _, ci := range r.st.carts[customerID] {
		if !drop[ci.ID] {
			kept = append(kept, ci)
		}
	}
	r.st.carts[customerID] = kept
	return nil
}

type memCoupons struct{ st *memState }

func (r memCoupons) FindByCode(_ context.Context, code string) (*domain.Coupon, error) {
	c, ok := r.st.coupons[code]
	if !ok {
		return nil, &domain.CouponInvalidError{Code: code, Reason: "not found"}
	}
	return &c, nil
}

func (r memCoupons) IsOwner(_ context.Context, couponID uuid.UUID, customerID string) (bool, error) {
	return r.st.owners[couponID][customerID], nil
}

func (r memCoupons) Redeem(_ context.Context, couponID, orderID uuid.UUID, _ string) error {
	key := redemptionKey{coupon: couponID, order: orderID}
	if r.st.redemptions[key] {
		return &domain.CouponInvalidError{Code: couponID.String(), Reason: "already redeemed for this order"}
	}
	for code, c := range r.st.coupons {
		if c.ID != couponID {
			continue
		}
		if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
			return &domain.CouponInvalidError{Code: code, Reason: "usage limit reached"}
		}
		c.UsedCount++
		r.st.coupons[code] = c
		r.st.redemptions[key] = true
		return nil
	}
	return &domain.CouponInvalidError{Code: couponID.String(), Reason: "not found"}
}

type memAddresses struct{ st *memState }

func (r memAddresses) Get(_ context.Context, customerID string, id uuid.UUID) (*domain.Address, error) {
	a, ok := r.st.addresses[id]
	if !ok || a.CustomerID != customerID {
		return nil, fmt.Errorf("address: %w", domain.ErrNotFound)
	}
	return &a, nil
}

func (r memAddresses) Default(_ context.Context, customerID string) (*domain.Address, error) {
	var found *domain.Address
	for _, a := range r.st.addresses {
		if a.CustomerID != customerID {
			continue
		}
		a := a
		if found == nil || a.IsDefault {
			found = &a
		}
	}
	if found == nil {
		return nil, fmt.Errorf("address: %w", domain.ErrNotFound)
	}
	return found, nil
}

type memPayments struct{ st *memState }

func (r memPayments) Create(_ context.Context, p *domain.Payment) error {
	if p.Status == domain.PaymentPaid && r.hasPaid(p.OrderID, p.ID) {
		return fmt.Errorf("order %s already has a paid payment", p.OrderID)
	}
	r.st.payments[p.ID] = *p
	return nil
}

func (r memPayments) ListByOrder(_ context.Context, orderID uuid.UUID) ([]*domain.Payment, error) {
	var out []*domain.Payment
	for _, p := range r.st.payments {
		if p.OrderID == orderID {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memPayments) Update(_ context.Context, p *domain.Payment) error {
	if _, ok := r.st.payments[p.ID]; !ok {
		return fmt.Errorf("payment %s: %w", p.ID, domain.ErrNotFound)
	}
	if p.Status == domain.PaymentPaid && r.hasPaid(p.OrderID, p.ID) {
		return fmt.Errorf("order %s already has a paid payment", p.OrderID)
	}
	r.st.payments[p.ID] = *p
	return nil
}

func (r memPayments) hasPaid(orderID, except uuid.UUID) bool {
	for id, p := range r.st.payments {
		if id != except && p.OrderID == orderID && p.Status == domain.PaymentPaid {
			return true
		}
	}
	return false
}

type memOutbox struct{ st *memState }

func (r memOutbox) Add(_ context.Context, events ...domain.OutboxEvent) error {
	r.st.outbox = append(r.st.outbox, events...)
	return nil
}

func (r memOutbox) ClaimPending(_ context.Context, c OutboxClaim) ([]domain.OutboxEvent, error) {
	var out []domain.OutboxEvent
	for _, e := range r.st.outbox {
		if e.DispatchedAt != nil || e.Attempts >= c.MaxAttempts {
			continue
		}
		if until, ok := r.st.leases[e.ID]; ok && until.After(c.Now) {
			continue
		}
		r.st.leases[e.ID] = c.Until
		out = append(out, e)
		if len(out) == c.Limit {
			break
		}
	}
	return out, nil
}

func (r memOutbox) MarkDispatched(_ context.Context, id uuid.UUID, at time.Time) error {
	for i := range r.st.outbox {
		if r.st.outbox[i].ID == id {
			r.st.outbox[i].DispatchedAt = &at
			r.st.outbox[i].Attempts++
			r.st.outbox[i].LastError = ""
			delete(r.st.leases, id)
			return nil
		}
	}
	return fmt.Errorf("outbox event %s: %w", id, domain.ErrNotFound)
}

func (r memOutbox) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	for i := range r.st.outbox {
		if r.st.outbox[i].ID == id {
			r.st.outbox[i].Attempts++
			r.st.outbox[i].LastError = reason
			delete(r.st.leases, id)
			return nil
		}
	}
	return fmt.Errorf("outbox event %s: %w", id, domain.ErrNotFound)
}

type memWebhooks struct{ st *memState }

func (r memWebhooks) Get(_ context.Context, id string) (*domain.WebhookEvent, error) {
	e, ok := r.st.webhooks[id]
	if !ok {
		return nil, fmt.Errorf("webhook event: %w", domain.ErrNotFound)
	}
	return &e, nil
}

func (r memWebhooks) Insert(_ context.Context, e *domain.WebhookEvent) error {
	if _, ok := r.st.webhooks[e.ID]; ok {
		return fmt.Errorf("webhook %s: %w", e.ID, domain.ErrDuplicateWebhook)
	}
	r.st.webhooks[e.ID] = *e
	return nil
}

type memRewards struct{ st *memState }

func (r memRewards) AccruePoints(_ context.Context, _ string, orderID uuid.UUID, points int64) error {
	if _, ok := r.st.points[orderID]; !ok {
		r.st.points[orderID] = points
	}
	return nil
}

func (r memRewards) RecordGatewayFee(_ context.Context, orderID uuid.UUID, _ domain.Provider, fee decimal.Decimal) error {
	if _, ok := r.st.fees[orderID]; !ok {
		r.st.fees[orderID] = fee
	}
	return nil
}
