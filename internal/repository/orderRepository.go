package repository

import (
	"context"
	"fmt"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const orderColumns = `id, tenant_id, customer_id, status,
	subtotal, discount, shipping_cost, tax, total,
	coalesce(coupon_code, ''), coupon_discount,
	payment_method, payment_status, coalesce(provider_txn_id, ''), paid_at,
	recipient_name, phone, address, coalesce(carrier, ''), coalesce(tracking_code, ''),
	shipped_at, delivered_at, coalesce(cancel_reason, ''), cancelled_at,
	created_at, updated_at`

// OrderRepository работает только внутри транзакции unit of work.
type OrderRepository struct {
	tx pgx.Tx
}

func (r *OrderRepository) Create(ctx context.Context, o *domain.Order) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO shop.orders
			(id, tenant_id, customer_id, status,
			 subtotal, discount, shipping_cost, tax, total,
			 coupon_code, coupon_discount, payment_method, payment_status,
			 recipient_name, phone, address, created_at, updated_at)
		VALUES
			($1, $2, $3, $4,
			 $5, $6, $7, $8, $9,
			 $10, $11, $12, $13,
			 $14, $15, $16, $17, $18)`,
		o.ID, o.TenantID, o.CustomerID, o.Status,
		o.Subtotal, o.Discount, o.ShippingCost, o.Tax, o.Total,
		nullIfEmpty(o.CouponCode), o.CouponDiscount, o.Payment.Method, o.Payment.Status,
		o.Shipping.RecipientName, o.Shipping.Phone, o.Shipping.Address, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	// items много к одному, пишем одним Batch
	batch := &pgx.Batch{}
	for _, it := range o.Items {
		batch.Queue(`
			INSERT INTO shop.order_items
				(order_id, sku_id, product_name, variant_label, sku_code, unit_price, quantity, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			o.ID, it.SKUID, it.ProductName, it.VariantLabel, it.SKUCode, it.UnitPrice, it.Quantity, it.Subtotal,
		)
	}
	br := r.tx.SendBatch(ctx, batch)
	for range o.Items {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert order items: %w", err)
		}
	}
	return br.Close()
}

func (r *OrderRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM shop.orders WHERE id = $1 AND deleted_at IS NULL`, id)
}

func (r *OrderRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM shop.orders WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id)
}

func (r *OrderRepository) FindByTrackingCode(ctx context.Context, code string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM shop.orders WHERE tracking_code = $1 AND deleted_at IS NULL FOR UPDATE`, code)
}

func (r *OrderRepository) getOne(ctx context.Context, query string, arg any) (*domain.Order, error) {
	o, err := scanOrder(r.tx.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, notFound(err, "order")
	}
	if err := r.loadItems(ctx, []*domain.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]*domain.Order, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT `+orderColumns+`
		FROM shop.orders
		WHERE customer_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2`, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *OrderRepository) Update(ctx context.Context, o *domain.Order) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE shop.orders SET
			status = $2,
			payment_status = $3, provider_txn_id = $4, paid_at = $5,
			carrier = $6, tracking_code = $7, shipped_at = $8, delivered_at = $9,
			cancel_reason = $10, cancelled_at = $11,
			updated_at = $12
		WHERE id = $1`,
		o.ID, o.Status,
		o.Payment.Status, nullIfEmpty(o.Payment.ProviderTxnID), o.Payment.PaidAt,
		nullIfEmpty(o.Shipping.Carrier), nullIfEmpty(o.Shipping.TrackingCode), o.Shipping.ShippedAt, o.Shipping.DeliveredAt,
		nullIfEmpty(o.CancelReason), o.CancelledAt,
		o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", o.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(orders))
	byID := make(map[uuid.UUID]*domain.Order, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
		byID[o.ID] = o
	}

	rows, err := r.tx.Query(ctx, `
		SELECT order_id, sku_id, product_name, variant_label, sku_code, unit_price, quantity, subtotal
		FROM shop.order_items
		WHERE order_id = ANY($1)
		ORDER BY id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var orderID uuid.UUID
		var it domain.Item
		if err := rows.Scan(&orderID, &it.SKUID, &it.ProductName, &it.VariantLabel, &it.SKUCode,
			&it.UnitPrice, &it.Quantity, &it.Subtotal); err != nil {
			return err
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	return rows.Err()
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID, &o.TenantID, &o.CustomerID, &o.Status,
		&o.Subtotal, &o.Discount, &o.ShippingCost, &o.Tax, &o.Total,
		&o.CouponCode, &o.CouponDiscount,
		&o.Payment.Method, &o.Payment.Status, &o.Payment.ProviderTxnID, &o.Payment.PaidAt,
		&o.Shipping.RecipientName, &o.Shipping.Phone, &o.Shipping.Address, &o.Shipping.Carrier, &o.Shipping.TrackingCode,
		&o.Shipping.ShippedAt, &o.Shipping.DeliveredAt, &o.CancelReason, &o.CancelledAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
