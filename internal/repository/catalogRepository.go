package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type pgStock struct {
	tx pgx.Tx
}

// GetSKUs fetches and locks all requested SKUs in one round-trip. Rows of every
// tenant are returned; checkout rejects foreign ones with a specific error.
func (r *pgStock) GetSKUs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.SKU, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT id, tenant_id, product_name, variant_label, code, price, stock, status
		FROM shop.skus
		WHERE id = ANY($1) AND deleted_at IS NULL
		FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]domain.SKU, len(ids))
	for rows.Next() {
		var s domain.SKU
		if err := rows.Scan(&s.ID, &s.TenantID, &s.ProductName, &s.VariantLabel, &s.Code, &s.Price, &s.Stock, &s.Status); err != nil {
			return nil, err
		}
		out[s.ID] = s
	}
	return out, rows.Err()
}

func (r *pgStock) Reserve(ctx context.Context, skuID uuid.UUID, qty int) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE shop.skus SET stock = stock - $2
		WHERE id = $1 AND stock >= $2`, skuID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var available int
	err = r.tx.QueryRow(ctx, `SELECT stock FROM shop.skus WHERE id = $1`, skuID).Scan(&available)
	if err != nil {
		return notFound(err, "sku")
	}
	return &domain.InsufficientStockError{SKUID: skuID, Requested: qty, Available: available}
}

func (r *pgStock) Release(ctx context.Context, skuID uuid.UUID, qty int) error {
	tag, err := r.tx.Exec(ctx, `UPDATE shop.skus SET stock = stock + $2 WHERE id = $1`, skuID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sku %s: %w", skuID, domain.ErrNotFound)
	}
	return nil
}

type pgCarts struct {
	tx pgx.Tx
}

func (r *pgCarts) Items(ctx context.Context, customerID string) ([]domain.CartItem, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT id, customer_id, sku_id, quantity
		FROM shop.cart_items
		WHERE customer_id = $1
		ORDER BY created_at`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CartItem
	for rows.Next() {
		var ci domain.CartItem
		if err := rows.Scan(&ci.ID, &ci.CustomerID, &ci.SKUID, &ci.Quantity); err != nil {
			return nil, err
		}
		out = append(out, ci)
	}
	return out, rows.Err()
}

func (r *pgCarts) Remove(ctx context.Context, customerID string, itemIDs []uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM shop.cart_items WHERE customer_id = $1 AND id = ANY($2)`, customerID, itemIDs)
	return err
}

type pgCoupons struct {
	tx pgx.Tx
}

func (r *pgCoupons) FindByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	var c domain.Coupon
	var maxDiscount decimal.NullDecimal
	err := r.tx.QueryRow(ctx, `
		SELECT id, tenant_id, code, kind, value, max_discount, min_order, starts_at, expires_at, usage_limit, used_count, personal
		FROM shop.coupons
		WHERE code = $1 AND deleted_at IS NULL`, code).
		Scan(&c.ID, &c.TenantID, &c.Code, &c.Kind, &c.Value, &maxDiscount, &c.MinOrder, &c.StartsAt, &c.ExpiresAt,
			&c.UsageLimit, &c.UsedCount, &c.Personal)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.CouponInvalidError{Code: code, Reason: "not found"}
	}
	if err != nil {
		return nil, err
	}
	if maxDiscount.Valid {
		c.MaxDiscount = &maxDiscount.Decimal
	}
	return &c, nil
}

func (r *pgCoupons) IsOwner(ctx context.Context, couponID uuid.UUID, customerID string) (bool, error) {
	var ok bool
	err := r.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM shop.coupon_owners WHERE coupon_id = $1 AND customer_id = $2)`,
		couponID, customerID).Scan(&ok)
	return ok, err
}

func (r *pgCoupons) Redeem(ctx context.Context, couponID, orderID uuid.UUID, customerID string) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO shop.coupon_redemptions (coupon_id, order_id, customer_id)
		VALUES ($1, $2, $3)`, couponID, orderID, customerID)
	if isUniqueViolation(err) {
		return &domain.CouponInvalidError{Code: couponID.String(), Reason: "already redeemed for this order"}
	}
	if err != nil {
		return err
	}

	tag, err := r.tx.Exec(ctx, `
		UPDATE shop.coupons SET used_count = used_count + 1
		WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)`, couponID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &domain.CouponInvalidError{Code: couponID.String(), Reason: "usage limit reached"}
	}
	return nil
}

type pgAddresses struct {
	tx pgx.Tx
}

const addressColumns = `id, customer_id, recipient_name, phone, line, ward, district, province, is_default`

func (r *pgAddresses) Get(ctx context.Context, customerID string, id uuid.UUID) (*domain.Address, error) {
	return scanAddress(r.tx.QueryRow(ctx, `
		SELECT `+addressColumns+` FROM shop.addresses
		WHERE id = $1 AND customer_id = $2 AND deleted_at IS NULL`, id, customerID))
}

func (r *pgAddresses) Default(ctx context.Context, customerID string) (*domain.Address, error) {
	return scanAddress(r.tx.QueryRow(ctx, `
		SELECT `+addressColumns+` FROM shop.addresses
		WHERE customer_id = $1 AND deleted_at IS NULL
		ORDER BY is_default DESC
		LIMIT 1`, customerID))
}

func scanAddress(row pgx.Row) (*domain.Address, error) {
	var a domain.Address
	if err := row.Scan(&a.ID, &a.CustomerID, &a.RecipientName, &a.Phone, &a.Line, &a.Ward, &a.District, &a.Province, &a.IsDefault); err != nil {
		return nil, notFound(err, "address")
	}
	return &a, nil
}
