package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// CatalogRepo reads the storefront's store and product tables. Prices are
// stored as NUMERIC major units and handed out in cents.
type CatalogRepo struct{ DB *pgxpool.Pool }

var (
	_ Catalog        = (*CatalogRepo)(nil)
	_ StoreDirectory = (*CatalogRepo)(nil)
)

func (r *CatalogRepo) StoreExists(ctx context.Context, storeID int64) (bool, error) {
	var ok bool
	err := r.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM stores WHERE id=$1)`, storeID).Scan(&ok)
	return ok, err
}

// StoreContact returns the store's WhatsApp number, empty when unset.
func (r *CatalogRepo) StoreContact(ctx context.Context, storeID int64) (string, error) {
	var phone string
	err := r.DB.QueryRow(ctx, `SELECT COALESCE(whatsapp_phone, '') FROM stores WHERE id=$1`, storeID).Scan(&phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return phone, err
}

func (r *CatalogRepo) Product(ctx context.Context, id int64) (*CatalogProduct, error) {
	var (
		p     CatalogProduct
		price *string
	)
	err := r.DB.QueryRow(ctx, `SELECT id, store_id, name, price::text FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.StoreID, &p.Name, &price)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.PriceCents, err = PriceToCents(price); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *CatalogRepo) Variant(ctx context.Context, id int64) (*CatalogVariant, error) {
	var (
		v     CatalogVariant
		raw   []byte
		price *string
	)
	err := r.DB.QueryRow(ctx, `SELECT id, product_id, name, options, price::text FROM product_variants WHERE id=$1`, id).
		Scan(&v.ID, &v.ProductID, &v.Name, &raw, &price)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &v.Options); err != nil {
			return nil, fmt.Errorf("decode variant options: %w", err)
		}
	}
	if v.PriceCents, err = PriceToCents(price); err != nil {
		return nil, err
	}
	return &v, nil
}

// PriceToCents converts a decimal major-unit amount into minor units,
// rounding half away from zero. A nil price stays nil.
func PriceToCents(price *string) (*int64, error) {
	if price == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*price)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", *price, err)
	}
	cents := d.Shift(2).Round(0).IntPart()
	return &cents, nil
}
