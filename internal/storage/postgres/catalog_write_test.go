package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopcart/internal/domain"
)

var (
	productRowColumns  = []string{"id", "name", "description", "base_price", "status", "category_id", "created_at"}
	variantRowColumns  = []string{"id", "product_id", "sku", "stock_quantity", "reserved_quantity", "price_adjustment"}
	categoryRowColumns = []string{"id", "name", "parent_id", "created_at"}
)

func TestCatalog_CreateProductReturnsStoredRow(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO products \(id, name, description, base_price, status, category_id, created_at\) VALUES \(\$1, \$2, \$3, \$4, \$5, NULLIF\(\$6, ''\), \$7\) RETURNING id, name, description`).
		WithArgs("p-1", "Kettle", "Steel", decimal.RequireFromString("49.90"), domain.ProductStatusActive, "", created).
		WillReturnRows(sqlmock.NewRows(productRowColumns).
			AddRow("p-1", "Kettle", "Steel", "49.90", "ACTIVE", nil, created))

	product, err := store.CreateProduct(context.Background(), domain.Product{
		ID: "p-1", Name: "Kettle", Description: "Steel", BasePrice: decimal.RequireFromString("49.90"),
		Status: domain.ProductStatusActive, CreatedAt: created,
	})
	require.NoError(t, err)
	assert.Equal(t, "Steel", product.Description)
	assert.Empty(t, product.CategoryID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalog_CreateProductUnknownCategory(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO products`).
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "products_category_id_fkey"})

	_, err := store.CreateProduct(context.Background(), domain.Product{ID: "p-1", Name: "Kettle", CategoryID: "c-404"})
	require.ErrorIs(t, err, domain.ErrCategoryNotFound)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalog_CreateVariantUniqueViolations(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO variants .* VALUES \(\$1, \$2, \$3, \$4, 0, \$5\)`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "variants_sku_key"})
	mock.ExpectQuery(`INSERT INTO variants`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "variants_pkey"})

	_, err := store.CreateVariant(context.Background(), domain.Variant{ID: "v-2", ProductID: "p-1", SKU: "MUG"})
	require.ErrorIs(t, err, domain.ErrSKUTaken)

	_, err = store.CreateVariant(context.Background(), domain.Variant{ID: "v-1", ProductID: "p-1", SKU: "NEW"})
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalog_UpdateVariantKeepsReservation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE variants SET product_id = \$2, sku = \$3, stock_quantity = \$4, price_adjustment = \$5 WHERE id = \$1 RETURNING`).
		WithArgs("v-1", "p-1", "MUG", 8, decimal.Zero).
		WillReturnRows(sqlmock.NewRows(variantRowColumns).AddRow("v-1", "p-1", "MUG", 8, 3, "0"))
	mock.ExpectQuery(`UPDATE variants`).
		WillReturnError(&pgconn.PgError{Code: "23514", ConstraintName: "variants_reserved_within_stock"})

	variant, err := store.UpdateVariant(context.Background(), domain.Variant{ID: "v-1", ProductID: "p-1", SKU: "MUG", StockQuantity: 8})
	require.NoError(t, err)
	assert.Equal(t, 3, variant.ReservedQuantity)

	_, err = store.UpdateVariant(context.Background(), domain.Variant{ID: "v-1", ProductID: "p-1", SKU: "MUG", StockQuantity: 1})
	require.ErrorIs(t, err, domain.ErrStockBelowReserved)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalog_DeleteVariant(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM variants WHERE id = \$1 AND reserved_quantity = 0`).
		WithArgs("v-held").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM variants WHERE id = \$1\)`).
		WithArgs("v-held").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	mock.ExpectExec(`DELETE FROM variants`).
		WithArgs("v-ordered").
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "order_items_variant_id_fkey"})

	mock.ExpectExec(`DELETE FROM variants`).
		WithArgs("v-404").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("v-404").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	ctx := context.Background()
	require.ErrorIs(t, store.DeleteVariant(ctx, "v-held"), domain.ErrInUse)
	require.ErrorIs(t, store.DeleteVariant(ctx, "v-ordered"), domain.ErrInUse)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(store.DeleteVariant(ctx, "v-404")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalog_CategoryWrites(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO categories \(id, name, parent_id, created_at\) VALUES \(\$1, \$2, NULLIF\(\$3, ''\), \$4\)`).
		WithArgs("kitchen", "Kitchen", "home", created).
		WillReturnRows(sqlmock.NewRows(categoryRowColumns).AddRow("kitchen", "Kitchen", "home", created))
	mock.ExpectQuery(`UPDATE categories SET name = \$2, parent_id = NULLIF\(\$3, ''\) WHERE id = \$1`).
		WithArgs("c-404", "Ghost", "").
		WillReturnRows(sqlmock.NewRows(categoryRowColumns))
	mock.ExpectExec(`DELETE FROM categories WHERE id = \$1`).
		WithArgs("home").
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "categories_parent_id_fkey"})

	ctx := context.Background()
	category, err := store.CreateCategory(ctx, domain.Category{ID: "kitchen", Name: "Kitchen", ParentID: "home", CreatedAt: created})
	require.NoError(t, err)
	assert.Equal(t, "home", category.ParentID)

	_, err = store.UpdateCategory(ctx, domain.Category{ID: "c-404", Name: "Ghost"})
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	require.ErrorIs(t, store.DeleteCategory(ctx, "home"), domain.ErrInUse)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalog_RuleWrites(t *testing.T) {
	store, mock := newMockStore(t)
	start := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	rule := domain.PricingRule{
		ID:            "r-winter",
		Type:          domain.RuleTypeSeasonal,
		Conditions:    domain.RuleConditions{StartDate: &start},
		DiscountType:  domain.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(15),
		Priority:      5,
		IsActive:      true,
	}

	mock.ExpectExec(`INSERT INTO pricing_rules .* VALUES \(\$1, \$2, \$3::jsonb, \$4, \$5, \$6, \$7\)`).
		WithArgs("r-winter", domain.RuleTypeSeasonal, []byte(`{"startDate":"2026-12-01T00:00:00Z"}`),
			domain.DiscountPercentage, decimal.NewFromInt(15), 5, true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE pricing_rules`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id, type, conditions, discount_type, discount_value, priority, is_active FROM pricing_rules ORDER BY priority DESC, id ASC`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "type", "conditions", "discount_type", "discount_value", "priority", "is_active",
		}).AddRow("r-off", "BULK", []byte(`{"minQuantity":3}`), "PERCENTAGE", "5", 1, false))

	ctx := context.Background()
	_, err := store.CreateRule(ctx, rule)
	require.NoError(t, err)

	rule.ID = "r-404"
	_, err = store.UpdateRule(ctx, rule)
	require.ErrorIs(t, err, domain.ErrRuleNotFound)

	rules, err := store.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.False(t, rules[0].IsActive)
	require.NoError(t, mock.ExpectationsWereMet())
}
