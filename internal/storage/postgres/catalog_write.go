package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/shopcart/internal/domain"
)

const variantSKUConstraint = "variants_sku_key"

// ListCategories возвращает категории по возрастанию id.
func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	categories := make([]domain.Category, 0)
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return categories, nil
}

// CreateCategory добавляет категорию; родитель должен существовать.
func (s *Store) CreateCategory(ctx context.Context, c domain.Category) (domain.Category, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	created, err := scanCategory(s.db.QueryRowContext(ctx, `
		INSERT INTO categories (id, name, parent_id, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		RETURNING `+categoryColumns,
		c.ID, c.Name, c.ParentID, c.CreatedAt))
	switch {
	case isUniqueViolation(err):
		return domain.Category{}, domain.Conflict(domain.ErrAlreadyExists, c.ID)
	case isForeignKeyViolation(err):
		return domain.Category{}, domain.Validation(domain.ErrCategoryNotFound, c.ParentID)
	case isCheckViolation(err):
		return domain.Category{}, domain.Validation(domain.ErrCatalogInvalid, c.ID)
	case err != nil:
		return domain.Category{}, fmt.Errorf("create category %s: %w", c.ID, err)
	}
	return created, nil
}

// UpdateCategory меняет имя и родителя категории.
func (s *Store) UpdateCategory(ctx context.Context, c domain.Category) (domain.Category, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	updated, err := scanCategory(s.db.QueryRowContext(ctx, `
		UPDATE categories
		SET name = $2,
		    parent_id = NULLIF($3, '')
		WHERE id = $1
		RETURNING `+categoryColumns,
		c.ID, c.Name, c.ParentID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.Category{}, domain.NotFound(domain.ErrCategoryNotFound, c.ID)
	case isForeignKeyViolation(err):
		return domain.Category{}, domain.Validation(domain.ErrCategoryNotFound, c.ParentID)
	case isCheckViolation(err):
		return domain.Category{}, domain.Validation(domain.ErrCatalogInvalid, c.ID)
	case err != nil:
		return domain.Category{}, fmt.Errorf("update category %s: %w", c.ID, err)
	}
	return updated, nil
}

// DeleteCategory удаляет категорию без дочерних категорий и товаров.
func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	return s.deleteByID(ctx, `DELETE FROM categories WHERE id = $1`, id,
		domain.NotFound(domain.ErrCategoryNotFound, id))
}

// ListProducts возвращает товары по возрастанию id.
func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// CreateProduct добавляет товар; категория, если задана, должна существовать.
func (s *Store) CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	created, err := scanProduct(s.db.QueryRowContext(ctx, `
		INSERT INTO products (id, name, description, base_price, status, category_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		RETURNING `+productColumns,
		p.ID, p.Name, p.Description, p.BasePrice, p.Status, p.CategoryID, p.CreatedAt))
	switch {
	case isUniqueViolation(err):
		return domain.Product{}, domain.Conflict(domain.ErrAlreadyExists, p.ID)
	case isForeignKeyViolation(err):
		return domain.Product{}, domain.Validation(domain.ErrCategoryNotFound, p.CategoryID)
	case isCheckViolation(err):
		return domain.Product{}, domain.Validation(domain.ErrCatalogInvalid, p.ID)
	case err != nil:
		return domain.Product{}, fmt.Errorf("create product %s: %w", p.ID, err)
	}
	return created, nil
}

// UpdateProduct заменяет изменяемые поля товара.
func (s *Store) UpdateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	updated, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2,
		    description = $3,
		    base_price = $4,
		    status = $5,
		    category_id = NULLIF($6, '')
		WHERE id = $1
		RETURNING `+productColumns,
		p.ID, p.Name, p.Description, p.BasePrice, p.Status, p.CategoryID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.Product{}, domain.NotFound(domain.ErrProductNotFound, p.ID)
	case isForeignKeyViolation(err):
		return domain.Product{}, domain.Validation(domain.ErrCategoryNotFound, p.CategoryID)
	case isCheckViolation(err):
		return domain.Product{}, domain.Validation(domain.ErrCatalogInvalid, p.ID)
	case err != nil:
		return domain.Product{}, fmt.Errorf("update product %s: %w", p.ID, err)
	}
	return updated, nil
}

// DeleteProduct удаляет товар без вариантов.
func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	return s.deleteByID(ctx, `DELETE FROM products WHERE id = $1`, id,
		domain.NotFound(domain.ErrProductNotFound, id))
}

// ListVariants возвращает варианты по возрастанию id, опционально только товара productID.
func (s *Store) ListVariants(ctx context.Context, productID string) ([]domain.Variant, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+variantColumns+`
		FROM variants
		WHERE $1 = '' OR product_id = $1
		ORDER BY id
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	defer rows.Close()

	variants := make([]domain.Variant, 0)
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		variants = append(variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variants: %w", err)
	}
	return variants, nil
}

// CreateVariant добавляет вариант с нулевым резервом.
func (s *Store) CreateVariant(ctx context.Context, v domain.Variant) (domain.Variant, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	created, err := scanVariant(s.db.QueryRowContext(ctx, `
		INSERT INTO variants (id, product_id, sku, stock_quantity, reserved_quantity, price_adjustment)
		VALUES ($1, $2, $3, $4, 0, $5)
		RETURNING `+variantColumns,
		v.ID, v.ProductID, v.SKU, v.StockQuantity, v.PriceAdjustment))
	switch {
	case isUniqueViolation(err):
		if violatedConstraint(err) == variantSKUConstraint {
			return domain.Variant{}, domain.Conflict(domain.ErrSKUTaken, v.SKU)
		}
		return domain.Variant{}, domain.Conflict(domain.ErrAlreadyExists, v.ID)
	case isForeignKeyViolation(err):
		return domain.Variant{}, domain.Validation(domain.ErrProductNotFound, v.ProductID)
	case isCheckViolation(err):
		return domain.Variant{}, domain.Validation(domain.ErrCatalogInvalid, v.ID)
	case err != nil:
		return domain.Variant{}, fmt.Errorf("create variant %s: %w", v.ID, err)
	}
	return created, nil
}

// UpdateVariant меняет товар, SKU, остаток и надбавку; резерв не трогается.
// Остаток ниже резерва отклоняется ограничением variants_reserved_within_stock.
func (s *Store) UpdateVariant(ctx context.Context, v domain.Variant) (domain.Variant, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	updated, err := scanVariant(s.db.QueryRowContext(ctx, `
		UPDATE variants
		SET product_id = $2,
		    sku = $3,
		    stock_quantity = $4,
		    price_adjustment = $5
		WHERE id = $1
		RETURNING `+variantColumns,
		v.ID, v.ProductID, v.SKU, v.StockQuantity, v.PriceAdjustment))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.Variant{}, domain.NotFound(domain.ErrVariantNotFound, v.ID)
	case isUniqueViolation(err):
		return domain.Variant{}, domain.Conflict(domain.ErrSKUTaken, v.SKU)
	case isForeignKeyViolation(err):
		return domain.Variant{}, domain.Validation(domain.ErrProductNotFound, v.ProductID)
	case isCheckViolation(err):
		return domain.Variant{}, domain.Conflict(domain.ErrStockBelowReserved, v.ID)
	case err != nil:
		return domain.Variant{}, fmt.Errorf("update variant %s: %w", v.ID, err)
	}
	return updated, nil
}

// DeleteVariant удаляет вариант без резерва; ссылки из позиций и заказов дают ErrInUse.
func (s *Store) DeleteVariant(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM variants WHERE id = $1 AND reserved_quantity = 0`, id)
	if isForeignKeyViolation(err) {
		return domain.Conflict(domain.ErrInUse, id)
	}
	if err != nil {
		return fmt.Errorf("delete variant %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM variants WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check variant %s: %w", id, err)
	}
	if exists {
		return domain.Conflict(domain.ErrInUse, id)
	}
	return domain.NotFound(domain.ErrVariantNotFound, id)
}

// ListRules возвращает все правила в порядке применения.
func (s *Store) ListRules(ctx context.Context) ([]domain.PricingRule, error) {
	return listRules(ctx, s.db, s.logger, false)
}

// CreateRule добавляет правило цены.
func (s *Store) CreateRule(ctx context.Context, r domain.PricingRule) (domain.PricingRule, error) {
	conditions, err := json.Marshal(r.Conditions)
	if err != nil {
		return domain.PricingRule{}, fmt.Errorf("encode conditions of rule %s: %w", r.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pricing_rules (id, type, conditions, discount_type, discount_value, priority, is_active)
		VALUES ($1, $2, $3::jsonb, $4, $5, $6, $7)
	`, r.ID, r.Type, conditions, r.DiscountType, r.DiscountValue, r.Priority, r.IsActive)
	switch {
	case isUniqueViolation(err):
		return domain.PricingRule{}, domain.Conflict(domain.ErrAlreadyExists, r.ID)
	case isCheckViolation(err):
		return domain.PricingRule{}, domain.Validation(domain.ErrCatalogInvalid, r.ID)
	case err != nil:
		return domain.PricingRule{}, fmt.Errorf("create pricing rule %s: %w", r.ID, err)
	}
	return r, nil
}

// UpdateRule заменяет правило целиком.
func (s *Store) UpdateRule(ctx context.Context, r domain.PricingRule) (domain.PricingRule, error) {
	conditions, err := json.Marshal(r.Conditions)
	if err != nil {
		return domain.PricingRule{}, fmt.Errorf("encode conditions of rule %s: %w", r.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE pricing_rules
		SET type = $2,
		    conditions = $3::jsonb,
		    discount_type = $4,
		    discount_value = $5,
		    priority = $6,
		    is_active = $7
		WHERE id = $1
	`, r.ID, r.Type, conditions, r.DiscountType, r.DiscountValue, r.Priority, r.IsActive)
	if isCheckViolation(err) {
		return domain.PricingRule{}, domain.Validation(domain.ErrCatalogInvalid, r.ID)
	}
	if err != nil {
		return domain.PricingRule{}, fmt.Errorf("update pricing rule %s: %w", r.ID, err)
	}
	if err := expectAffected(res, domain.NotFound(domain.ErrRuleNotFound, r.ID)); err != nil {
		return domain.PricingRule{}, err
	}
	return r, nil
}

// DeleteRule удаляет правило.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	return s.deleteByID(ctx, `DELETE FROM pricing_rules WHERE id = $1`, id,
		domain.NotFound(domain.ErrRuleNotFound, id))
}

// deleteByID выполняет DELETE; нарушение внешнего ключа означает, что на запись ссылаются.
func (s *Store) deleteByID(ctx context.Context, query, id string, missing error) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, query, id)
	if isForeignKeyViolation(err) {
		return domain.Conflict(domain.ErrInUse, id)
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return expectAffected(res, missing)
}

var _ domain.CatalogStore = (*Store)(nil)
