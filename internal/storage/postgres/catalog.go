package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcart/internal/domain"
)

const (
	productColumns  = `id, name, description, base_price, status, category_id, created_at`
	categoryColumns = `id, name, parent_id, created_at`
	variantColumns  = `id, product_id, sku, stock_quantity, reserved_quantity, price_adjustment`
	ruleColumns     = `id, type, conditions, discount_type, discount_value, priority, is_active`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func getProduct(ctx context.Context, q queryer, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	product, err := scanProduct(q.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, domain.NotFound(domain.ErrProductNotFound, id)
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("get product %s: %w", id, err)
	}
	return product, nil
}

func getVariant(ctx context.Context, q queryer, id string, forUpdate bool) (domain.Variant, error) {
	query := `SELECT ` + variantColumns + ` FROM variants WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	variant, err := scanVariant(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Variant{}, domain.NotFound(domain.ErrVariantNotFound, id)
	}
	if err != nil {
		return domain.Variant{}, fmt.Errorf("get variant %s: %w", id, err)
	}
	return variant, nil
}

func listActiveRules(ctx context.Context, q queryer, logger *log.Entry) ([]domain.PricingRule, error) {
	return listRules(ctx, q, logger, true)
}

// listRules пропускает правило с нераспознаваемыми условиями с предупреждением в лог.
func listRules(ctx context.Context, q queryer, logger *log.Entry, activeOnly bool) ([]domain.PricingRule, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `SELECT ` + ruleColumns + ` FROM pricing_rules`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY priority DESC, id ASC`

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pricing rules: %w", err)
	}
	defer rows.Close()

	rules := make([]domain.PricingRule, 0)
	for rows.Next() {
		var (
			rule       domain.PricingRule
			conditions []byte
		)
		if err := rows.Scan(
			&rule.ID,
			&rule.Type,
			&conditions,
			&rule.DiscountType,
			&rule.DiscountValue,
			&rule.Priority,
			&rule.IsActive,
		); err != nil {
			return nil, fmt.Errorf("scan pricing rule: %w", err)
		}
		if len(conditions) > 0 {
			if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
				logger.WithError(err).WithField("rule_id", rule.ID).Warn("pricing rule skipped: invalid conditions")
				continue
			}
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pricing rules: %w", err)
	}

	// Порядок из SQL зависит от collation; фиксируем побайтовое сравнение id.
	domain.SortRules(rules)
	return rules, nil
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		product    domain.Product
		categoryID sql.NullString
	)
	if err := row.Scan(
		&product.ID,
		&product.Name,
		&product.Description,
		&product.BasePrice,
		&product.Status,
		&categoryID,
		&product.CreatedAt,
	); err != nil {
		return domain.Product{}, err
	}
	product.CategoryID = categoryID.String
	product.CreatedAt = product.CreatedAt.UTC()
	return product, nil
}

func scanVariant(row rowScanner) (domain.Variant, error) {
	var variant domain.Variant
	if err := row.Scan(
		&variant.ID,
		&variant.ProductID,
		&variant.SKU,
		&variant.StockQuantity,
		&variant.ReservedQuantity,
		&variant.PriceAdjustment,
	); err != nil {
		return domain.Variant{}, err
	}
	return variant, nil
}

func scanCategory(row rowScanner) (domain.Category, error) {
	var (
		category domain.Category
		parentID sql.NullString
	)
	if err := row.Scan(&category.ID, &category.Name, &parentID, &category.CreatedAt); err != nil {
		return domain.Category{}, err
	}
	category.ParentID = parentID.String
	category.CreatedAt = category.CreatedAt.UTC()
	return category, nil
}
