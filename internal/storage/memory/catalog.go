package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/shopcart/internal/domain"
)

// ListCategories возвращает категории по возрастанию id.
func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.st.categories, func(c domain.Category) string { return c.ID }), nil
}

// CreateCategory добавляет категорию; родитель должен существовать.
func (s *Store) CreateCategory(_ context.Context, c domain.Category) (domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.st.categories[c.ID]; exists {
		return domain.Category{}, domain.Conflict(domain.ErrAlreadyExists, c.ID)
	}
	if err := s.checkParent(c); err != nil {
		return domain.Category{}, err
	}
	s.st.categories[c.ID] = c
	return c, nil
}

// UpdateCategory меняет имя и родителя категории.
func (s *Store) UpdateCategory(_ context.Context, c domain.Category) (domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.st.categories[c.ID]
	if !ok {
		return domain.Category{}, domain.NotFound(domain.ErrCategoryNotFound, c.ID)
	}
	if err := s.checkParent(c); err != nil {
		return domain.Category{}, err
	}
	current.Name, current.ParentID = c.Name, c.ParentID
	s.st.categories[c.ID] = current
	return current, nil
}

// DeleteCategory удаляет категорию без дочерних категорий и товаров.
func (s *Store) DeleteCategory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.categories[id]; !ok {
		return domain.NotFound(domain.ErrCategoryNotFound, id)
	}
	for _, c := range s.st.categories {
		if c.ParentID == id {
			return domain.Conflict(domain.ErrInUse, id)
		}
	}
	for _, p := range s.st.products {
		if p.CategoryID == id {
			return domain.Conflict(domain.ErrInUse, id)
		}
	}
	delete(s.st.categories, id)
	return nil
}

// ListProducts возвращает товары по возрастанию id.
func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.st.products, func(p domain.Product) string { return p.ID }), nil
}

// CreateProduct добавляет товар; категория, если задана, должна существовать.
func (s *Store) CreateProduct(_ context.Context, p domain.Product) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.st.products[p.ID]; exists {
		return domain.Product{}, domain.Conflict(domain.ErrAlreadyExists, p.ID)
	}
	if err := s.checkCategory(p.CategoryID); err != nil {
		return domain.Product{}, err
	}
	s.st.products[p.ID] = p
	return p, nil
}

// UpdateProduct заменяет изменяемые поля товара.
func (s *Store) UpdateProduct(_ context.Context, p domain.Product) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.st.products[p.ID]
	if !ok {
		return domain.Product{}, domain.NotFound(domain.ErrProductNotFound, p.ID)
	}
	if err := s.checkCategory(p.CategoryID); err != nil {
		return domain.Product{}, err
	}
	p.CreatedAt = current.CreatedAt
	s.st.products[p.ID] = p
	return p, nil
}

// DeleteProduct удаляет товар без вариантов.
func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.products[id]; !ok {
		return domain.NotFound(domain.ErrProductNotFound, id)
	}
	for _, v := range s.st.variants {
		if v.ProductID == id {
			return domain.Conflict(domain.ErrInUse, id)
		}
	}
	delete(s.st.products, id)
	return nil
}

// ListVariants возвращает варианты по возрастанию id, опционально только товара productID.
func (s *Store) ListVariants(_ context.Context, productID string) ([]domain.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	variants := sortedValues(s.st.variants, func(v domain.Variant) string { return v.ID })
	if productID == "" {
		return variants, nil
	}
	filtered := variants[:0]
	for _, v := range variants {
		if v.ProductID == productID {
			filtered = append(filtered, v)
		}
	}
	return filtered, nil
}

// CreateVariant добавляет вариант с нулевым резервом.
func (s *Store) CreateVariant(_ context.Context, v domain.Variant) (domain.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.st.variants[v.ID]; exists {
		return domain.Variant{}, domain.Conflict(domain.ErrAlreadyExists, v.ID)
	}
	if err := s.checkVariantRefs(v); err != nil {
		return domain.Variant{}, err
	}
	v.ReservedQuantity = 0
	s.st.variants[v.ID] = v
	return v, nil
}

// UpdateVariant меняет товар, SKU, остаток и надбавку; резерв сохраняется.
func (s *Store) UpdateVariant(_ context.Context, v domain.Variant) (domain.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.st.variants[v.ID]
	if !ok {
		return domain.Variant{}, domain.NotFound(domain.ErrVariantNotFound, v.ID)
	}
	if err := s.checkVariantRefs(v); err != nil {
		return domain.Variant{}, err
	}
	v.ReservedQuantity = current.ReservedQuantity
	if v.StockQuantity < v.ReservedQuantity {
		return domain.Variant{}, domain.Conflict(domain.ErrStockBelowReserved, v.ID)
	}
	s.st.variants[v.ID] = v
	return v, nil
}

// DeleteVariant удаляет вариант без резерва, позиций корзин и заказов.
func (s *Store) DeleteVariant(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.st.variants[id]
	if !ok {
		return domain.NotFound(domain.ErrVariantNotFound, id)
	}
	if v.ReservedQuantity > 0 {
		return domain.Conflict(domain.ErrInUse, id)
	}
	for _, item := range s.st.items {
		if item.VariantID == id {
			return domain.Conflict(domain.ErrInUse, id)
		}
	}
	for _, order := range s.orders {
		for _, item := range order.Items {
			if item.VariantID == id {
				return domain.Conflict(domain.ErrInUse, id)
			}
		}
	}
	delete(s.st.variants, id)
	return nil
}

// ListRules возвращает все правила в порядке применения.
func (s *Store) ListRules(_ context.Context) ([]domain.PricingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := make([]domain.PricingRule, 0, len(s.st.rules))
	for _, r := range s.st.rules {
		rules = append(rules, r)
	}
	domain.SortRules(rules)
	return rules, nil
}

// CreateRule добавляет правило цены.
func (s *Store) CreateRule(_ context.Context, r domain.PricingRule) (domain.PricingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.st.rules[r.ID]; exists {
		return domain.PricingRule{}, domain.Conflict(domain.ErrAlreadyExists, r.ID)
	}
	s.st.rules[r.ID] = r
	return r, nil
}

// UpdateRule заменяет правило целиком.
func (s *Store) UpdateRule(_ context.Context, r domain.PricingRule) (domain.PricingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.rules[r.ID]; !ok {
		return domain.PricingRule{}, domain.NotFound(domain.ErrRuleNotFound, r.ID)
	}
	s.st.rules[r.ID] = r
	return r, nil
}

// DeleteRule удаляет правило.
func (s *Store) DeleteRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.rules[id]; !ok {
		return domain.NotFound(domain.ErrRuleNotFound, id)
	}
	delete(s.st.rules, id)
	return nil
}

func (s *Store) checkParent(c domain.Category) error {
	if c.ParentID == "" {
		return nil
	}
	if c.ParentID == c.ID {
		return domain.Validation(domain.ErrCatalogInvalid, c.ID)
	}
	if _, ok := s.st.categories[c.ParentID]; !ok {
		return domain.Validation(domain.ErrCategoryNotFound, c.ParentID)
	}
	return nil
}

func (s *Store) checkCategory(id string) error {
	if id == "" {
		return nil
	}
	if _, ok := s.st.categories[id]; !ok {
		return domain.Validation(domain.ErrCategoryNotFound, id)
	}
	return nil
}

func (s *Store) checkVariantRefs(v domain.Variant) error {
	if _, ok := s.st.products[v.ProductID]; !ok {
		return domain.Validation(domain.ErrProductNotFound, v.ProductID)
	}
	for _, other := range s.st.variants {
		if other.ID != v.ID && other.SKU == v.SKU {
			return domain.Conflict(domain.ErrSKUTaken, v.SKU)
		}
	}
	return nil
}

func sortedValues[V any](src map[string]V, key func(V) string) []V {
	out := make([]V, 0, len(src))
	for _, v := range src {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return key(out[i]) < key(out[j]) })
	return out
}

var _ domain.CatalogStore = (*Store)(nil)
