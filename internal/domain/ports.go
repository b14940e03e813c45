package domain

import (
	"context"
	"time"
)

// CatalogReader читает каталог и активные правила цен.
type CatalogReader interface {
	// GetProduct возвращает товар или ErrProductNotFound.
	GetProduct(ctx context.Context, id string) (Product, error)
	// GetVariant возвращает вариант или ErrVariantNotFound.
	GetVariant(ctx context.Context, id string) (Variant, error)
	// ListActiveRules возвращает активные правила, упорядоченные SortRules.
	ListActiveRules(ctx context.Context) ([]PricingRule, error)
}

// Tx — операции внутри одной транзакции хранилища.
//
// Блокировки берутся в порядке: корзина, позиции корзины, варианты по возрастанию id.
// Все методы Lock* удерживают блокировку до конца транзакции.
type Tx interface {
	CatalogReader

	// LockVariant блокирует строку варианта.
	LockVariant(ctx context.Context, id string) (Variant, error)
	// SaveVariantCounters сохраняет stock и reserved варианта.
	SaveVariantCounters(ctx context.Context, v Variant) error

	// EnsureActiveCart возвращает заблокированную ACTIVE корзину пользователя candidate.UserID,
	// создавая candidate, если её нет.
	EnsureActiveCart(ctx context.Context, candidate Cart) (Cart, error)
	// LockActiveCart блокирует ACTIVE корзину пользователя; found=false, если её нет.
	LockActiveCart(ctx context.Context, userID string) (cart Cart, found bool, err error)
	// LockCart блокирует корзину по id.
	LockCart(ctx context.Context, cartID string) (Cart, error)
	// CompleteCart переводит корзину в COMPLETED.
	CompleteCart(ctx context.Context, cartID string, at time.Time) error

	// GetItem читает позицию без блокировки; нужен, чтобы найти корзину позиции.
	GetItem(ctx context.Context, itemID string) (CartItem, error)
	// LockItem блокирует позицию; вызывается после блокировки её корзины.
	LockItem(ctx context.Context, itemID string) (CartItem, error)
	// LockCartItems блокирует все позиции корзины в порядке добавления.
	LockCartItems(ctx context.Context, cartID string) ([]CartItem, error)
	// ListExpiredVariants возвращает до limit id вариантов с истёкшими резервами
	// в ACTIVE корзинах, по возрастанию id и строго после afterID.
	ListExpiredVariants(ctx context.Context, now time.Time, afterID string, limit int) ([]string, error)
	// LockExpiredItems блокирует до limit истёкших позиций варианта в ACTIVE корзинах,
	// пропуская строки, заблокированные другими транзакциями.
	LockExpiredItems(ctx context.Context, variantID string, now time.Time, limit int) ([]CartItem, error)
	InsertItem(ctx context.Context, item CartItem) error
	UpdateItemQuantity(ctx context.Context, itemID string, quantity int) error
	DeleteItems(ctx context.Context, itemIDs ...string) error

	// InsertOrder сохраняет заказ вместе с позициями.
	InsertOrder(ctx context.Context, order Order) error
	// EnqueueOutbox сохраняет событие в outbox в рамках транзакции.
	EnqueueOutbox(ctx context.Context, msg OutboxMessage) error
}

// CatalogStore — запись справочников каталога и правил цен.
//
// Create возвращает ErrAlreadyExists при занятом id. Update и Delete возвращают
// NotFound для отсутствующей записи. Delete возвращает ErrInUse, если на запись
// ссылаются другие записи. UpdateVariant не меняет ReservedQuantity.
type CatalogStore interface {
	ListCategories(ctx context.Context) ([]Category, error)
	CreateCategory(ctx context.Context, c Category) (Category, error)
	UpdateCategory(ctx context.Context, c Category) (Category, error)
	DeleteCategory(ctx context.Context, id string) error

	ListProducts(ctx context.Context) ([]Product, error)
	CreateProduct(ctx context.Context, p Product) (Product, error)
	UpdateProduct(ctx context.Context, p Product) (Product, error)
	DeleteProduct(ctx context.Context, id string) error

	// ListVariants возвращает варианты товара productID или все варианты при пустом productID.
	ListVariants(ctx context.Context, productID string) ([]Variant, error)
	CreateVariant(ctx context.Context, v Variant) (Variant, error)
	UpdateVariant(ctx context.Context, v Variant) (Variant, error)
	DeleteVariant(ctx context.Context, id string) error

	// ListRules возвращает все правила, включая неактивные, в порядке применения.
	ListRules(ctx context.Context) ([]PricingRule, error)
	CreateRule(ctx context.Context, r PricingRule) (PricingRule, error)
	UpdateRule(ctx context.Context, r PricingRule) (PricingRule, error)
	DeleteRule(ctx context.Context, id string) error
}

// Store — хранилище каталога и корзин с транзакционным доступом.
type Store interface {
	CatalogReader

	// WithinTx выполняет fn в транзакции. Любая ошибка fn откатывает все изменения.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// ViewActiveCart возвращает ACTIVE корзину пользователя с позициями; found=false, если её нет.
	ViewActiveCart(ctx context.Context, userID string) (view CartView, found bool, err error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository отдаёт накопленные события воркеру публикации.
type OutboxRepository interface {
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}
