package domain

import (
	"errors"
	"fmt"
)

// ErrorKind классифицирует доменные ошибки для маппинга на ответы транспорта.
type ErrorKind string

const (
	// KindNotFound — запрошенная сущность отсутствует.
	KindNotFound ErrorKind = "not_found"
	// KindValidation — некорректный ввод.
	KindValidation ErrorKind = "validation"
	// KindConflict — операция противоречит текущему состоянию (сток, статус корзины, владелец).
	KindConflict ErrorKind = "conflict"
	// KindInternal — непредвиденный сбой хранилища или инфраструктуры.
	KindInternal ErrorKind = "internal"
)

var (
	// ErrVariantNotFound возвращается, если вариант товара не найден.
	ErrVariantNotFound = errors.New("variant not found")
	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = errors.New("product not found")
	// ErrCategoryNotFound возвращается, если категория не найдена.
	ErrCategoryNotFound = errors.New("category not found")
	// ErrRuleNotFound возвращается, если правило цены не найдено.
	ErrRuleNotFound = errors.New("pricing rule not found")
	// ErrAlreadyExists — запись с таким id уже есть.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrSKUTaken — SKU уже занят другим вариантом.
	ErrSKUTaken = errors.New("sku already exists")
	// ErrInUse — на запись ссылаются другие записи, удаление запрещено.
	ErrInUse = errors.New("record is referenced by other records")
	// ErrStockBelowReserved — новый остаток меньше уже зарезервированного количества.
	ErrStockBelowReserved = errors.New("stock quantity is lower than reserved quantity")
	// ErrCatalogInvalid — запись каталога или правило не проходит проверку.
	ErrCatalogInvalid = errors.New("invalid catalog record")
	// ErrCartNotFound возвращается, если корзина не найдена.
	ErrCartNotFound = errors.New("cart not found")
	// ErrItemNotFound возвращается, если позиция корзины не найдена.
	ErrItemNotFound = errors.New("cart item not found")
	// ErrVariantMismatch — вариант принадлежит другому товару.
	ErrVariantMismatch = errors.New("variant does not belong to product")
	// ErrQuantityInvalid — количество должно быть больше нуля.
	ErrQuantityInvalid = errors.New("quantity must be greater than zero")
	// ErrUserRequired — не передан идентификатор пользователя.
	ErrUserRequired = errors.New("user_id is required")
	// ErrInsufficientStock — доступного стока не хватает для резерва.
	ErrInsufficientStock = errors.New("not enough available stock")
	// ErrCartNotActive — корзина уже оформлена.
	ErrCartNotActive = errors.New("cart is not active")
	// ErrNotOwner — корзина принадлежит другому пользователю.
	ErrNotOwner = errors.New("cart belongs to another user")
	// ErrCartEmpty — нечего оформлять.
	ErrCartEmpty = errors.New("cart is empty")
	// ErrReservationInconsistent — резерв варианта меньше количества в корзине.
	// При корректных блокировках недостижимо и сигнализирует о баге.
	ErrReservationInconsistent = errors.New("reserved quantity is lower than cart quantity")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// Error несёт вид ошибки и идентификатор сущности, к которой она относится.
type Error struct {
	Kind ErrorKind
	ID   string
	Err  error
}

func (e *Error) Error() string {
	if e.ID == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s (id=%s)", e.Err.Error(), e.ID)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound оборачивает err как ошибку отсутствия сущности id.
func NotFound(err error, id string) error {
	return &Error{Kind: KindNotFound, ID: id, Err: err}
}

// Validation оборачивает err как ошибку валидации.
func Validation(err error, id string) error {
	return &Error{Kind: KindValidation, ID: id, Err: err}
}

// Conflict оборачивает err как конфликт с текущим состоянием.
func Conflict(err error, id string) error {
	return &Error{Kind: KindConflict, ID: id, Err: err}
}

// KindOf возвращает вид доменной ошибки; всё неизвестное считается внутренней ошибкой.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsConflict проверяет, является ли ошибка конфликтом состояния.
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}
