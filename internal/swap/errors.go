package swap

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rajivgeraev/bookswap-api/internal/models"
)

// ErrVersionConflict возвращается хранилищем, когда запись была изменена
// конкурентно и версия не совпала
var ErrVersionConflict = errors.New("версия записи обмена устарела")

// AuthorizationError означает, что пользователь не имеет права на действие
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return e.Reason
}

// StateConflictError означает, что переход недопустим из текущего статуса
// или уже существует активный обмен, нарушающий ограничения
type StateConflictError struct {
	Current models.SwapStatus
	Reason  string
}

func (e *StateConflictError) Error() string {
	if e.Current != "" {
		return fmt.Sprintf("%s (текущий статус: %s)", e.Reason, e.Current)
	}
	return e.Reason
}

// ValidationError означает недопустимые данные запроса
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return e.Reason
}

// NotFoundError означает, что обмен, книга или пользователь не найдены
type NotFoundError struct {
	Kind string // "swap", "book" или "user"
	ID   uuid.UUID
}

func (e *NotFoundError) Error() string {
	switch e.Kind {
	case "book":
		return fmt.Sprintf("книга %s не найдена", e.ID)
	case "user":
		return fmt.Sprintf("пользователь %s не найден", e.ID)
	default:
		return fmt.Sprintf("обмен %s не найден", e.ID)
	}
}

// IsAuthorization проверяет, является ли ошибка ошибкой авторизации
func IsAuthorization(err error) bool {
	var target *AuthorizationError
	return errors.As(err, &target)
}

// IsStateConflict проверяет, является ли ошибка конфликтом состояния
func IsStateConflict(err error) bool {
	var target *StateConflictError
	return errors.As(err, &target)
}

// IsValidation проверяет, является ли ошибка ошибкой валидации
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound проверяет, является ли ошибка отсутствием записи
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}
