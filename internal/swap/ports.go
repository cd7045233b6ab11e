package swap

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/bookswap-api/internal/models"
)

// ListType определяет фильтр списка обменов по роли пользователя
type ListType string

const (
	ListSent     ListType = "sent"
	ListReceived ListType = "received"
	ListAll      ListType = "all"
)

// ListFilter определяет параметры выборки обменов пользователя
type ListFilter struct {
	Type   ListType
	Status models.SwapStatus // пустое значение — все статусы
}

// Store определяет хранилище обменов.
// Update выполняет оптимистичную запись: если версия записи в хранилище
// не совпадает с версией переданного обмена, возвращается ErrVersionConflict.
type Store interface {
	Create(ctx context.Context, s *models.Swap) error
	Get(ctx context.Context, id uuid.UUID) (*models.Swap, error)
	Update(ctx context.Context, s *models.Swap) error
	ListForUser(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]models.Swap, error)

	// HasActiveForBook проверяет наличие незавершённого обмена
	// пары (запрашивающий, книга)
	HasActiveForBook(ctx context.Context, requesterID, bookID uuid.UUID) (bool, error)

	// HasActiveBetween проверяет наличие незавершённого обмена между двумя
	// пользователями в любом направлении
	HasActiveBetween(ctx context.Context, userA, userB uuid.UUID) (bool, error)
}

// Registry определяет реестр книг.
// SetAvailability — условная запись: переход выполняется только если книга
// сейчас в состоянии from. Если книга уже в состоянии to, вызов считается
// идемпотентным и успешным; любое другое текущее состояние — конфликт.
type Registry interface {
	GetBook(ctx context.Context, id uuid.UUID) (*models.Book, error)
	SetAvailability(ctx context.Context, id uuid.UUID, from, to models.BookAvailability) error
}

// Identity разрешает пользователя в снимок отображаемых данных
type Identity interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// EventKind представляет тип события жизненного цикла обмена
type EventKind string

const (
	EventCreated    EventKind = "created"
	EventAccepted   EventKind = "accepted"
	EventDeclined   EventKind = "declined"
	EventInProgress EventKind = "in_progress"
	EventCompleted  EventKind = "completed"
	EventCancelled  EventKind = "cancelled"

	// EventReceiptPending передаётся только через Notifier как напоминание
	// второй стороне подтвердить получение; в Sink не отправляется
	EventReceiptPending EventKind = "receipt_pending"
)

// Event представляет событие перехода, передаваемое подписчику активности
type Event struct {
	SwapID       uuid.UUID   `json:"swap_id"`
	Kind         EventKind   `json:"kind"`
	Participants []uuid.UUID `json:"participants"`
	OccurredAt   time.Time   `json:"occurred_at"`
}

// Sink принимает события переходов для начисления баллов и истории.
// Доставка best-effort: ошибка подписчика не откатывает переход.
// Подписчик обязан обрабатывать события completed идемпотентно по swap_id.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// Notifier уведомляет вторую сторону о событиях, требующих её действия
type Notifier interface {
	Notify(userID uuid.UUID, event Event)
}
