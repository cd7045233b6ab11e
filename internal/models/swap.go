package models

import (
	"time"

	"github.com/google/uuid"
)

// SwapStatus представляет статус обмена книгами
type SwapStatus string

const (
	SwapStatusPending    SwapStatus = "pending"
	SwapStatusAccepted   SwapStatus = "accepted"
	SwapStatusDeclined   SwapStatus = "declined"
	SwapStatusInProgress SwapStatus = "in_progress"
	SwapStatusCompleted  SwapStatus = "completed"
	SwapStatusCancelled  SwapStatus = "cancelled"
)

// IsValid проверяет, что статус входит в закрытый набор
func (s SwapStatus) IsValid() bool {
	switch s {
	case SwapStatusPending, SwapStatusAccepted, SwapStatusDeclined,
		SwapStatusInProgress, SwapStatusCompleted, SwapStatusCancelled:
		return true
	}
	return false
}

// IsTerminal сообщает, является ли статус конечным
func (s SwapStatus) IsTerminal() bool {
	switch s {
	case SwapStatusDeclined, SwapStatusCompleted, SwapStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo проверяет допустимость перехода по машине состояний.
// Переходы только вперёд, возврат в пройденное состояние невозможен.
func (s SwapStatus) CanTransitionTo(next SwapStatus) bool {
	switch s {
	case SwapStatusPending:
		return next == SwapStatusAccepted || next == SwapStatusDeclined || next == SwapStatusCancelled
	case SwapStatusAccepted:
		return next == SwapStatusInProgress || next == SwapStatusCancelled
	case SwapStatusInProgress:
		return next == SwapStatusCompleted || next == SwapStatusCancelled
	case SwapStatusDeclined, SwapStatusCompleted, SwapStatusCancelled:
		return false
	}
	return false
}

// NegotiationAction представляет тип записи в журнале переговоров
type NegotiationAction string

const (
	ActionMessage      NegotiationAction = "message"
	ActionCounterOffer NegotiationAction = "counter_offer"
	ActionAccept       NegotiationAction = "accept"
	ActionDecline      NegotiationAction = "decline"
	ActionComplete     NegotiationAction = "complete"
	ActionCancel       NegotiationAction = "cancel"
)

// IsValid проверяет, что тип действия входит в закрытый набор
func (a NegotiationAction) IsValid() bool {
	switch a {
	case ActionMessage, ActionCounterOffer, ActionAccept,
		ActionDecline, ActionComplete, ActionCancel:
		return true
	}
	return false
}

// ParticipantRole представляет роль пользователя в обмене
type ParticipantRole int

const (
	RoleNone ParticipantRole = iota
	RoleRequester
	RoleOwner
)

// NegotiationEvent представляет одну запись журнала переговоров.
// Записи неизменяемы: журнал только дополняется.
type NegotiationEvent struct {
	ActorID   uuid.UUID         `json:"actor_id"`
	ActorName string            `json:"actor_name"`
	Message   string            `json:"message,omitempty"`
	Action    NegotiationAction `json:"action"`
	CreatedAt time.Time         `json:"created_at"`
}

// BookRef представляет ссылку на книгу со снимком названия и автора.
// Снимок фиксируется в момент создания и не обновляется задним числом.
type BookRef struct {
	BookID uuid.UUID `json:"book_id"`
	Title  string    `json:"title"`
	Author string    `json:"author,omitempty"`
}

// MeetingDetails представляет договорённость о встрече для передачи книг
type MeetingDetails struct {
	Location    string    `json:"location"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Notes       string    `json:"notes,omitempty"`
	Confirmed   bool      `json:"confirmed"`
}

// ReceivedConfirmation отслеживает независимые подтверждения получения книг.
// Обмен завершается только когда подтвердили обе стороны.
type ReceivedConfirmation struct {
	RequesterConfirmed   bool       `json:"requester_confirmed"`
	RequesterConfirmedAt *time.Time `json:"requester_confirmed_at,omitempty"`
	OwnerConfirmed       bool       `json:"owner_confirmed"`
	OwnerConfirmedAt     *time.Time `json:"owner_confirmed_at,omitempty"`
}

// Rating представляет оценку обмена одной из сторон, выставляется один раз
type Rating struct {
	Score     int       `json:"score"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Swap представляет обмен книгами между двумя пользователями
type Swap struct {
	ID            uuid.UUID `json:"id"`
	RequesterID   uuid.UUID `json:"requester_id"`
	RequesterName string    `json:"requester_name"`
	OwnerID       uuid.UUID `json:"owner_id"`
	OwnerName     string    `json:"owner_name"`

	RequestedBook BookRef   `json:"requested_book"`
	OfferedBooks  []BookRef `json:"offered_books,omitempty"`

	Status  SwapStatus `json:"status"`
	Message string     `json:"message,omitempty"`

	NegotiationHistory []NegotiationEvent   `json:"negotiation_history"`
	Meeting            *MeetingDetails      `json:"meeting,omitempty"`
	Confirmation       ReceivedConfirmation `json:"confirmation"`
	RequesterRating    *Rating              `json:"requester_rating,omitempty"`
	OwnerRating        *Rating              `json:"owner_rating,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Счётчик версий для оптимистичной блокировки записи
	Version int `json:"-"`

	// Дополнительные поля для API
	Requester *User     `json:"requester,omitempty"`
	Owner     *User     `json:"owner,omitempty"`
	ChatID    uuid.UUID `json:"chat_id,omitempty"`
}

// RoleOf возвращает роль пользователя в обмене.
// Явная дискриминация вместо неоднозначных проверок "кто не nil".
func (s *Swap) RoleOf(userID uuid.UUID) ParticipantRole {
	switch userID {
	case s.RequesterID:
		return RoleRequester
	case s.OwnerID:
		return RoleOwner
	}
	return RoleNone
}

// CounterpartOf возвращает ID второй стороны обмена
func (s *Swap) CounterpartOf(userID uuid.UUID) uuid.UUID {
	if userID == s.RequesterID {
		return s.OwnerID
	}
	return s.RequesterID
}

// AppendEvent добавляет запись в журнал переговоров
func (s *Swap) AppendEvent(actorID uuid.UUID, actorName, message string, action NegotiationAction, at time.Time) {
	s.NegotiationHistory = append(s.NegotiationHistory, NegotiationEvent{
		ActorID:   actorID,
		ActorName: actorName,
		Message:   message,
		Action:    action,
		CreatedAt: at,
	})
}

// BothConfirmed сообщает, подтвердили ли получение обе стороны
func (s *Swap) BothConfirmed() bool {
	return s.Confirmation.RequesterConfirmed && s.Confirmation.OwnerConfirmed
}
