package swap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/bookswap-api/internal/models"
)

// Количество попыток записи при конкурентных обновлениях одной записи
const writeAttempts = 3

// errNoop сигнализирует, что мутация не изменила состояние и запись не нужна
var errNoop = errors.New("состояние не изменилось")

// Engine управляет жизненным циклом обменов: проверяет предусловия,
// выполняет переходы машины состояний, синхронизирует доступность книг,
// ведёт журнал переговоров и запускает протокол двойного подтверждения.
type Engine struct {
	store    Store
	registry Registry
	identity Identity
	sink     Sink
	notifier Notifier

	swapLocks *lockManager
	bookLocks *lockManager
	pairLocks *lockManager

	now func() time.Time
}

// NewEngine создает новый экземпляр Engine.
// sink и notifier могут быть nil: события и уведомления тогда не отправляются.
func NewEngine(store Store, registry Registry, identity Identity, sink Sink, notifier Notifier) *Engine {
	return &Engine{
		store:     store,
		registry:  registry,
		identity:  identity,
		sink:      sink,
		notifier:  notifier,
		swapLocks: newLockManager(),
		bookLocks: newLockManager(),
		pairLocks: newLockManager(),
		now:       time.Now,
	}
}

// ProposeInput представляет данные для создания предложения обмена
type ProposeInput struct {
	RequesterID     uuid.UUID
	RequestedBookID uuid.UUID
	OfferedBookIDs  []uuid.UUID
	Message         string
}

// Propose создает новое предложение обмена.
// Запрошенная книга резервируется (становится недоступной) до завершения
// или отмены обмена.
func (e *Engine) Propose(ctx context.Context, in ProposeInput) (*models.Swap, error) {
	// Сериализуем конкурирующие заявки на одну и ту же книгу
	unlock := e.bookLocks.lock(in.RequestedBookID)
	defer unlock()

	requested, err := e.registry.GetBook(ctx, in.RequestedBookID)
	if err != nil {
		return nil, err
	}

	if requested.UserID == in.RequesterID {
		return nil, &ValidationError{Field: "requested_book_id", Reason: "нельзя запросить обмен собственной книги"}
	}

	// Сериализуем заявки между той же парой пользователей: две одновременные
	// взаимные заявки иначе обе проходят проверку HasActiveBetween
	unlockPair := e.pairLocks.lock(pairKey(in.RequesterID, requested.UserID))
	defer unlockPair()

	// Не допускаем дублирующую активную заявку на ту же книгу
	exists, err := e.store.HasActiveForBook(ctx, in.RequesterID, requested.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &StateConflictError{Reason: "у вас уже есть активная заявка на эту книгу"}
	}

	// Не допускаем встречные активные обмены между теми же пользователями
	exists, err = e.store.HasActiveBetween(ctx, in.RequesterID, requested.UserID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &StateConflictError{Reason: "между вами и владельцем книги уже есть активный обмен"}
	}

	if requested.Availability != models.BookAvailable {
		return nil, &ValidationError{Field: "requested_book_id", Reason: "книга недоступна для обмена"}
	}

	// Проверяем предлагаемые книги: владение и доступность
	offered := make([]models.BookRef, 0, len(in.OfferedBookIDs))
	for _, bookID := range in.OfferedBookIDs {
		book, err := e.registry.GetBook(ctx, bookID)
		if err != nil {
			return nil, err
		}
		if book.UserID != in.RequesterID {
			return nil, &ValidationError{Field: "offered_book_ids", Reason: "предлагать можно только собственные книги"}
		}
		if book.Availability != models.BookAvailable {
			return nil, &ValidationError{Field: "offered_book_ids", Reason: fmt.Sprintf("книга %q недоступна для обмена", book.Title)}
		}
		offered = append(offered, models.BookRef{BookID: book.ID, Title: book.Title, Author: book.Author})
	}

	requester, err := e.identity.GetUser(ctx, in.RequesterID)
	if err != nil {
		return nil, err
	}
	owner, err := e.identity.GetUser(ctx, requested.UserID)
	if err != nil {
		return nil, err
	}

	// Резервируем запрошенную книгу условной записью
	if err := e.registry.SetAvailability(ctx, requested.ID, models.BookAvailable, models.BookUnavailable); err != nil {
		return nil, &StateConflictError{Reason: "книга уже зарезервирована другим обменом"}
	}

	now := e.now()
	s := &models.Swap{
		ID:            uuid.New(),
		RequesterID:   in.RequesterID,
		RequesterName: requester.DisplayName(),
		OwnerID:       requested.UserID,
		OwnerName:     owner.DisplayName(),
		RequestedBook: models.BookRef{BookID: requested.ID, Title: requested.Title, Author: requested.Author},
		OfferedBooks:  offered,
		Status:        models.SwapStatusPending,
		Message:       in.Message,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}
	s.AppendEvent(in.RequesterID, s.RequesterName, in.Message, models.ActionMessage, now)

	if err := e.store.Create(ctx, s); err != nil {
		// Бронь не состоялась, возвращаем книге доступность
		e.releaseBook(ctx, requested.ID)
		return nil, err
	}

	e.emit(ctx, s, EventCreated)
	return s, nil
}

// Respond принимает или отклоняет предложение обмена. Доступно только
// владельцу запрошенной книги и только из статуса pending. Принятие
// резервирует предлагаемые книги; отклонение возвращает запрошенной книге
// доступность.
func (e *Engine) Respond(ctx context.Context, swapID, actingUserID uuid.UUID, accept bool, message string) (*models.Swap, error) {
	var kind EventKind

	s, err := e.withSwap(ctx, swapID, actingUserID, func(ctx context.Context, s *models.Swap) error {
		if s.RoleOf(actingUserID) != models.RoleOwner {
			return &AuthorizationError{Reason: "принять или отклонить обмен может только владелец книги"}
		}
		if s.Status != models.SwapStatusPending {
			return &StateConflictError{Current: s.Status, Reason: "ответить можно только на ожидающее предложение"}
		}

		now := e.now()

		if accept {
			// Резервируем предлагаемые книги; при неудаче откатываем
			// уже сделанные брони
			reserved := make([]uuid.UUID, 0, len(s.OfferedBooks))
			for _, ref := range s.OfferedBooks {
				if err := e.registry.SetAvailability(ctx, ref.BookID, models.BookAvailable, models.BookUnavailable); err != nil {
					for _, id := range reserved {
						e.releaseBook(ctx, id)
					}
					return &ValidationError{Field: "offered_books", Reason: fmt.Sprintf("предложенная книга %q уже недоступна", ref.Title)}
				}
				reserved = append(reserved, ref.BookID)
			}
			s.Status = models.SwapStatusAccepted
			s.AppendEvent(actingUserID, s.OwnerName, message, models.ActionAccept, now)
			kind = EventAccepted
		} else {
			e.releaseBook(ctx, s.RequestedBook.BookID)
			s.Status = models.SwapStatusDeclined
			s.AppendEvent(actingUserID, s.OwnerName, message, models.ActionDecline, now)
			kind = EventDeclined
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.emit(ctx, s, kind)
	return s, nil
}

// NegotiateInput представляет сообщение или встречное предложение
type NegotiateInput struct {
	SwapID         uuid.UUID
	ActorID        uuid.UUID
	Message        string
	OfferedBookIDs []uuid.UUID // nil — список предлагаемых книг не меняется
}

// Negotiate добавляет сообщение или встречное предложение в журнал
// переговоров. Новый список предлагаемых книг замещает старый целиком.
func (e *Engine) Negotiate(ctx context.Context, in NegotiateInput) (*models.Swap, error) {
	if in.OfferedBookIDs == nil && strings.TrimSpace(in.Message) == "" {
		return nil, &ValidationError{Field: "message", Reason: "сообщение не может быть пустым"}
	}

	return e.withSwapNoRole(ctx, in.SwapID, in.ActorID, func(ctx context.Context, s *models.Swap) error {
		if s.Status == models.SwapStatusCompleted || s.Status == models.SwapStatusCancelled {
			return &StateConflictError{Current: s.Status, Reason: "переговоры по завершённому или отменённому обмену невозможны"}
		}

		action := models.ActionMessage
		now := e.now()

		if in.OfferedBookIDs != nil {
			// После принятия обмена текущие предлагаемые книги зарезервированы
			reservationsHeld := s.Status == models.SwapStatusAccepted || s.Status == models.SwapStatusInProgress

			current := make(map[uuid.UUID]bool, len(s.OfferedBooks))
			for _, ref := range s.OfferedBooks {
				current[ref.BookID] = true
			}

			// Сначала проверяем весь новый список, ничего не меняя:
			// отклонённая замена не должна оставлять следов в реестре
			refs := make([]models.BookRef, 0, len(in.OfferedBookIDs))
			for _, bookID := range in.OfferedBookIDs {
				book, err := e.registry.GetBook(ctx, bookID)
				if err != nil {
					return err
				}
				if book.UserID != in.ActorID {
					return &ValidationError{Field: "offered_book_ids", Reason: "предлагать можно только собственные книги"}
				}
				// Книга из текущего списка уже зарезервирована этим обменом
				kept := reservationsHeld && current[book.ID]
				if !kept && book.Availability != models.BookAvailable {
					return &ValidationError{Field: "offered_book_ids", Reason: fmt.Sprintf("книга %q недоступна для обмена", book.Title)}
				}
				refs = append(refs, models.BookRef{BookID: book.ID, Title: book.Title, Author: book.Author})
			}

			if reservationsHeld {
				// Резервируем добавленные книги; при неудаче откатываем
				// уже сделанные брони, прежний список остаётся в силе
				reserved := make([]uuid.UUID, 0, len(refs))
				for _, ref := range refs {
					if current[ref.BookID] {
						continue
					}
					if err := e.registry.SetAvailability(ctx, ref.BookID, models.BookAvailable, models.BookUnavailable); err != nil {
						for _, id := range reserved {
							e.releaseBook(ctx, id)
						}
						return &StateConflictError{Reason: fmt.Sprintf("книга %q уже зарезервирована другим обменом", ref.Title)}
					}
					reserved = append(reserved, ref.BookID)
				}

				// Только теперь возвращаем доступность выбывшим книгам
				replaced := make(map[uuid.UUID]bool, len(refs))
				for _, ref := range refs {
					replaced[ref.BookID] = true
				}
				for _, ref := range s.OfferedBooks {
					if !replaced[ref.BookID] {
						e.releaseBook(ctx, ref.BookID)
					}
				}
			}

			s.OfferedBooks = refs
			action = models.ActionCounterOffer
		}

		s.AppendEvent(in.ActorID, e.actorName(s, in.ActorID), in.Message, action, now)
		return nil
	})
}

// MarkInProgress отмечает, что передача книг началась.
// Доступно любому участнику, только из статуса accepted.
func (e *Engine) MarkInProgress(ctx context.Context, swapID, actingUserID uuid.UUID) (*models.Swap, error) {
	s, err := e.withSwapNoRole(ctx, swapID, actingUserID, func(ctx context.Context, s *models.Swap) error {
		if s.Status != models.SwapStatusAccepted {
			return &StateConflictError{Current: s.Status, Reason: "отметить начало обмена можно только после принятия предложения"}
		}
		s.Status = models.SwapStatusInProgress
		s.AppendEvent(actingUserID, e.actorName(s, actingUserID), "обмен начат", models.ActionMessage, e.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.emit(ctx, s, EventInProgress)
	return s, nil
}

// MeetingInput представляет данные о встрече для передачи книг
type MeetingInput struct {
	SwapID      uuid.UUID
	ActorID     uuid.UUID
	Location    string
	ScheduledAt time.Time
	Notes       string
}

// ScheduleMeeting назначает встречу для передачи книг.
// Требуются непустое место и время в будущем.
func (e *Engine) ScheduleMeeting(ctx context.Context, in MeetingInput) (*models.Swap, error) {
	if strings.TrimSpace(in.Location) == "" {
		return nil, &ValidationError{Field: "location", Reason: "место встречи обязательно"}
	}

	return e.withSwapNoRole(ctx, in.SwapID, in.ActorID, func(ctx context.Context, s *models.Swap) error {
		if s.Status != models.SwapStatusAccepted && s.Status != models.SwapStatusInProgress {
			return &StateConflictError{Current: s.Status, Reason: "назначить встречу можно только по принятому обмену"}
		}
		if !in.ScheduledAt.After(e.now()) {
			return &ValidationError{Field: "scheduled_at", Reason: "время встречи должно быть в будущем"}
		}
		s.Meeting = &models.MeetingDetails{
			Location:    in.Location,
			ScheduledAt: in.ScheduledAt,
			Notes:       in.Notes,
		}
		return nil
	})
}

// ConfirmMeeting подтверждает назначенную встречу. Повторное подтверждение —
// идемпотентный no-op: возвращается already = true без изменения записи.
func (e *Engine) ConfirmMeeting(ctx context.Context, swapID, actingUserID uuid.UUID) (*models.Swap, bool, error) {
	var already bool

	s, err := e.withSwapNoRole(ctx, swapID, actingUserID, func(ctx context.Context, s *models.Swap) error {
		if s.Status != models.SwapStatusAccepted && s.Status != models.SwapStatusInProgress {
			return &StateConflictError{Current: s.Status, Reason: "подтвердить встречу можно только по принятому обмену"}
		}
		if s.Meeting == nil {
			return &StateConflictError{Current: s.Status, Reason: "встреча ещё не назначена"}
		}
		if s.Meeting.Confirmed {
			already = true
			return errNoop
		}
		s.Meeting.Confirmed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return s, already, nil
}

// ConfirmReceipt фиксирует подтверждение получения книги одной из сторон.
// Когда подтвердили обе стороны, обмен атомарно переходит в completed,
// книги отмечаются как обменянные, и событие завершения с сигналом
// начисления баллов отправляется ровно один раз. Повторное подтверждение
// той же стороной — идемпотентный no-op (already = true).
func (e *Engine) ConfirmReceipt(ctx context.Context, swapID, actingUserID uuid.UUID) (*models.Swap, bool, error) {
	var already, completed bool

	s, err := e.withSwapNoRole(ctx, swapID, actingUserID, func(ctx context.Context, s *models.Swap) error {
		if s.Status != models.SwapStatusInProgress {
			return &StateConflictError{Current: s.Status, Reason: "подтвердить получение можно только по обмену в процессе передачи"}
		}

		now := e.now()
		switch s.RoleOf(actingUserID) {
		case models.RoleRequester:
			if s.Confirmation.RequesterConfirmed {
				already = true
				return errNoop
			}
			s.Confirmation.RequesterConfirmed = true
			s.Confirmation.RequesterConfirmedAt = &now
		case models.RoleOwner:
			if s.Confirmation.OwnerConfirmed {
				already = true
				return errNoop
			}
			s.Confirmation.OwnerConfirmed = true
			s.Confirmation.OwnerConfirmedAt = &now
		}

		if s.BothConfirmed() {
			// Единственная точка, где книги становятся обменянными
			e.markSwapped(ctx, s.RequestedBook.BookID)
			for _, ref := range s.OfferedBooks {
				e.markSwapped(ctx, ref.BookID)
			}
			s.Status = models.SwapStatusCompleted
			s.CompletedAt = &now
			s.AppendEvent(actingUserID, e.actorName(s, actingUserID), "обе стороны подтвердили получение", models.ActionComplete, now)
			completed = true
		} else {
			s.AppendEvent(actingUserID, e.actorName(s, actingUserID), "подтвердил получение книги", models.ActionMessage, now)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if already {
		return s, true, nil
	}

	if completed {
		e.emit(ctx, s, EventCompleted)
	} else if e.notifier != nil {
		// Напоминаем второй стороне подтвердить получение
		e.notifier.Notify(s.CounterpartOf(actingUserID), Event{
			SwapID:       s.ID,
			Kind:         EventReceiptPending,
			Participants: []uuid.UUID{s.RequesterID, s.OwnerID},
			OccurredAt:   e.now(),
		})
	}
	return s, false, nil
}

// Cancel отменяет обмен из любого незавершённого статуса. Запрошенная книга
// и зарезервированные предлагаемые книги возвращаются в доступные.
func (e *Engine) Cancel(ctx context.Context, swapID, actingUserID uuid.UUID, reason string) (*models.Swap, error) {
	s, err := e.withSwapNoRole(ctx, swapID, actingUserID, func(ctx context.Context, s *models.Swap) error {
		if s.Status.IsTerminal() {
			return &StateConflictError{Current: s.Status, Reason: "обмен уже завершён"}
		}

		e.releaseBook(ctx, s.RequestedBook.BookID)
		if s.Status == models.SwapStatusAccepted || s.Status == models.SwapStatusInProgress {
			for _, ref := range s.OfferedBooks {
				e.releaseBook(ctx, ref.BookID)
			}
		}

		s.Status = models.SwapStatusCancelled
		s.AppendEvent(actingUserID, e.actorName(s, actingUserID), reason, models.ActionCancel, e.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.emit(ctx, s, EventCancelled)
	return s, nil
}

// Rate выставляет оценку завершённому обмену. Каждая сторона может
// оценить ровно один раз.
func (e *Engine) Rate(ctx context.Context, swapID, actingUserID uuid.UUID, score int, comment string) (*models.Swap, error) {
	if score < 1 || score > 5 {
		return nil, &ValidationError{Field: "score", Reason: "оценка должна быть от 1 до 5"}
	}

	return e.withSwapNoRole(ctx, swapID, actingUserID, func(ctx context.Context, s *models.Swap) error {
		if s.Status != models.SwapStatusCompleted {
			return &StateConflictError{Current: s.Status, Reason: "оценить можно только завершённый обмен"}
		}

		rating := &models.Rating{Score: score, Comment: comment, CreatedAt: e.now()}
		switch s.RoleOf(actingUserID) {
		case models.RoleRequester:
			if s.RequesterRating != nil {
				return &StateConflictError{Current: s.Status, Reason: "вы уже оценили этот обмен"}
			}
			s.RequesterRating = rating
		case models.RoleOwner:
			if s.OwnerRating != nil {
				return &StateConflictError{Current: s.Status, Reason: "вы уже оценили этот обмен"}
			}
			s.OwnerRating = rating
		}
		return nil
	})
}

// Get возвращает обмен. Доступно только участникам.
func (e *Engine) Get(ctx context.Context, swapID, actingUserID uuid.UUID) (*models.Swap, error) {
	s, err := e.store.Get(ctx, swapID)
	if err != nil {
		return nil, err
	}
	if s.RoleOf(actingUserID) == models.RoleNone {
		return nil, &AuthorizationError{Reason: "пользователь не является участником обмена"}
	}
	return s, nil
}

// ListForUser возвращает обмены пользователя с фильтрацией по роли и статусу
func (e *Engine) ListForUser(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]models.Swap, error) {
	if filter.Type == "" {
		filter.Type = ListAll
	}
	switch filter.Type {
	case ListSent, ListReceived, ListAll:
	default:
		return nil, &ValidationError{Field: "type", Reason: "допустимые значения: sent, received, all"}
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, &ValidationError{Field: "status", Reason: "недопустимый статус обмена"}
	}
	return e.store.ListForUser(ctx, userID, filter)
}

// withSwap выполняет мутацию обмена под мьютексом записи с оптимистичной
// записью: при конфликте версий состояние перечитывается и предусловия
// проверяются заново, чтобы не затереть конкурентное обновление
func (e *Engine) withSwap(ctx context.Context, swapID, actingUserID uuid.UUID, fn func(ctx context.Context, s *models.Swap) error) (*models.Swap, error) {
	unlock := e.swapLocks.lock(swapID)
	defer unlock()

	for attempt := 0; attempt < writeAttempts; attempt++ {
		s, err := e.store.Get(ctx, swapID)
		if err != nil {
			return nil, err
		}

		if err := fn(ctx, s); err != nil {
			if errors.Is(err, errNoop) {
				return s, nil
			}
			return nil, err
		}

		s.UpdatedAt = e.now()
		if err := e.store.Update(ctx, s); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			return nil, err
		}
		return s, nil
	}

	return nil, &StateConflictError{Reason: "не удалось применить изменение из-за конкурентных обновлений"}
}

// withSwapNoRole — как withSwap, но с общей проверкой, что действующий
// пользователь является участником обмена
func (e *Engine) withSwapNoRole(ctx context.Context, swapID, actingUserID uuid.UUID, fn func(ctx context.Context, s *models.Swap) error) (*models.Swap, error) {
	return e.withSwap(ctx, swapID, actingUserID, func(ctx context.Context, s *models.Swap) error {
		if s.RoleOf(actingUserID) == models.RoleNone {
			return &AuthorizationError{Reason: "пользователь не является участником обмена"}
		}
		return fn(ctx, s)
	})
}

// actorName возвращает снимок имени участника, сохранённый при создании
func (e *Engine) actorName(s *models.Swap, actingUserID uuid.UUID) string {
	switch s.RoleOf(actingUserID) {
	case models.RoleRequester:
		return s.RequesterName
	case models.RoleOwner:
		return s.OwnerName
	}
	return ""
}

// releaseBook возвращает зарезервированной книге доступность (best-effort)
func (e *Engine) releaseBook(ctx context.Context, bookID uuid.UUID) {
	if err := e.registry.SetAvailability(ctx, bookID, models.BookUnavailable, models.BookAvailable); err != nil {
		log.Printf("Ошибка возврата доступности книги %s: %v", bookID, err)
	}
}

// markSwapped отмечает книгу обменянной (идемпотентно)
func (e *Engine) markSwapped(ctx context.Context, bookID uuid.UUID) {
	if err := e.registry.SetAvailability(ctx, bookID, models.BookUnavailable, models.BookSwapped); err != nil {
		log.Printf("Ошибка отметки книги %s как обменянной: %v", bookID, err)
	}
}

// emit отправляет событие перехода подписчику активности (best-effort)
func (e *Engine) emit(ctx context.Context, s *models.Swap, kind EventKind) {
	if e.sink == nil {
		return
	}
	event := Event{
		SwapID:       s.ID,
		Kind:         kind,
		Participants: []uuid.UUID{s.RequesterID, s.OwnerID},
		OccurredAt:   e.now(),
	}
	if err := e.sink.Emit(ctx, event); err != nil {
		// Переход уже зафиксирован; доставка события не откатывает его
		log.Printf("Ошибка отправки события активности %s для обмена %s: %v", kind, s.ID, err)
	}
}
