package swap

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/bookswap-api/internal/models"
)

type fixture struct {
	engine   *Engine
	store    *MemoryStore
	registry *MemoryRegistry
	identity *MemoryIdentity
	sink     *MemorySink

	requester models.User
	owner     models.User

	requestedBook models.Book
	offeredBook   models.Book
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:    NewMemoryStore(),
		registry: NewMemoryRegistry(),
		identity: NewMemoryIdentity(),
		sink:     NewMemorySink(),
	}
	f.engine = NewEngine(f.store, f.registry, f.identity, f.sink, nil)

	f.requester = models.User{ID: uuid.New(), FirstName: "Анна", LastName: "Петрова"}
	f.owner = models.User{ID: uuid.New(), FirstName: "Сергей", LastName: "Иванов"}
	f.identity.AddUser(&f.requester)
	f.identity.AddUser(&f.owner)

	f.requestedBook = models.Book{
		ID:           uuid.New(),
		UserID:       f.owner.ID,
		Title:        "Мастер и Маргарита",
		Author:       "Михаил Булгаков",
		Availability: models.BookAvailable,
	}
	f.offeredBook = models.Book{
		ID:           uuid.New(),
		UserID:       f.requester.ID,
		Title:        "Идиот",
		Author:       "Фёдор Достоевский",
		Availability: models.BookAvailable,
	}
	f.registry.AddBook(&f.requestedBook)
	f.registry.AddBook(&f.offeredBook)

	return f
}

func (f *fixture) propose(t *testing.T) *models.Swap {
	t.Helper()

	s, err := f.engine.Propose(context.Background(), ProposeInput{
		RequesterID:     f.requester.ID,
		RequestedBookID: f.requestedBook.ID,
		OfferedBookIDs:  []uuid.UUID{f.offeredBook.ID},
		Message:         "Давно ищу эту книгу, готова поменяться",
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) availability(t *testing.T, bookID uuid.UUID) models.BookAvailability {
	t.Helper()

	b, err := f.registry.GetBook(context.Background(), bookID)
	require.NoError(t, err)
	return b.Availability
}

func TestProposeCreatesPendingSwap(t *testing.T) {
	f := newFixture(t)

	s := f.propose(t)

	assert.Equal(t, models.SwapStatusPending, s.Status)
	assert.Equal(t, f.requester.ID, s.RequesterID)
	assert.Equal(t, f.owner.ID, s.OwnerID)
	assert.Equal(t, "Анна Петрова", s.RequesterName)
	assert.Equal(t, "Сергей Иванов", s.OwnerName)
	assert.Equal(t, f.requestedBook.Title, s.RequestedBook.Title)

	// Запрошенная книга зарезервирована, предлагаемая — ещё нет
	assert.Equal(t, models.BookUnavailable, f.availability(t, f.requestedBook.ID))
	assert.Equal(t, models.BookAvailable, f.availability(t, f.offeredBook.ID))

	require.Len(t, s.NegotiationHistory, 1)
	assert.Equal(t, models.ActionMessage, s.NegotiationHistory[0].Action)

	assert.Equal(t, 1, f.sink.CountByKind(s.ID, EventCreated))
}

func TestProposeRejectsOwnBook(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Propose(context.Background(), ProposeInput{
		RequesterID:     f.owner.ID,
		RequestedBookID: f.requestedBook.ID,
	})
	assert.True(t, IsValidation(err))
}

func TestProposeRejectsDuplicateActiveRequest(t *testing.T) {
	f := newFixture(t)
	f.propose(t)

	_, err := f.engine.Propose(context.Background(), ProposeInput{
		RequesterID:     f.requester.ID,
		RequestedBookID: f.requestedBook.ID,
	})
	assert.True(t, IsStateConflict(err))
}

func TestProposeRejectsReverseActivePair(t *testing.T) {
	f := newFixture(t)
	f.propose(t)

	// Встречное предложение от владельца к запрашивающему, пока первый
	// обмен активен
	_, err := f.engine.Propose(context.Background(), ProposeInput{
		RequesterID:     f.owner.ID,
		RequestedBookID: f.offeredBook.ID,
	})
	assert.True(t, IsStateConflict(err))
}

func TestProposeConcurrentReciprocalPair(t *testing.T) {
	// Две одновременные взаимные заявки (А на книгу С, С на книгу А):
	// пройти может не больше одной
	for i := 0; i < 50; i++ {
		f := newFixture(t)

		results := make(chan error, 2)
		inputs := []ProposeInput{
			{RequesterID: f.requester.ID, RequestedBookID: f.requestedBook.ID, Message: "Поменяемся?"},
			{RequesterID: f.owner.ID, RequestedBookID: f.offeredBook.ID, Message: "Поменяемся?"},
		}

		var wg sync.WaitGroup
		for _, in := range inputs {
			wg.Add(1)
			go func(in ProposeInput) {
				defer wg.Done()
				_, err := f.engine.Propose(context.Background(), in)
				results <- err
			}(in)
		}
		wg.Wait()
		close(results)

		var succeeded, conflicted int
		for err := range results {
			switch {
			case err == nil:
				succeeded++
			case IsStateConflict(err):
				conflicted++
			default:
				t.Fatalf("неожиданная ошибка: %v", err)
			}
		}
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, 1, conflicted)
	}
}

func TestProposeRejectsForeignOfferedBook(t *testing.T) {
	f := newFixture(t)

	foreign := models.Book{ID: uuid.New(), UserID: f.owner.ID, Title: "Чужая книга", Availability: models.BookAvailable}
	f.registry.AddBook(&foreign)

	_, err := f.engine.Propose(context.Background(), ProposeInput{
		RequesterID:     f.requester.ID,
		RequestedBookID: f.requestedBook.ID,
		OfferedBookIDs:  []uuid.UUID{foreign.ID},
	})
	assert.True(t, IsValidation(err))
}

func TestProposeUnknownBook(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Propose(context.Background(), ProposeInput{
		RequesterID:     f.requester.ID,
		RequestedBookID: uuid.New(),
	})
	assert.True(t, IsNotFound(err))
}

func TestRespondAcceptReservesOfferedBooks(t *testing.T) {
	f := newFixture(t)
	s := f.propose(t)

	s, err := f.engine.Respond(context.Background(), s.ID, f.owner.ID, true, "Согласен")
	require.NoError(t, err)

	assert.Equal(t, models.SwapStatusAccepted, s.Status)
	assert.Equal(t, models.BookUnavailable, f.availability(t, f.offeredBook.ID))
	require.Len(t, s.NegotiationHistory, 2)
	assert.Equal(t, models.ActionAccept, s.NegotiationHistory[1].Action)
	assert.Equal(t, 1, f.sink.CountByKind(s.ID, EventAccepted))

	// Повторный ответ отклоняется конфликтом, статус не меняется
	_, err = f.engine.Respond(context.Background(), s.ID, f.owner.ID, true, "")
	assert.True(t, IsStateConflict(err))

	current, err := f.engine.Get(context.Background(), s.ID, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SwapStatusAccepted, current.Status)
}

func TestRespondOnlyOwner(t *testing.T) {
	f := newFixture(t)
	s := f.propose(t)

	_, err := f.engine.Respond(context.Background(), s.ID, f.requester.ID, true, "")
	assert.True(t, IsAuthorization(err))

	_, err = f.engine.Respond(context.Background(), s.ID, uuid.New(), true, "")
	assert.True(t, IsAuthorization(err))
}

func TestRespondDeclineReleasesRequestedBook(t *testing.T) {
	f := newFixture(t)
	s := f.propose(t)

	s, err := f.engine.Respond(context.Background(), s.ID, f.owner.ID, false, "Передумал")
	require.NoError(t, err)

	assert.Equal(t, models.SwapStatusDeclined, s.Status)
	assert.Equal(t, models.BookAvailable, f.availability(t, f.requestedBook.ID))
	assert.Equal(t, models.ActionDecline, s.NegotiationHistory[len(s.NegotiationHistory)-1].Action)
	assert.Equal(t, 1, f.sink.CountByKind(s.ID, EventDeclined))
}

func TestNegotiateCounterOfferReplacesWholesale(t *testing.T) {
	f := newFixture(t)
	s := f.propose(t)

	second := models.Book{ID: uuid.New(), UserID: f.requester.ID, Title: "Белая гвардия", Availability: models.BookAvailable}
	third := models.Book{ID: uuid.New(), UserID: f.requester.ID, Title: "Записки юного врача", Availability: models.BookAvailable}
	f.registry.AddBook(&second)
	f.registry.AddBook(&third)

	s, err := f.engine.Negotiate(context.Background(), NegotiateInput{
		SwapID:         s.ID,
		ActorID:        f.requester.ID,
		Message:        "Могу предложить другие книги",
		OfferedBookIDs: []uuid.UUID{second.ID, third.ID},
	})
	require.NoError(t, err)

	// Список заменён целиком, не дополнен
	require.Len(t, s.OfferedBooks, 2)
	assert.Equal(t, second.ID, s.OfferedBooks[0].BookID)
	assert.Equal(t, models.ActionCounterOffer, s.NegotiationHistory[len(s.NegotiationHistory)-1].Action)
}

func TestNegotiateFailedCounterOfferKeepsReservations(t *testing.T) {
	f := newFixture(t)
	s := f.propose(t)

	_, err := f.engine.Respond(context.Background(), s.ID, f.owner.ID, true, "")
	require.NoError(t, err)
	assert.Equal(t, models.BookUnavailable, f.availability(t, f.offeredBook.ID))

	mine := models.Book{ID: uuid.New(), UserID: f.requester.ID, Title: "Собачье сердце", Availability: models.BookAvailable}
	foreign := models.Book{ID: uuid.New(), UserID: f.owner.ID, Title: "Чужая книга", Availability: models.BookAvailable}
	f.registry.AddBook(&mine)
	f.registry.AddBook(&foreign)

	// Замена с чужой книгой отклоняется до каких-либо изменений в реестре
	_, err = f.engine.Negotiate(context.Background(), NegotiateInput{
		SwapID:         s.ID,
		ActorID:        f.requester.ID,
		Message:        "Заменю предложение",
		OfferedBookIDs: []uuid.UUID{mine.ID, foreign.ID},
	})
	assert.True(t, IsValidation(err))

	// Прежняя бронь цела, кандидат не остался зарезервированным
	assert.Equal(t, models.BookUnavailable, f.availability(t, f.offeredBook.ID))
	assert.Equal(t, models.BookAvailable, f.availability(t, mine.ID))

	current, err := f.engine.Get(context.Background(), s.ID, f.requester.ID)
	require.NoError(t, err)
	require.Len(t, current.OfferedBooks, 1)
	assert.Equal(t, f.offeredBook.ID, current.OfferedBooks[0].BookID)

	// Недоступная книга в новом списке тоже отклоняется без следов
	reservedElsewhere := models.Book{ID: uuid.New(), UserID: f.requester.ID, Title: "Занятая книга", Availability: models.BookUnavailable}
	f.registry.AddBook(&reservedElsewhere)

	_, err = f.engine.Negotiate(context.Background(), NegotiateInput{
		SwapID:         s.ID,
		ActorID:        f.requester.ID,
		Message:        "Ещё вариант",
		OfferedBookIDs: []uuid.UUID{mine.ID, reservedElsewhere.ID},
	})
	assert.Error(t, err)
	assert.Equal(t, models.BookAvailable, f.availability(t, mine.ID))
	assert.Equal(t, models.BookUnavailable, f.availability(t, f.offeredBook.ID))
}

func TestNegotiateCounterOfferAfterAcceptSwapsReservations(t *testing.T) {
	f := newFixture(t)
	s := f.propose(t)

	_, err := f.engine.Respond(context.Background(), s.ID, f.owner.ID, true, "")
	require.NoError(t, err)

	replacement := models.Book{ID: uuid.New(), UserID: f.requester.ID, Title: "Театральный роман", Availability: models.BookAvailable}
	f.registry.AddBook(&replacement)

	s, err = f.engine.Negotiate(context.Background(), NegotiateInput{
		SwapID:         s.ID,
		ActorID:        f.requester.ID,
		Message:        "Лучше предложу другую",
		OfferedBookIDs: []uuid.UUID{replacement.ID},
	})
	require.NoError(t, err)

	// Бронь перешла со старой книги на новую
	assert.Equal(t, models.BookAvailable, f.availability(t, f.offeredBook.ID))
	assert.Equal(t, models.BookUnavailable, f.availability(t, replacement.ID))
	require.Len(t, s.OfferedBooks, 1)
	assert.Equal(t, replacement.ID, s.OfferedBooks[0].BookID)
}

func TestNegotiateRejectsEmptyMessage(t *testing.T) {
	f := newFixture(t)
	s := f.propose(t)

	_, err := f.engine.Negotiate(context.Background(), NegotiateInput{
		SwapID:  s.ID,
		ActorID: f.owner.ID,
		Message: "   ",
	})
	assert.True(t, IsValidation(err))
}

func TestNegotiateBlockedAfterCancel(t *testing.T) {
	f := newFixture(t)
	s := f.propose(t)

	_, err := f.engine.Cancel(context.Background(), s.ID, f.requester.ID, "передумала")
	require.NoError(t, err)

	_, err = f.engine.Negotiate(context.Background(), NegotiateInput{
		SwapID:  s.ID,
		ActorID: f.owner.ID,
		Message: "а жаль",
	})
	assert.True(t, IsStateConflict(err))
}

func TestMarkInProgressRequiresAccepted(t *testing.T) {
	f := newFixture(t)
	s := f.propose(t)

	_, err := f.engine.MarkInProgress(context.Background(), s.ID, f.requester.ID)
	assert.True(t, IsStateConflict(err))

	_, err = f.engine.Respond(context.Background(), s.ID, f.owner.ID, true, "")
	require.NoError(t, err)

	s, err = f.engine.MarkInProgress(context.Background(), s.ID, f.requester.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SwapStatusInProgress, s.Status)
	assert.Equal(t, 1, f.sink.CountByKind(s.ID, EventInProgress))
}

func TestScheduleMeetingValidation(t *testing.T) {
	f := newFixture(t)
	s := f.propose(t)

	_, err := f.engine.Respond(context.Background(), s.ID, f.owner.ID, true, "")
	require.NoError(t, err)

	_, err = f.engine.ScheduleMeeting(context.Background(), MeetingInput{
		SwapID:      s.ID,
		ActorID:     f.requester.ID,
		Location:    "",
		ScheduledAt: time.Now().Add(time.Hour),
	})
	assert.True(t, IsValidation(err))

	_, err = f.engine.ScheduleMeeting(context.Background(), MeetingInput{
		SwapID:      s.ID,
		ActorID:     f.requester.ID,
		Location:    "Метро Чистые пруды",
		ScheduledAt: time.Now().Add(-time.Hour),
	})
	assert.True(t, IsValidation(err))

	s, err = f.engine.ScheduleMeeting(context.Background(), MeetingInput{
		SwapID:      s.ID,
		ActorID:     f.requester.ID,
		Location:    "Метро Чистые пруды",
		ScheduledAt: time.Now().Add(time.Hour),
		Notes:       "У выхода к бульвару",
	})
	require.NoError(t, err)
	require.NotNil(t, s.Meeting)
	assert.False(t, s.Meeting.Confirmed)
}

func TestConfirmMeetingIdempotent(t *testing.T) {
	f := newFixture(t)
	s := f.propose(t)

	_, err := f.engine.Respond(context.Background(), s.ID, f.owner.ID, true, "")
	require.NoError(t, err)

	// Подтверждение без назначенной встречи — конфликт
	_, _, err = f.engine.ConfirmMeeting(context.Background(), s.ID, f.owner.ID)
	assert.True(t, IsStateConflict(err))

	_, err = f.engine.ScheduleMeeting(context.Background(), MeetingInput{
		SwapID:      s.ID,
		ActorID:     f.requester.ID,
		Location:    "Библиотека на Тверской",
		ScheduledAt: time.Now().Add(2 * time.Hour),
	})
	require.NoError(t, err)

	s, already, err := f.engine.ConfirmMeeting(context.Background(), s.ID, f.owner.ID)
	require.NoError(t, err)
	assert.False(t, already)
	assert.True(t, s.Meeting.Confirmed)

	// Повторное подтверждение — no-op с отчётом already
	_, already, err = f.engine.ConfirmMeeting(context.Background(), s.ID, f.requester.ID)
	require.NoError(t, err)
	assert.True(t, already)
}

func TestConfirmReceiptIdempotentPerParty(t *testing.T) {
	f := newFixture(t)
	s := f.propose(t)

	_, err := f.engine.Respond(context.Background(), s.ID, f.owner.ID, true, "")
	require.NoError(t, err)
	_, err = f.engine.MarkInProgress(context.Background(), s.ID, f.owner.ID)
	require.NoError(t, err)

	s, already, err := f.engine.ConfirmReceipt(context.Background(), s.ID, f.requester.ID)
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, models.SwapStatusInProgress, s.Status)
	require.NotNil(t, s.Confirmation.RequesterConfirmedAt)
	firstConfirmedAt := *s.Confirmation.RequesterConfirmedAt

	// Повторное подтверждение той же стороной ничего не меняет
	s, already, err = f.engine.ConfirmReceipt(context.Background(), s.ID, f.requester.ID)
	require.NoError(t, err)
	assert.True(t, already)
	assert.Equal(t, firstConfirmedAt, *s.Confirmation.RequesterConfirmedAt)
	assert.Nil(t, s.CompletedAt)
	assert.Equal(t, 0, f.sink.CountByKind(s.ID, EventCompleted))
}

func TestConfirmReceiptCompletesOnBothParties(t *testing.T) {
	f := newFixture(t)
	s := f.propose(t)

	_, err := f.engine.Respond(context.Background(), s.ID, f.owner.ID, true, "")
	require.NoError(t, err)
	_, err = f.engine.MarkInProgress(context.Background(), s.ID, f.requester.ID)
	require.NoError(t, err)

	_, _, err = f.engine.ConfirmReceipt(context.Background(), s.ID, f.requester.ID)
	require.NoError(t, err)
	s, _, err = f.engine.ConfirmReceipt(context.Background(), s.ID, f.owner.ID)
	require.NoError(t, err)

	assert.Equal(t, models.SwapStatusCompleted, s.Status)
	require.NotNil(t, s.CompletedAt)
	assert.Equal(t, models.BookSwapped, f.availability(t, f.requestedBook.ID))
	assert.Equal(t, models.BookSwapped, f.availability(t, f.offeredBook.ID))
	assert.Equal(t, models.ActionComplete, s.NegotiationHistory[len(s.NegotiationHistory)-1].Action)

	// Событие завершения отправлено ровно один раз и несёт обоих участников
	assert.Equal(t, 1, f.sink.CountByKind(s.ID, EventCompleted))
	for _, e := range f.sink.Events() {
		if e.Kind == EventCompleted {
			assert.ElementsMatch(t, []uuid.UUID{f.requester.ID, f.owner.ID}, e.Participants)
		}
	}
}

func TestConfirmReceiptConcurrent(t *testing.T) {
	// Обе стороны подтверждают почти одновременно: переход в completed
	// и событие завершения должны случиться ровно один раз
	for i := 0; i < 25; i++ {
		f := newFixture(t)
		s := f.propose(t)

		_, err := f.engine.Respond(context.Background(), s.ID, f.owner.ID, true, "")
		require.NoError(t, err)
		_, err = f.engine.MarkInProgress(context.Background(), s.ID, f.owner.ID)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for _, userID := range []uuid.UUID{f.requester.ID, f.owner.ID} {
			wg.Add(1)
			go func(id uuid.UUID) {
				defer wg.Done()
				_, _, err := f.engine.ConfirmReceipt(context.Background(), s.ID, id)
				assert.NoError(t, err)
			}(userID)
		}
		wg.Wait()

		final, err := f.engine.Get(context.Background(), s.ID, f.owner.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SwapStatusCompleted, final.Status)
		assert.Equal(t, 1, f.sink.CountByKind(s.ID, EventCompleted))
	}
}

func TestCancelFromPendingRevertsBook(t *testing.T) {
	f := newFixture(t)
	s := f.propose(t)

	s, err := f.engine.Cancel(context.Background(), s.ID, f.requester.ID, "нашла книгу в другом месте")
	require.NoError(t, err)

	assert.Equal(t, models.SwapStatusCancelled, s.Status)
	assert.Equal(t, models.BookAvailable, f.availability(t, f.requestedBook.ID))
	assert.Equal(t, 1, f.sink.CountByKind(s.ID, EventCancelled))

	// Отмена завершённого обмена невозможна
	_, err = f.engine.Cancel(context.Background(), s.ID, f.requester.ID, "")
	assert.True(t, IsStateConflict(err))
}

func TestCancelAfterAcceptReleasesOfferedBooks(t *testing.T) {
	f := newFixture(t)
	s := f.propose(t)

	_, err := f.engine.Respond(context.Background(), s.ID, f.owner.ID, true, "")
	require.NoError(t, err)
	assert.Equal(t, models.BookUnavailable, f.availability(t, f.offeredBook.ID))

	_, err = f.engine.Cancel(context.Background(), s.ID, f.owner.ID, "не получилось встретиться")
	require.NoError(t, err)

	assert.Equal(t, models.BookAvailable, f.availability(t, f.requestedBook.ID))
	assert.Equal(t, models.BookAvailable, f.availability(t, f.offeredBook.ID))
}

func TestRateOncePerParty(t *testing.T) {
	f := newFixture(t)
	s := f.propose(t)

	// Оценка до завершения невозможна
	_, err := f.engine.Rate(context.Background(), s.ID, f.requester.ID, 5, "")
	assert.True(t, IsStateConflict(err))

	_, err = f.engine.Respond(context.Background(), s.ID, f.owner.ID, true, "")
	require.NoError(t, err)
	_, err = f.engine.MarkInProgress(context.Background(), s.ID, f.owner.ID)
	require.NoError(t, err)
	_, _, err = f.engine.ConfirmReceipt(context.Background(), s.ID, f.requester.ID)
	require.NoError(t, err)
	_, _, err = f.engine.ConfirmReceipt(context.Background(), s.ID, f.owner.ID)
	require.NoError(t, err)

	_, err = f.engine.Rate(context.Background(), s.ID, f.requester.ID, 0, "")
	assert.True(t, IsValidation(err))

	s, err = f.engine.Rate(context.Background(), s.ID, f.requester.ID, 5, "Отличный обмен")
	require.NoError(t, err)
	require.NotNil(t, s.RequesterRating)

	_, err = f.engine.Rate(context.Background(), s.ID, f.requester.ID, 4, "")
	assert.True(t, IsStateConflict(err))

	s, err = f.engine.Rate(context.Background(), s.ID, f.owner.ID, 4, "")
	require.NoError(t, err)
	require.NotNil(t, s.OwnerRating)
}

func TestFullRoundTrip(t *testing.T) {
	f := newFixture(t)
	s := f.propose(t)

	_, err := f.engine.Respond(context.Background(), s.ID, f.owner.ID, true, "Договорились")
	require.NoError(t, err)
	_, err = f.engine.MarkInProgress(context.Background(), s.ID, f.requester.ID)
	require.NoError(t, err)
	_, _, err = f.engine.ConfirmReceipt(context.Background(), s.ID, f.requester.ID)
	require.NoError(t, err)
	_, _, err = f.engine.ConfirmReceipt(context.Background(), s.ID, f.owner.ID)
	require.NoError(t, err)
	_, err = f.engine.Rate(context.Background(), s.ID, f.requester.ID, 5, "")
	require.NoError(t, err)
	s, err = f.engine.Rate(context.Background(), s.ID, f.owner.ID, 5, "")
	require.NoError(t, err)

	assert.Equal(t, models.SwapStatusCompleted, s.Status)
	assert.NotNil(t, s.RequesterRating)
	assert.NotNil(t, s.OwnerRating)
	assert.Equal(t, models.BookSwapped, f.availability(t, f.requestedBook.ID))
	assert.Equal(t, models.BookSwapped, f.availability(t, f.offeredBook.ID))
	assert.NotEmpty(t, s.NegotiationHistory)
}

func TestNegotiationHistoryAppendOnly(t *testing.T) {
	f := newFixture(t)
	s := f.propose(t)

	firstEvent := s.NegotiationHistory[0]
	lengths := []int{len(s.NegotiationHistory)}

	s, err := f.engine.Negotiate(context.Background(), NegotiateInput{
		SwapID:  s.ID,
		ActorID: f.owner.ID,
		Message: "А что предложите взамен?",
	})
	require.NoError(t, err)
	lengths = append(lengths, len(s.NegotiationHistory))

	s, err = f.engine.Respond(context.Background(), s.ID, f.owner.ID, true, "")
	require.NoError(t, err)
	lengths = append(lengths, len(s.NegotiationHistory))

	s, err = f.engine.Cancel(context.Background(), s.ID, f.requester.ID, "")
	require.NoError(t, err)
	lengths = append(lengths, len(s.NegotiationHistory))

	// Длина журнала монотонно растёт, ранние записи не меняются
	for i := 1; i < len(lengths); i++ {
		assert.Greater(t, lengths[i], lengths[i-1])
	}
	assert.Equal(t, firstEvent, s.NegotiationHistory[0])
}

func TestGetRequiresParticipant(t *testing.T) {
	f := newFixture(t)
	s := f.propose(t)

	_, err := f.engine.Get(context.Background(), s.ID, uuid.New())
	assert.True(t, IsAuthorization(err))

	_, err = f.engine.Get(context.Background(), uuid.New(), f.requester.ID)
	assert.True(t, IsNotFound(err))
}

func TestListForUserFilters(t *testing.T) {
	f := newFixture(t)
	s := f.propose(t)

	sent, err := f.engine.ListForUser(context.Background(), f.requester.ID, ListFilter{Type: ListSent})
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, s.ID, sent[0].ID)

	received, err := f.engine.ListForUser(context.Background(), f.owner.ID, ListFilter{Type: ListReceived})
	require.NoError(t, err)
	require.Len(t, received, 1)

	none, err := f.engine.ListForUser(context.Background(), f.owner.ID, ListFilter{Type: ListSent})
	require.NoError(t, err)
	assert.Empty(t, none)

	pending, err := f.engine.ListForUser(context.Background(), f.owner.ID, ListFilter{Type: ListAll, Status: models.SwapStatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = f.engine.ListForUser(context.Background(), f.owner.ID, ListFilter{Type: "unknown"})
	assert.True(t, IsValidation(err))
}
