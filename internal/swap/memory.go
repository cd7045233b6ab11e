package swap

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/rajivgeraev/bookswap-api/internal/models"
)

// MemoryStore реализует Store в памяти. Используется в тестах и при
// локальном запуске без базы данных.
type MemoryStore struct {
	mu    sync.RWMutex
	swaps map[uuid.UUID]*models.Swap
}

// NewMemoryStore создает новый экземпляр MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		swaps: make(map[uuid.UUID]*models.Swap),
	}
}

// Create сохраняет новый обмен
func (ms *MemoryStore) Create(ctx context.Context, s *models.Swap) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.swaps[s.ID] = cloneSwap(s)
	return nil
}

// Get возвращает копию обмена по ID
func (ms *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*models.Swap, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	s, exists := ms.swaps[id]
	if !exists {
		return nil, &NotFoundError{Kind: "swap", ID: id}
	}
	return cloneSwap(s), nil
}

// Update записывает обмен с проверкой версии
func (ms *MemoryStore) Update(ctx context.Context, s *models.Swap) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	current, exists := ms.swaps[s.ID]
	if !exists {
		return &NotFoundError{Kind: "swap", ID: s.ID}
	}
	if current.Version != s.Version {
		return ErrVersionConflict
	}

	s.Version++
	ms.swaps[s.ID] = cloneSwap(s)
	return nil
}

// ListForUser возвращает обмены пользователя по фильтру,
// отсортированные по времени создания (новые первыми)
func (ms *MemoryStore) ListForUser(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]models.Swap, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var result []models.Swap
	for _, s := range ms.swaps {
		switch filter.Type {
		case ListSent:
			if s.RequesterID != userID {
				continue
			}
		case ListReceived:
			if s.OwnerID != userID {
				continue
			}
		default:
			if s.RequesterID != userID && s.OwnerID != userID {
				continue
			}
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		result = append(result, *cloneSwap(s))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// HasActiveForBook проверяет наличие незавершённого обмена пары
// (запрашивающий, книга)
func (ms *MemoryStore) HasActiveForBook(ctx context.Context, requesterID, bookID uuid.UUID) (bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	for _, s := range ms.swaps {
		if s.RequesterID == requesterID && s.RequestedBook.BookID == bookID && !s.Status.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

// HasActiveBetween проверяет наличие незавершённого обмена между двумя
// пользователями в любом направлении
func (ms *MemoryStore) HasActiveBetween(ctx context.Context, userA, userB uuid.UUID) (bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	for _, s := range ms.swaps {
		if s.Status.IsTerminal() {
			continue
		}
		if (s.RequesterID == userA && s.OwnerID == userB) || (s.RequesterID == userB && s.OwnerID == userA) {
			return true, nil
		}
	}
	return false, nil
}

// cloneSwap возвращает глубокую копию обмена, чтобы вызывающий код
// не менял состояние хранилища напрямую
func cloneSwap(s *models.Swap) *models.Swap {
	c := *s

	c.OfferedBooks = append([]models.BookRef(nil), s.OfferedBooks...)
	c.NegotiationHistory = append([]models.NegotiationEvent(nil), s.NegotiationHistory...)

	if s.Meeting != nil {
		meeting := *s.Meeting
		c.Meeting = &meeting
	}
	if s.Confirmation.RequesterConfirmedAt != nil {
		t := *s.Confirmation.RequesterConfirmedAt
		c.Confirmation.RequesterConfirmedAt = &t
	}
	if s.Confirmation.OwnerConfirmedAt != nil {
		t := *s.Confirmation.OwnerConfirmedAt
		c.Confirmation.OwnerConfirmedAt = &t
	}
	if s.RequesterRating != nil {
		r := *s.RequesterRating
		c.RequesterRating = &r
	}
	if s.OwnerRating != nil {
		r := *s.OwnerRating
		c.OwnerRating = &r
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// MemoryRegistry реализует Registry в памяти
type MemoryRegistry struct {
	mu    sync.RWMutex
	books map[uuid.UUID]*models.Book
}

// NewMemoryRegistry создает новый экземпляр MemoryRegistry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		books: make(map[uuid.UUID]*models.Book),
	}
}

// AddBook добавляет книгу в реестр
func (mr *MemoryRegistry) AddBook(b *models.Book) {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	book := *b
	mr.books[b.ID] = &book
}

// GetBook возвращает копию книги по ID
func (mr *MemoryRegistry) GetBook(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	b, exists := mr.books[id]
	if !exists {
		return nil, &NotFoundError{Kind: "book", ID: id}
	}
	book := *b
	return &book, nil
}

// SetAvailability выполняет условный переход доступности книги.
// Если книга уже в целевом состоянии, вызов идемпотентно успешен.
func (mr *MemoryRegistry) SetAvailability(ctx context.Context, id uuid.UUID, from, to models.BookAvailability) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	b, exists := mr.books[id]
	if !exists {
		return &NotFoundError{Kind: "book", ID: id}
	}
	if b.Availability == to {
		return nil
	}
	if b.Availability != from {
		return &StateConflictError{Reason: "доступность книги изменена конкурентной операцией"}
	}
	b.Availability = to
	return nil
}

// MemoryIdentity реализует Identity в памяти
type MemoryIdentity struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*models.User
}

// NewMemoryIdentity создает новый экземпляр MemoryIdentity
func NewMemoryIdentity() *MemoryIdentity {
	return &MemoryIdentity{
		users: make(map[uuid.UUID]*models.User),
	}
}

// AddUser регистрирует пользователя
func (mi *MemoryIdentity) AddUser(u *models.User) {
	mi.mu.Lock()
	defer mi.mu.Unlock()

	user := *u
	mi.users[u.ID] = &user
}

// GetUser возвращает пользователя по ID
func (mi *MemoryIdentity) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	mi.mu.RLock()
	defer mi.mu.RUnlock()

	u, exists := mi.users[id]
	if !exists {
		return nil, &NotFoundError{Kind: "user", ID: id}
	}
	user := *u
	return &user, nil
}

// MemorySink реализует Sink в памяти, накапливая события для проверки
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink создает новый экземпляр MemorySink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit сохраняет событие
func (s *MemorySink) Emit(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)
	return nil
}

// Events возвращает копию накопленных событий
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Event(nil), s.events...)
}

// CountByKind возвращает количество событий указанного типа для обмена
func (s *MemorySink) CountByKind(swapID uuid.UUID, kind EventKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, e := range s.events {
		if e.SwapID == swapID && e.Kind == kind {
			count++
		}
	}
	return count
}
