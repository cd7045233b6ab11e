package swap

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rajivgeraev/bookswap-api/internal/config"
	"github.com/rajivgeraev/bookswap-api/internal/db"
	"github.com/rajivgeraev/bookswap-api/internal/models"
	engine "github.com/rajivgeraev/bookswap-api/internal/swap"
	"github.com/rajivgeraev/bookswap-api/internal/utils"
	"github.com/rajivgeraev/bookswap-api/internal/websocket"
)

// SwapService представляет HTTP-сервис для работы с обменами
type SwapService struct {
	cfg        *config.Config
	jwtService *utils.JWTService
	engine     *engine.Engine
	wsManager  *websocket.Manager
}

// NewSwapService создает новый экземпляр SwapService
func NewSwapService(cfg *config.Config, eng *engine.Engine, wsManager *websocket.Manager) *SwapService {
	return &SwapService{
		cfg:        cfg,
		jwtService: utils.NewJWTService(cfg.JWTSecret),
		engine:     eng,
		wsManager:  wsManager,
	}
}

// CreateSwap создает новое предложение обмена
func (s *SwapService) CreateSwap(c fiber.Ctx) error {
	userUUID, ok := currentUserID(c)
	if !ok {
		return nil
	}

	// Извлекаем данные из запроса
	var requestData struct {
		RequestedBookID string   `json:"requested_book_id"`
		OfferedBookIDs  []string `json:"offered_book_ids"`
		Message         string   `json:"message"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	if requestData.RequestedBookID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Необходимо указать ID запрашиваемой книги"})
	}

	requestedBookID, err := uuid.Parse(requestData.RequestedBookID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID запрашиваемой книги"})
	}

	offeredBookIDs, err := parseBookIDs(requestData.OfferedBookIDs)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID предлагаемой книги"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	swap, err := s.engine.Propose(ctx, engine.ProposeInput{
		RequesterID:     userUUID,
		RequestedBookID: requestedBookID,
		OfferedBookIDs:  offeredBookIDs,
		Message:         requestData.Message,
	})
	if err != nil {
		return s.errorResponse(c, err, "Ошибка создания предложения обмена")
	}

	s.notifySwapUpdate(swap, userUUID)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"swap":    swap,
		"message": "Предложение обмена успешно создано",
	})
}

// GetMySwaps возвращает список обменов пользователя
func (s *SwapService) GetMySwaps(c fiber.Ctx) error {
	userUUID, ok := currentUserID(c)
	if !ok {
		return nil
	}

	filter := engine.ListFilter{
		Type:   engine.ListType(c.Query("type", "all")), // sent, received, all
		Status: models.SwapStatus(c.Query("status")),
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	swaps, err := s.engine.ListForUser(ctx, userUUID, filter)
	if err != nil {
		return s.errorResponse(c, err, "Ошибка получения списка обменов")
	}

	// Дополняем каждый обмен данными участников и ID чата
	for i := range swaps {
		s.enrichSwap(ctx, &swaps[i])
	}

	return c.JSON(fiber.Map{
		"swaps": swaps,
		"count": len(swaps),
	})
}

// GetSwap возвращает один обмен по ID
func (s *SwapService) GetSwap(c fiber.Ctx) error {
	userUUID, ok := currentUserID(c)
	if !ok {
		return nil
	}

	swapUUID, ok := parseSwapID(c)
	if !ok {
		return nil
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	swap, err := s.engine.Get(ctx, swapUUID, userUUID)
	if err != nil {
		return s.errorResponse(c, err, "Ошибка получения обмена")
	}

	s.enrichSwap(ctx, swap)

	return c.JSON(fiber.Map{"swap": swap})
}

// RespondToSwap принимает или отклоняет предложение обмена
func (s *SwapService) RespondToSwap(c fiber.Ctx) error {
	userUUID, ok := currentUserID(c)
	if !ok {
		return nil
	}

	swapUUID, ok := parseSwapID(c)
	if !ok {
		return nil
	}

	var requestData struct {
		Action  string `json:"action"` // accept, decline
		Message string `json:"message"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	if requestData.Action != "accept" && requestData.Action != "decline" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Допустимые действия: accept, decline"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	swap, err := s.engine.Respond(ctx, swapUUID, userUUID, requestData.Action == "accept", requestData.Message)
	if err != nil {
		return s.errorResponse(c, err, "Ошибка ответа на предложение обмена")
	}

	s.notifySwapUpdate(swap, userUUID)

	response := fiber.Map{
		"success": true,
		"swap_id": swap.ID,
		"status":  swap.Status,
	}

	// Принятый обмен получает чат для обсуждения деталей
	if swap.Status == models.SwapStatusAccepted {
		chatID, err := s.createChatForSwap(ctx, swap)
		if err != nil {
			log.Printf("Ошибка создания чата для обмена %s: %v", swap.ID, err)
			// Не возвращаем ошибку, т.к. основная функциональность выполнена
		} else {
			response["chat_id"] = chatID
		}
		response["message"] = "Предложение обмена принято"
	} else {
		response["message"] = "Предложение обмена отклонено"
	}

	return c.JSON(response)
}

// NegotiateSwap добавляет сообщение или встречное предложение в журнал переговоров
func (s *SwapService) NegotiateSwap(c fiber.Ctx) error {
	userUUID, ok := currentUserID(c)
	if !ok {
		return nil
	}

	swapUUID, ok := parseSwapID(c)
	if !ok {
		return nil
	}

	var requestData struct {
		Message        string    `json:"message"`
		OfferedBookIDs *[]string `json:"offered_book_ids"` // nil — список не меняется
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	input := engine.NegotiateInput{
		SwapID:  swapUUID,
		ActorID: userUUID,
		Message: requestData.Message,
	}

	if requestData.OfferedBookIDs != nil {
		offeredBookIDs, err := parseBookIDs(*requestData.OfferedBookIDs)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID предлагаемой книги"})
		}
		if offeredBookIDs == nil {
			offeredBookIDs = []uuid.UUID{}
		}
		input.OfferedBookIDs = offeredBookIDs
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	swap, err := s.engine.Negotiate(ctx, input)
	if err != nil {
		return s.errorResponse(c, err, "Ошибка переговоров по обмену")
	}

	s.notifySwapUpdate(swap, userUUID)

	return c.JSON(fiber.Map{
		"success": true,
		"swap":    swap,
	})
}

// MarkInProgress отмечает начало передачи книг
func (s *SwapService) MarkInProgress(c fiber.Ctx) error {
	userUUID, ok := currentUserID(c)
	if !ok {
		return nil
	}

	swapUUID, ok := parseSwapID(c)
	if !ok {
		return nil
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	swap, err := s.engine.MarkInProgress(ctx, swapUUID, userUUID)
	if err != nil {
		return s.errorResponse(c, err, "Ошибка отметки начала обмена")
	}

	s.notifySwapUpdate(swap, userUUID)

	return c.JSON(fiber.Map{
		"success": true,
		"swap_id": swap.ID,
		"status":  swap.Status,
		"message": "Передача книг начата",
	})
}

// ScheduleMeeting назначает встречу для передачи книг
func (s *SwapService) ScheduleMeeting(c fiber.Ctx) error {
	userUUID, ok := currentUserID(c)
	if !ok {
		return nil
	}

	swapUUID, ok := parseSwapID(c)
	if !ok {
		return nil
	}

	var requestData struct {
		Location    string    `json:"location"`
		ScheduledAt time.Time `json:"scheduled_at"`
		Notes       string    `json:"notes"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	swap, err := s.engine.ScheduleMeeting(ctx, engine.MeetingInput{
		SwapID:      swapUUID,
		ActorID:     userUUID,
		Location:    requestData.Location,
		ScheduledAt: requestData.ScheduledAt,
		Notes:       requestData.Notes,
	})
	if err != nil {
		return s.errorResponse(c, err, "Ошибка назначения встречи")
	}

	s.notifySwapUpdate(swap, userUUID)

	return c.JSON(fiber.Map{
		"success": true,
		"swap_id": swap.ID,
		"meeting": swap.Meeting,
		"message": "Встреча назначена",
	})
}

// ConfirmMeeting подтверждает назначенную встречу
func (s *SwapService) ConfirmMeeting(c fiber.Ctx) error {
	userUUID, ok := currentUserID(c)
	if !ok {
		return nil
	}

	swapUUID, ok := parseSwapID(c)
	if !ok {
		return nil
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	swap, already, err := s.engine.ConfirmMeeting(ctx, swapUUID, userUUID)
	if err != nil {
		return s.errorResponse(c, err, "Ошибка подтверждения встречи")
	}

	if !already {
		s.notifySwapUpdate(swap, userUUID)
	}

	return c.JSON(fiber.Map{
		"success":           true,
		"swap_id":           swap.ID,
		"already_confirmed": already,
		"meeting":           swap.Meeting,
	})
}

// ConfirmReceipt подтверждает получение книги. Когда подтверждают обе
// стороны, обмен завершается.
func (s *SwapService) ConfirmReceipt(c fiber.Ctx) error {
	userUUID, ok := currentUserID(c)
	if !ok {
		return nil
	}

	swapUUID, ok := parseSwapID(c)
	if !ok {
		return nil
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	swap, already, err := s.engine.ConfirmReceipt(ctx, swapUUID, userUUID)
	if err != nil {
		return s.errorResponse(c, err, "Ошибка подтверждения получения")
	}

	if !already {
		s.notifySwapUpdate(swap, userUUID)
	}

	response := fiber.Map{
		"success":           true,
		"swap_id":           swap.ID,
		"status":            swap.Status,
		"already_confirmed": already,
	}

	if swap.Status == models.SwapStatusCompleted {
		s.closeChatForSwap(ctx, swap.ID)
		response["completed_at"] = swap.CompletedAt
		response["message"] = "Обмен завершён"
	} else {
		response["message"] = "Получение подтверждено, ожидается подтверждение второй стороны"
	}

	return c.JSON(response)
}

// CancelSwap отменяет обмен
func (s *SwapService) CancelSwap(c fiber.Ctx) error {
	userUUID, ok := currentUserID(c)
	if !ok {
		return nil
	}

	swapUUID, ok := parseSwapID(c)
	if !ok {
		return nil
	}

	var requestData struct {
		Reason string `json:"reason"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	swap, err := s.engine.Cancel(ctx, swapUUID, userUUID, requestData.Reason)
	if err != nil {
		return s.errorResponse(c, err, "Ошибка отмены обмена")
	}

	s.closeChatForSwap(ctx, swap.ID)
	s.notifySwapUpdate(swap, userUUID)

	return c.JSON(fiber.Map{
		"success": true,
		"swap_id": swap.ID,
		"status":  swap.Status,
		"message": "Обмен отменён",
	})
}

// RateSwap выставляет оценку завершённому обмену
func (s *SwapService) RateSwap(c fiber.Ctx) error {
	userUUID, ok := currentUserID(c)
	if !ok {
		return nil
	}

	swapUUID, ok := parseSwapID(c)
	if !ok {
		return nil
	}

	var requestData struct {
		Score   int    `json:"score"`
		Comment string `json:"comment"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	swap, err := s.engine.Rate(ctx, swapUUID, userUUID, requestData.Score, requestData.Comment)
	if err != nil {
		return s.errorResponse(c, err, "Ошибка оценки обмена")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"swap_id": swap.ID,
		"message": "Оценка сохранена",
	})
}

// errorResponse преобразует ошибку движка обменов в HTTP-ответ
func (s *SwapService) errorResponse(c fiber.Ctx, err error, fallback string) error {
	switch {
	case engine.IsValidation(err):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case engine.IsAuthorization(err):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
	case engine.IsNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case engine.IsStateConflict(err):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	}

	log.Printf("%s: %v", fallback, err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": fallback})
}

// enrichSwap дополняет обмен данными участников и ID связанного чата
func (s *SwapService) enrichSwap(ctx context.Context, swap *models.Swap) {
	swap.Requester = getUserInfo(ctx, swap.RequesterID)
	swap.Owner = getUserInfo(ctx, swap.OwnerID)

	var chatID uuid.UUID
	err := db.Pool.QueryRow(ctx, `
        SELECT id FROM chats WHERE swap_id = $1 LIMIT 1
    `, swap.ID).Scan(&chatID)

	if err == nil {
		swap.ChatID = chatID
	} else if err != pgx.ErrNoRows {
		log.Printf("Ошибка поиска чата для обмена %s: %v", swap.ID, err)
	}
}

// createChatForSwap создает чат между участниками принятого обмена
func (s *SwapService) createChatForSwap(ctx context.Context, swap *models.Swap) (uuid.UUID, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	chatID := uuid.New()
	now := time.Now()
	initialMessage := "Обмен был принят. Вы можете обсудить детали здесь."

	_, err = tx.Exec(ctx, `
        INSERT INTO chats (id, swap_id, sender_id, receiver_id, created_at, updated_at, last_message_text, last_message_time, is_active)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `, chatID, swap.ID, swap.RequesterID, swap.OwnerID, now, now, initialMessage, now, true)

	if err != nil {
		return uuid.Nil, err
	}

	// Системное сообщение от имени владельца, принявшего предложение
	messageID := uuid.New()
	_, err = tx.Exec(ctx, `
        INSERT INTO messages (id, chat_id, sender_id, text, is_read, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, messageID, chatID, swap.OwnerID, initialMessage, false, now, now)

	if err != nil {
		return uuid.Nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}

	return chatID, nil
}

// closeChatForSwap деактивирует чат завершённого или отменённого обмена.
// Ошибка не прерывает запрос: переход обмена уже состоялся.
func (s *SwapService) closeChatForSwap(ctx context.Context, swapID uuid.UUID) {
	_, err := db.Pool.Exec(ctx, `
        UPDATE chats SET is_active = false, updated_at = NOW() WHERE swap_id = $1
    `, swapID)
	if err != nil {
		log.Printf("Ошибка закрытия чата для обмена %s: %v", swapID, err)
	}
}

// notifySwapUpdate отправляет второй стороне WebSocket-уведомление об изменении обмена
func (s *SwapService) notifySwapUpdate(swap *models.Swap, actingUserID uuid.UUID) {
	if s.wsManager == nil {
		return
	}

	s.wsManager.SendToUser(swap.CounterpartOf(actingUserID).String(), websocket.Event{
		Type:      websocket.EventSwapUpdate,
		SwapID:    swap.ID.String(),
		UserID:    actingUserID.String(),
		Timestamp: time.Now(),
	})
}

// currentUserID извлекает ID текущего пользователя из контекста запроса.
// При ошибке ответ уже записан, обработчику достаточно вернуть nil.
func currentUserID(c fiber.Ctx) (uuid.UUID, bool) {
	userID, _ := c.Locals("userID").(string)
	if userID == "" {
		_ = c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
		return uuid.Nil, false
	}

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
		return uuid.Nil, false
	}

	return userUUID, true
}

// parseSwapID извлекает ID обмена из параметров маршрута.
// При ошибке ответ уже записан, обработчику достаточно вернуть nil.
func parseSwapID(c fiber.Ctx) (uuid.UUID, bool) {
	swapID := c.Params("id")
	if swapID == "" {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "ID обмена не указан"})
		return uuid.Nil, false
	}

	swapUUID, err := uuid.Parse(swapID)
	if err != nil {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID обмена"})
		return uuid.Nil, false
	}

	return swapUUID, true
}

// parseBookIDs преобразует строковые ID книг в UUID
func parseBookIDs(ids []string) ([]uuid.UUID, error) {
	if ids == nil {
		return nil, nil
	}

	parsed := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		bookUUID, err := uuid.Parse(id)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, bookUUID)
	}
	return parsed, nil
}

// getUserInfo получает информацию о пользователе
func getUserInfo(ctx context.Context, userID uuid.UUID) *models.User {
	var user models.User
	err := db.Pool.QueryRow(ctx, `
        SELECT id, username, first_name, last_name, avatar_url
        FROM users
        WHERE id = $1
    `, userID).Scan(
		&user.ID,
		&user.Username,
		&user.FirstName,
		&user.LastName,
		&user.AvatarURL,
	)

	if err != nil {
		if err != pgx.ErrNoRows {
			log.Printf("Ошибка получения пользователя %s: %v", userID, err)
		}
		return nil
	}

	return &user
}
