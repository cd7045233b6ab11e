package activity

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rajivgeraev/bookswap-api/internal/config"
	"github.com/rajivgeraev/bookswap-api/internal/db"
	"github.com/rajivgeraev/bookswap-api/internal/swap"
	"github.com/rajivgeraev/bookswap-api/internal/utils"
)

// Баллы за завершённый обмен, начисляются каждому участнику один раз
const completedSwapPoints = 50

// ActivityService представляет сервис истории активности и баллов
type ActivityService struct {
	cfg        *config.Config
	jwtService *utils.JWTService
}

// NewActivityService создает новый экземпляр ActivityService
func NewActivityService(cfg *config.Config) *ActivityService {
	return &ActivityService{
		cfg:        cfg,
		jwtService: utils.NewJWTService(cfg.JWTSecret),
	}
}

// ActivityEvent представляет запись журнала активности
type ActivityEvent struct {
	ID           uuid.UUID   `json:"id"`
	SwapID       uuid.UUID   `json:"swap_id"`
	Kind         string      `json:"kind"`
	Participants []uuid.UUID `json:"participants"`
	OccurredAt   time.Time   `json:"occurred_at"`
}

// Sink записывает события переходов обмена в журнал активности
// и начисляет баллы за завершённые обмены
type Sink struct{}

// NewSink создает новый экземпляр Sink
func NewSink() *Sink {
	return &Sink{}
}

// Emit сохраняет событие перехода. Запись идемпотентна по паре
// (swap_id, kind): повторная доставка не создаёт дубликата и не
// начисляет баллы второй раз.
func (s *Sink) Emit(ctx context.Context, event swap.Event) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
        INSERT INTO activity_events (id, swap_id, kind, participants, occurred_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (swap_id, kind) DO NOTHING
    `, uuid.New(), event.SwapID, string(event.Kind), event.Participants, event.OccurredAt)

	if err != nil {
		return err
	}

	// Событие уже учтено ранее
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	// Баллы начисляются в той же транзакции, что и запись события:
	// вставка события служит защитой от повторного начисления
	if event.Kind == swap.EventCompleted {
		for _, userID := range event.Participants {
			_, err = tx.Exec(ctx, `
                INSERT INTO user_points (user_id, points, updated_at)
                VALUES ($1, $2, NOW())
                ON CONFLICT (user_id) DO UPDATE
                SET points = user_points.points + $2, updated_at = NOW()
            `, userID, completedSwapPoints)

			if err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

// GetMyActivity возвращает историю активности пользователя
func (s *ActivityService) GetMyActivity(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	limit := 50
	offsetStr := c.Query("offset", "0")
	offset, _ := strconv.Atoi(offsetStr)

	ctx, cancel := db.GetContext()
	defer cancel()

	rows, err := db.Pool.Query(ctx, `
        SELECT id, swap_id, kind, participants, occurred_at
        FROM activity_events
        WHERE $1 = ANY(participants)
        ORDER BY occurred_at DESC
        LIMIT $2 OFFSET $3
    `, userUUID, limit, offset)

	if err != nil {
		log.Printf("Ошибка запроса истории активности: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения истории активности"})
	}
	defer rows.Close()

	var events []ActivityEvent
	for rows.Next() {
		var event ActivityEvent
		if err := rows.Scan(
			&event.ID,
			&event.SwapID,
			&event.Kind,
			&event.Participants,
			&event.OccurredAt,
		); err != nil {
			log.Printf("Ошибка сканирования строки: %v", err)
			continue
		}
		events = append(events, event)
	}

	return c.JSON(fiber.Map{
		"events": events,
		"count":  len(events),
		"limit":  limit,
		"offset": offset,
	})
}

// GetMyPoints возвращает баллы пользователя за завершённые обмены
func (s *ActivityService) GetMyPoints(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	var points int
	err = db.Pool.QueryRow(ctx, `
        SELECT points FROM user_points WHERE user_id = $1
    `, userUUID).Scan(&points)

	if err != nil {
		if err != pgx.ErrNoRows {
			log.Printf("Ошибка запроса баллов: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения баллов"})
		}
		points = 0
	}

	return c.JSON(fiber.Map{
		"points": points,
	})
}
