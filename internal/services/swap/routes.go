package swap

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rajivgeraev/bookswap-api/internal/middleware"
)

// SetupRoutes настраивает маршруты для API обменов
func (s *SwapService) SetupRoutes(app *fiber.App) {
	// Группа для API обменов
	api := app.Group("/api/swaps")

	// Защищенные маршруты (требуют авторизации)
	api.Use(middleware.AuthMiddleware(s.jwtService))

	// Создание и просмотр предложений обмена
	api.Post("/", s.CreateSwap)
	api.Get("/", s.GetMySwaps)
	api.Get("/:id", s.GetSwap)

	// Переходы жизненного цикла обмена
	api.Post("/:id/respond", s.RespondToSwap)
	api.Post("/:id/negotiate", s.NegotiateSwap)
	api.Post("/:id/progress", s.MarkInProgress)
	api.Post("/:id/cancel", s.CancelSwap)

	// Встреча и протокол двойного подтверждения
	api.Post("/:id/meeting", s.ScheduleMeeting)
	api.Post("/:id/meeting/confirm", s.ConfirmMeeting)
	api.Post("/:id/receipt", s.ConfirmReceipt)

	// Оценка завершённого обмена
	api.Post("/:id/rating", s.RateSwap)
}
