package activity

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rajivgeraev/bookswap-api/internal/middleware"
)

// SetupRoutes настраивает маршруты для API активности
func (s *ActivityService) SetupRoutes(app *fiber.App) {
	// Группа для API активности
	api := app.Group("/api/activity")

	// Защищенные маршруты (требуют авторизации)
	api.Use(middleware.AuthMiddleware(s.jwtService))

	// Маршрут для получения истории активности
	api.Get("/", s.GetMyActivity)

	// Маршрут для получения баллов за завершённые обмены
	api.Get("/points", s.GetMyPoints)
}
