package book

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rajivgeraev/bookswap-api/internal/middleware"
)

// SetupRoutes настраивает маршруты для API книг
func (s *BookService) SetupRoutes(app *fiber.App) {
	// Группа для API книг
	api := app.Group("/api/books")

	// Защищенные маршруты (требуют авторизации)
	api.Use(middleware.AuthMiddleware(s.jwtService))

	// Маршрут для добавления книги
	api.Post("/create", s.CreateBook)

	// Маршрут для получения списка своих книг
	api.Get("/my", s.GetMyBooks)

	// Маршрут для получения одной книги по ID
	api.Get("/:id", s.GetBook)

	// Маршрут для обновления книги
	api.Put("/:id", s.UpdateBook)

	// Маршрут для удаления книги
	api.Delete("/:id", s.DeleteBook)
}

// SetupPublicRoutes настраивает публичные маршруты для книг
func (s *BookService) SetupPublicRoutes(app *fiber.App) {
	// Публичный маршрут для списка доступных книг
	app.Get("/api/books", s.GetPublicBooks)
}
