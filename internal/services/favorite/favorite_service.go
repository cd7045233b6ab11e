package favorite

import (
	"log"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rajivgeraev/bookswap-api/internal/config"
	"github.com/rajivgeraev/bookswap-api/internal/db"
	"github.com/rajivgeraev/bookswap-api/internal/models"
	"github.com/rajivgeraev/bookswap-api/internal/utils"
)

// FavoriteService представляет сервис для работы с избранными книгами
type FavoriteService struct {
	cfg        *config.Config
	jwtService *utils.JWTService
}

// NewFavoriteService создает новый экземпляр FavoriteService
func NewFavoriteService(cfg *config.Config) *FavoriteService {
	return &FavoriteService{
		cfg:        cfg,
		jwtService: utils.NewJWTService(cfg.JWTSecret),
	}
}

// AddToFavorites добавляет книгу в избранное
func (s *FavoriteService) AddToFavorites(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	// Извлекаем ID книги из запроса
	var requestData struct {
		BookID string `json:"book_id"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	// Проверяем, что book_id указан
	if requestData.BookID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "ID книги не указан"})
	}

	// Преобразуем строки в UUID
	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	bookUUID, err := uuid.Parse(requestData.BookID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID книги"})
	}

	// Проверяем, существует ли книга
	ctx, cancel := db.GetContext()
	defer cancel()

	var exists bool
	err = db.Pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM books WHERE id = $1)
	`, bookUUID).Scan(&exists)

	if err != nil {
		log.Printf("Ошибка проверки существования книги: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка проверки книги"})
	}

	if !exists {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Книга не найдена"})
	}

	// Проверяем, не добавлена ли уже эта книга в избранное
	err = db.Pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM favorites WHERE user_id = $1 AND book_id = $2)
	`, userUUID, bookUUID).Scan(&exists)

	if err != nil {
		log.Printf("Ошибка проверки избранного: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка проверки избранного"})
	}

	if exists {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Книга уже добавлена в избранное"})
	}

	// Добавляем книгу в избранное
	favoriteID := uuid.New()
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO favorites (id, user_id, book_id)
		VALUES ($1, $2, $3)
	`, favoriteID, userUUID, bookUUID)

	if err != nil {
		log.Printf("Ошибка добавления в избранное: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка добавления в избранное"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"id":      favoriteID,
		"message": "Книга успешно добавлена в избранное",
	})
}

// RemoveFromFavorites удаляет книгу из избранного
func (s *FavoriteService) RemoveFromFavorites(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	bookID := c.Params("id")

	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	if bookID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "ID книги не указан"})
	}

	// Преобразуем строки в UUID
	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	bookUUID, err := uuid.Parse(bookID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID книги"})
	}

	// Проверяем, есть ли книга в избранном
	ctx, cancel := db.GetContext()
	defer cancel()

	var exists bool
	err = db.Pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM favorites WHERE user_id = $1 AND book_id = $2)
	`, userUUID, bookUUID).Scan(&exists)

	if err != nil {
		log.Printf("Ошибка проверки избранного: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка проверки избранного"})
	}

	if !exists {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Книга не найдена в избранном"})
	}

	// Удаляем книгу из избранного
	_, err = db.Pool.Exec(ctx, `
		DELETE FROM favorites WHERE user_id = $1 AND book_id = $2
	`, userUUID, bookUUID)

	if err != nil {
		log.Printf("Ошибка удаления из избранного: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка удаления из избранного"})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Книга успешно удалена из избранного",
	})
}

// GetFavorites возвращает список избранных книг пользователя
func (s *FavoriteService) GetFavorites(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	// Преобразуем userID в UUID
	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	// Параметры пагинации
	limit := 20 // По умолчанию показываем 20 книг
	offsetStr := c.Query("offset", "0")
	offset, _ := strconv.Atoi(offsetStr)

	// Получаем избранные книги из базы данных
	ctx, cancel := db.GetContext()
	defer cancel()

	// Запрос на получение избранного вместе с данными книг
	query := `
		SELECT f.id, f.user_id, f.book_id, f.created_at,
			   b.id, b.user_id, b.title, b.author, b.description, b.condition, b.availability, b.created_at, b.updated_at
		FROM favorites f
		JOIN books b ON f.book_id = b.id
		WHERE f.user_id = $1
		ORDER BY f.created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := db.Pool.Query(ctx, query, userUUID, limit, offset)
	if err != nil {
		log.Printf("Ошибка запроса избранных книг: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения избранных книг"})
	}
	defer rows.Close()

	var favorites []models.Favorite
	for rows.Next() {
		var favorite models.Favorite
		var book models.Book

		if err := rows.Scan(
			&favorite.ID,
			&favorite.UserID,
			&favorite.BookID,
			&favorite.CreatedAt,
			&book.ID,
			&book.UserID,
			&book.Title,
			&book.Author,
			&book.Description,
			&book.Condition,
			&book.Availability,
			&book.CreatedAt,
			&book.UpdatedAt,
		); err != nil {
			log.Printf("Ошибка сканирования строки: %v", err)
			continue
		}

		// Получаем изображения для книги
		imgRows, err := db.Pool.Query(ctx, `
			SELECT id, book_id, url, preview_url, public_id, file_name, is_main, position, created_at
			FROM book_images
			WHERE book_id = $1
			ORDER BY position ASC
		`, book.ID)

		if err != nil {
			log.Printf("Ошибка запроса изображений: %v", err)
		} else {
			var images []models.BookImage
			for imgRows.Next() {
				var img models.BookImage
				if err := imgRows.Scan(
					&img.ID,
					&img.BookID,
					&img.URL,
					&img.PreviewURL,
					&img.PublicID,
					&img.FileName,
					&img.IsMain,
					&img.Position,
					&img.CreatedAt,
				); err != nil {
					log.Printf("Ошибка сканирования изображения: %v", err)
					continue
				}
				images = append(images, img)
			}
			imgRows.Close()
			book.Images = images
		}

		favorite.Book = &book
		favorites = append(favorites, favorite)
	}

	// Получаем общее количество избранных книг для пагинации
	var total int
	err = db.Pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM favorites f
		JOIN books b ON f.book_id = b.id
		WHERE f.user_id = $1
	`, userUUID).Scan(&total)

	if err != nil {
		log.Printf("Ошибка подсчета избранных книг: %v", err)
		// Игнорируем ошибку, просто не вернем общее количество
	}

	return c.JSON(fiber.Map{
		"favorites": favorites,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	})
}

// CheckFavorite проверяет, добавлена ли книга в избранное
func (s *FavoriteService) CheckFavorite(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	bookID := c.Params("id")

	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	if bookID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "ID книги не указан"})
	}

	// Преобразуем строки в UUID
	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	bookUUID, err := uuid.Parse(bookID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID книги"})
	}

	// Проверяем, есть ли книга в избранном
	ctx, cancel := db.GetContext()
	defer cancel()

	var favoriteID uuid.UUID
	err = db.Pool.QueryRow(ctx, `
		SELECT id FROM favorites WHERE user_id = $1 AND book_id = $2
	`, userUUID, bookUUID).Scan(&favoriteID)

	if err != nil {
		if err == pgx.ErrNoRows {
			return c.JSON(fiber.Map{
				"is_favorite": false,
			})
		}
		log.Printf("Ошибка проверки избранного: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка проверки избранного"})
	}

	return c.JSON(fiber.Map{
		"is_favorite": true,
		"favorite_id": favoriteID,
	})
}
