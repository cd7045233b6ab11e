package book

import (
	"context"
	"encoding/json"
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

// RequestImage представляет структуру изображения в запросе создания книги
type RequestImage struct {
	URL                string          `json:"url"`
	PublicID           string          `json:"public_id"`
	FileName           string          `json:"file_name"`
	IsMain             bool            `json:"is_main"`
	CloudinaryResponse json.RawMessage `json:"cloudinary_response,omitempty"`
}

// BookService представляет сервис для работы с книгами
type BookService struct {
	cfg        *config.Config
	jwtService *utils.JWTService
}

// NewBookService создает новый экземпляр BookService
func NewBookService(cfg *config.Config) *BookService {
	return &BookService{
		cfg:        cfg,
		jwtService: utils.NewJWTService(cfg.JWTSecret),
	}
}

var validConditions = map[string]bool{
	"new": true, "excellent": true, "good": true,
	"used": true, "needs_repair": true, "damaged": true,
}

// CreateBook обрабатывает добавление новой книги
func (s *BookService) CreateBook(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	// Преобразуем userID в UUID
	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	// Извлекаем данные из запроса
	var requestData struct {
		Title       string         `json:"title"`
		Author      string         `json:"author"`
		Description string         `json:"description"`
		Condition   string         `json:"condition"`
		Images      []RequestImage `json:"images"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	// Валидация обязательных полей
	if requestData.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Название обязательно"})
	}

	if requestData.Author == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Автор обязателен"})
	}

	if !validConditions[requestData.Condition] {
		requestData.Condition = "good" // По умолчанию - хорошее состояние
	}

	// Создаем ID для новой книги
	bookID := uuid.New()

	// Начинаем транзакцию
	ctx, cancel := db.GetContext()
	defer cancel()

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		log.Printf("Ошибка начала транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}
	defer tx.Rollback(ctx)

	// Новая книга сразу доступна для обмена; дальше доступностью
	// управляет только жизненный цикл обменов
	_, err = tx.Exec(ctx, `
		INSERT INTO books (id, user_id, title, author, description, condition, availability)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, bookID, userUUID, requestData.Title, requestData.Author,
		requestData.Description, requestData.Condition, models.BookAvailable)

	if err != nil {
		log.Printf("Ошибка вставки книги: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка сохранения книги"})
	}

	// Вставляем изображения, если они есть
	for i, img := range requestData.Images {
		isMain := i == 0 // Первое изображение - основное

		var cloudinaryResp models.CloudinaryResponse
		var metadata []byte
		var previewURL string

		// Обрабатываем данные из Cloudinary
		if len(img.CloudinaryResponse) > 0 {
			if err := json.Unmarshal(img.CloudinaryResponse, &cloudinaryResp); err != nil {
				log.Printf("Ошибка парсинга ответа Cloudinary: %v", err)
			} else {
				previewURL = models.ExtractPreviewURL(cloudinaryResp)

				metadataObj := models.ExtractMetadata(cloudinaryResp)
				metadata, _ = json.Marshal(metadataObj)
			}
		}

		// Вставляем информацию об изображении
		_, err = tx.Exec(ctx, `
			INSERT INTO book_images (book_id, url, preview_url, public_id, file_name, is_main, position, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, bookID, img.URL, previewURL, img.PublicID, img.FileName, isMain, i, metadata)

		if err != nil {
			log.Printf("Ошибка вставки изображения: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка сохранения изображений"})
		}
	}

	// Фиксируем транзакцию
	if err = tx.Commit(ctx); err != nil {
		log.Printf("Ошибка фиксации транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"book_id": bookID,
		"message": "Книга успешно добавлена",
	})
}

// GetMyBooks возвращает список книг текущего пользователя
func (s *BookService) GetMyBooks(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	// Преобразуем userID в UUID
	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	// Параметры фильтрации и пагинации
	availability := c.Query("availability", "all") // all, available, unavailable, swapped
	limit := 20                                    // По умолчанию показываем 20 книг
	offsetStr := c.Query("offset", "0")
	offset, _ := strconv.Atoi(offsetStr)

	if availability != "all" && !models.BookAvailability(availability).IsValid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Недопустимый статус доступности"})
	}

	// Получаем книги из базы данных
	ctx, cancel := db.GetContext()
	defer cancel()

	var books []models.Book
	var rows pgx.Rows
	var queryErr error

	if availability == "all" {
		rows, queryErr = db.Pool.Query(ctx, `
			SELECT id, user_id, title, author, description, condition, availability, created_at, updated_at
			FROM books
			WHERE user_id = $1
			ORDER BY updated_at DESC
			LIMIT $2 OFFSET $3
		`, userUUID, limit, offset)
	} else {
		rows, queryErr = db.Pool.Query(ctx, `
			SELECT id, user_id, title, author, description, condition, availability, created_at, updated_at
			FROM books
			WHERE user_id = $1 AND availability = $2
			ORDER BY updated_at DESC
			LIMIT $3 OFFSET $4
		`, userUUID, availability, limit, offset)
	}

	if queryErr != nil {
		log.Printf("Ошибка запроса книг: %v", queryErr)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения книг"})
	}
	defer rows.Close()

	// Обрабатываем результаты
	for rows.Next() {
		var book models.Book
		if err := rows.Scan(
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

		book.Images = getBookImages(ctx, book.ID)
		books = append(books, book)
	}

	// Получаем общее количество книг для пагинации
	var total int
	var countErr error

	if availability == "all" {
		countErr = db.Pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM books WHERE user_id = $1
		`, userUUID).Scan(&total)
	} else {
		countErr = db.Pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM books WHERE user_id = $1 AND availability = $2
		`, userUUID, availability).Scan(&total)
	}

	if countErr != nil {
		log.Printf("Ошибка подсчета книг: %v", countErr)
		// Игнорируем ошибку, просто не вернем общее количество
	}

	return c.JSON(fiber.Map{
		"books":  books,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetBook возвращает детальную информацию о книге
func (s *BookService) GetBook(c fiber.Ctx) error {
	bookID := c.Params("id")
	if bookID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "ID книги не указан"})
	}

	// Проверяем, что ID является валидным UUID
	bookUUID, err := uuid.Parse(bookID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID книги"})
	}

	// Получаем текущего пользователя
	userIDStr := c.Locals("userID").(string)
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	// Получаем книгу из базы данных
	ctx, cancel := db.GetContext()
	defer cancel()

	var book models.Book
	err = db.Pool.QueryRow(ctx, `
		SELECT id, user_id, title, author, description, condition, availability, created_at, updated_at
		FROM books
		WHERE id = $1
	`, bookUUID).Scan(
		&book.ID,
		&book.UserID,
		&book.Title,
		&book.Author,
		&book.Description,
		&book.Condition,
		&book.Availability,
		&book.CreatedAt,
		&book.UpdatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Книга не найдена"})
		}
		log.Printf("Ошибка получения книги: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения книги"})
	}

	book.Images = getBookImages(ctx, bookUUID)

	// Получаем информацию о владельце
	var user db.User
	err = db.Pool.QueryRow(ctx, `
		SELECT id, username, first_name, last_name, avatar_url
		FROM users
		WHERE id = $1
	`, book.UserID).Scan(
		&user.ID,
		&user.Username,
		&user.FirstName,
		&user.LastName,
		&user.AvatarURL,
	)

	if err != nil && err != pgx.ErrNoRows {
		log.Printf("Ошибка получения данных пользователя: %v", err)
	}

	// Формируем ответ
	return c.JSON(fiber.Map{
		"book": book,
		"user": fiber.Map{
			"id":         user.ID,
			"username":   user.Username,
			"first_name": user.FirstName,
			"last_name":  user.LastName,
			"avatar_url": user.AvatarURL,
		},
		"is_owner": book.UserID == userID,
	})
}

// UpdateBook обновляет описание существующей книги.
// Статус доступности через этот маршрут не меняется.
func (s *BookService) UpdateBook(c fiber.Ctx) error {
	bookID := c.Params("id")
	userIDStr := c.Locals("userID").(string)

	if bookID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "ID книги не указан"})
	}

	// Проверяем, что ID является валидным UUID
	bookUUID, err := uuid.Parse(bookID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID книги"})
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	// Извлекаем данные из запроса
	var requestData struct {
		Title       string         `json:"title"`
		Author      string         `json:"author"`
		Description string         `json:"description"`
		Condition   string         `json:"condition"`
		Images      []RequestImage `json:"images"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	// Валидация обязательных полей
	if requestData.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Название обязательно"})
	}

	if requestData.Author == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Автор обязателен"})
	}

	if !validConditions[requestData.Condition] {
		requestData.Condition = "good" // По умолчанию - хорошее состояние
	}

	// Проверяем, что книга существует и принадлежит пользователю
	ctx, cancel := db.GetContext()
	defer cancel()

	var ownerID uuid.UUID
	err = db.Pool.QueryRow(ctx, "SELECT user_id FROM books WHERE id = $1", bookUUID).Scan(&ownerID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Книга не найдена"})
		}
		log.Printf("Ошибка запроса книги: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения книги"})
	}

	// Проверка, что пользователь является владельцем книги
	if ownerID != userID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "У вас нет доступа к редактированию этой книги"})
	}

	// Начинаем транзакцию
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		log.Printf("Ошибка начала транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}
	defer tx.Rollback(ctx)

	// Обновляем основную информацию о книге
	_, err = tx.Exec(ctx, `
		UPDATE books
		SET title = $1, author = $2, description = $3, condition = $4, updated_at = NOW()
		WHERE id = $5
	`, requestData.Title, requestData.Author, requestData.Description, requestData.Condition, bookUUID)

	if err != nil {
		log.Printf("Ошибка обновления книги: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка обновления книги"})
	}

	// Если есть изображения, обновляем их
	if len(requestData.Images) > 0 {
		// Сначала удаляем все существующие изображения
		_, err = tx.Exec(ctx, "DELETE FROM book_images WHERE book_id = $1", bookUUID)
		if err != nil {
			log.Printf("Ошибка удаления старых изображений: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка обновления изображений"})
		}

		// Добавляем новые изображения
		for i, img := range requestData.Images {
			isMain := i == 0 // Первое изображение - основное

			var cloudinaryResp models.CloudinaryResponse
			var metadata []byte
			var previewURL string

			// Обрабатываем данные из Cloudinary
			if len(img.CloudinaryResponse) > 0 {
				if err := json.Unmarshal(img.CloudinaryResponse, &cloudinaryResp); err != nil {
					log.Printf("Ошибка парсинга ответа Cloudinary: %v", err)
				} else {
					previewURL = models.ExtractPreviewURL(cloudinaryResp)

					metadataObj := models.ExtractMetadata(cloudinaryResp)
					metadata, _ = json.Marshal(metadataObj)
				}
			}

			// Вставляем информацию об изображении
			_, err = tx.Exec(ctx, `
				INSERT INTO book_images (book_id, url, preview_url, public_id, file_name, is_main, position, metadata)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, bookUUID, img.URL, previewURL, img.PublicID, img.FileName, isMain, i, metadata)

			if err != nil {
				log.Printf("Ошибка вставки изображения: %v", err)
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка сохранения изображений"})
			}
		}
	}

	// Фиксируем транзакцию
	if err = tx.Commit(ctx); err != nil {
		log.Printf("Ошибка фиксации транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"book_id": bookID,
		"message": "Книга успешно обновлена",
	})
}

// DeleteBook удаляет книгу. Книгу, зарезервированную в активном обмене,
// удалить нельзя.
func (s *BookService) DeleteBook(c fiber.Ctx) error {
	bookID := c.Params("id")
	userIDStr := c.Locals("userID").(string)

	if bookID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "ID книги не указан"})
	}

	// Проверяем, что ID является валидным UUID
	bookUUID, err := uuid.Parse(bookID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID книги"})
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	// Проверяем, что книга существует и принадлежит пользователю
	ctx, cancel := db.GetContext()
	defer cancel()

	var ownerID uuid.UUID
	var availability models.BookAvailability
	err = db.Pool.QueryRow(ctx, "SELECT user_id, availability FROM books WHERE id = $1", bookUUID).
		Scan(&ownerID, &availability)
	if err != nil {
		if err == pgx.ErrNoRows {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Книга не найдена"})
		}
		log.Printf("Ошибка запроса книги: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения книги"})
	}

	// Проверка, что пользователь является владельцем книги
	if ownerID != userID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "У вас нет доступа к удалению этой книги"})
	}

	if availability == models.BookUnavailable {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Книга зарезервирована в активном обмене"})
	}

	// Начинаем транзакцию
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		log.Printf("Ошибка начала транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}
	defer tx.Rollback(ctx)

	// Сначала удаляем связанные изображения
	_, err = tx.Exec(ctx, "DELETE FROM book_images WHERE book_id = $1", bookUUID)
	if err != nil {
		log.Printf("Ошибка удаления изображений: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка удаления книги"})
	}

	// Удаляем саму книгу
	_, err = tx.Exec(ctx, "DELETE FROM books WHERE id = $1", bookUUID)
	if err != nil {
		log.Printf("Ошибка удаления книги: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка удаления книги"})
	}

	// Фиксируем транзакцию
	if err = tx.Commit(ctx); err != nil {
		log.Printf("Ошибка фиксации транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Книга успешно удалена",
	})
}

// GetPublicBooks возвращает список доступных для обмена книг с пагинацией
func (s *BookService) GetPublicBooks(c fiber.Ctx) error {
	// Параметры пагинации
	limit := 20 // По умолчанию показываем 20 книг
	offsetStr := c.Query("offset", "0")
	offset, _ := strconv.Atoi(offsetStr)

	// Получаем книги из базы данных
	ctx, cancel := db.GetContext()
	defer cancel()

	var books []models.Book

	rows, queryErr := db.Pool.Query(ctx, `
        SELECT id, user_id, title, author, description, condition, availability, created_at, updated_at
        FROM books
        WHERE availability = 'available'
        ORDER BY created_at DESC
        LIMIT $1 OFFSET $2
    `, limit, offset)

	if queryErr != nil {
		log.Printf("Ошибка запроса книг: %v", queryErr)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения книг"})
	}
	defer rows.Close()

	// Обрабатываем результаты
	for rows.Next() {
		var book models.Book
		if err := rows.Scan(
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

		book.Images = getBookImages(ctx, book.ID)

		// Для каждой книги получаем информацию о владельце
		owner, err := db.GetUserByID(book.UserID)
		if err != nil {
			log.Printf("Ошибка получения данных пользователя: %v", err)
		} else {
			book.Owner = owner.ToModel()
		}

		books = append(books, book)
	}

	// Получаем общее количество книг для пагинации
	var total int
	countErr := db.Pool.QueryRow(ctx, `
        SELECT COUNT(*) FROM books WHERE availability = 'available'
    `).Scan(&total)

	if countErr != nil {
		log.Printf("Ошибка подсчета книг: %v", countErr)
		// Игнорируем ошибку, просто не вернем общее количество
	}

	return c.JSON(fiber.Map{
		"books":  books,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// getBookImages возвращает изображения книги в порядке позиций
func getBookImages(ctx context.Context, bookID uuid.UUID) []models.BookImage {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, book_id, url, preview_url, public_id, file_name, is_main, position, metadata, created_at
		FROM book_images
		WHERE book_id = $1
		ORDER BY position ASC
	`, bookID)

	if err != nil {
		log.Printf("Ошибка запроса изображений: %v", err)
		return nil
	}
	defer rows.Close()

	var images []models.BookImage
	for rows.Next() {
		var img models.BookImage
		var metadataBytes []byte

		if err := rows.Scan(
			&img.ID,
			&img.BookID,
			&img.URL,
			&img.PreviewURL,
			&img.PublicID,
			&img.FileName,
			&img.IsMain,
			&img.Position,
			&metadataBytes,
			&img.CreatedAt,
		); err != nil {
			log.Printf("Ошибка сканирования изображения: %v", err)
			continue
		}

		// Преобразуем метаданные из JSON, если они есть
		if metadataBytes != nil {
			if err := json.Unmarshal(metadataBytes, &img.Metadata); err != nil {
				log.Printf("Ошибка разбора метаданных: %v", err)
			}
		}

		images = append(images, img)
	}

	return images
}
