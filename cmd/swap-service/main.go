package main

import (
	"log"
	"net/http"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	gorillaws "github.com/gorilla/websocket"
	"github.com/rajivgeraev/bookswap-api/internal/config"
	"github.com/rajivgeraev/bookswap-api/internal/db"
	"github.com/rajivgeraev/bookswap-api/internal/services/activity"
	"github.com/rajivgeraev/bookswap-api/internal/services/auth"
	"github.com/rajivgeraev/bookswap-api/internal/services/book"
	"github.com/rajivgeraev/bookswap-api/internal/services/chat"
	"github.com/rajivgeraev/bookswap-api/internal/services/cloudinary"
	"github.com/rajivgeraev/bookswap-api/internal/services/favorite"
	swapservice "github.com/rajivgeraev/bookswap-api/internal/services/swap"
	"github.com/rajivgeraev/bookswap-api/internal/swap"
	"github.com/rajivgeraev/bookswap-api/internal/utils"
	"github.com/rajivgeraev/bookswap-api/internal/websocket"
)

func main() {
	// Загружаем конфигурацию
	cfg := config.LoadConfig()

	// Инициализируем базу данных
	if err := db.InitDB(cfg); err != nil {
		log.Fatalf("❌ Ошибка при инициализации базы данных: %v", err)
	}
	defer db.CloseDB()

	// Создаём экземпляр Fiber
	app := fiber.New(fiber.Config{
		AppName:      "BookSwap API",
		ErrorHandler: errorHandler,
	})

	// Добавляем middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowCredentials: false,
	}))

	// WebSocket-менеджер доставляет уведомления участникам обменов
	wsManager := websocket.NewManager()
	defer wsManager.Shutdown()

	// Собираем движок обменов поверх Postgres-хранилищ
	engine := swap.NewEngine(
		db.NewSwapStore(),
		db.NewBookRegistry(),
		db.NewUserIdentity(),
		activity.NewSink(),
		wsManager,
	)

	// Создаём сервисы
	authService := auth.NewAuthService(cfg)
	cloudinaryService := cloudinary.NewCloudinaryService(cfg)
	bookService := book.NewBookService(cfg)
	swapService := swapservice.NewSwapService(cfg, engine, wsManager)
	chatService := chat.NewChatService(cfg, wsManager)
	favoriteService := favorite.NewFavoriteService(cfg)
	activityService := activity.NewActivityService(cfg)

	// Регистрируем маршруты
	authService.SetupRoutes(app)
	cloudinaryService.SetupRoutes(app)
	bookService.SetupPublicRoutes(app)
	bookService.SetupRoutes(app)
	swapService.SetupRoutes(app)
	chatService.SetupRoutes(app)
	favoriteService.SetupRoutes(app)
	activityService.SetupRoutes(app)
	setupWebSocket(app, wsManager, authService.GetJWTService())

	// Запускаем сервер
	log.Println("✅ BookSwap API запущен на порту 8080")
	log.Fatal(app.Listen(":8080"))
}

// setupWebSocket регистрирует точку подключения WebSocket.
// Токен передаётся query-параметром, так как браузерный WebSocket API
// не позволяет выставить заголовок Authorization.
func setupWebSocket(app *fiber.App, manager *websocket.Manager, jwtService *utils.JWTService) {
	upgrader := gorillaws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	app.Get("/ws", adaptor.HTTPHandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "Отсутствует токен авторизации", http.StatusUnauthorized)
			return
		}

		userID, err := jwtService.ExtractUserID(token)
		if err != nil {
			http.Error(w, "Недействительный токен", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("Ошибка при обновлении соединения до WebSocket: %v", err)
			return
		}

		websocket.NewClient(userID, conn, manager).Start()
	}))
}

// errorHandler обрабатывает ошибки Fiber
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	// Проверяем, является ли ошибка из Fiber
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	// Отправляем ошибку в JSON
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
