package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rajivgeraev/bookswap-api/internal/models"
	"github.com/rajivgeraev/bookswap-api/internal/swap"
)

// User представляет пользователя в системе
type User struct {
	ID          uuid.UUID
	Username    string
	FirstName   string
	LastName    string
	Email       string
	Bio         string
	AvatarURL   string
	Location    string
	CreatedAt   pgtype.Timestamptz
	UpdatedAt   pgtype.Timestamptz
	LastLoginAt pgtype.Timestamptz
	IsActive    bool
}

// CreateOrUpdateTelegramUser создает нового пользователя через Telegram
// или обновляет данные существующего
func CreateOrUpdateTelegramUser(telegramID int64, username, firstName, lastName, photoURL string,
	isPremium bool, languageCode string, rawData []byte) (*User, error) {
	ctx, cancel := GetContext()
	defer cancel()

	// Начинаем транзакцию
	tx, err := Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка при начале транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	// Проверяем, существует ли пользователь Telegram
	var userID uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT user_id FROM telegram_users WHERE telegram_id = $1
	`, telegramID).Scan(&userID)

	if err != nil && err != pgx.ErrNoRows {
		return nil, fmt.Errorf("ошибка при проверке существования пользователя Telegram: %w", err)
	}

	if err == pgx.ErrNoRows {
		// Создаем запись в users
		err = tx.QueryRow(ctx, `
			INSERT INTO users (first_name, last_name, username, avatar_url, last_login_at)
			VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
			RETURNING id
		`, firstName, lastName, username, photoURL).Scan(&userID)

		if err != nil {
			return nil, fmt.Errorf("ошибка при создании пользователя: %w", err)
		}

		// Создаем запись в telegram_users
		_, err = tx.Exec(ctx, `
			INSERT INTO telegram_users (user_id, telegram_id, username, first_name, last_name, photo_url, is_premium, language_code, raw_data)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, userID, telegramID, username, firstName, lastName, photoURL, isPremium, languageCode, rawData)

		if err != nil {
			return nil, fmt.Errorf("ошибка при создании Telegram пользователя: %w", err)
		}
	} else {
		// Обновляем время входа и данные Telegram
		_, err = tx.Exec(ctx, `
			UPDATE users
			SET last_login_at = CURRENT_TIMESTAMP
			WHERE id = $1
		`, userID)

		if err != nil {
			return nil, fmt.Errorf("ошибка при обновлении времени входа пользователя: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE telegram_users
			SET username = $1, first_name = $2, last_name = $3, photo_url = $4,
				is_premium = $5, language_code = $6, raw_data = $7, updated_at = CURRENT_TIMESTAMP
			WHERE telegram_id = $8
		`, username, firstName, lastName, photoURL, isPremium, languageCode, rawData, telegramID)

		if err != nil {
			return nil, fmt.Errorf("ошибка при обновлении Telegram пользователя: %w", err)
		}
	}

	user, err := getUserByID(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении пользователя: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка при фиксации транзакции: %w", err)
	}

	return user, nil
}

// getUserByID получает пользователя по ID внутри транзакции
func getUserByID(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*User, error) {
	return scanUser(tx.QueryRow(ctx, `
		SELECT id, username, first_name, last_name, email, bio, avatar_url,
			   location, created_at, updated_at, last_login_at, is_active
		FROM users WHERE id = $1
	`, userID))
}

// GetUserByID получает пользователя по ID (публичная версия)
func GetUserByID(userID uuid.UUID) (*User, error) {
	ctx, cancel := GetContext()
	defer cancel()

	return scanUser(Pool.QueryRow(ctx, `
		SELECT id, username, first_name, last_name, email, bio, avatar_url,
			   location, created_at, updated_at, last_login_at, is_active
		FROM users WHERE id = $1
	`, userID))
}

// GetUserByTelegramID получает пользователя по ID Telegram
func GetUserByTelegramID(telegramID int64) (*User, error) {
	var userID uuid.UUID

	ctx, cancel := GetContext()
	defer cancel()

	err := Pool.QueryRow(ctx, `
		SELECT user_id FROM telegram_users WHERE telegram_id = $1
	`, telegramID).Scan(&userID)

	if err != nil {
		return nil, err
	}

	return GetUserByID(userID)
}

// scanUser читает пользователя из строки результата
func scanUser(row pgx.Row) (*User, error) {
	var user User
	var username, firstName, lastName, email, bio, avatarURL, location pgtype.Text

	err := row.Scan(
		&user.ID, &username, &firstName, &lastName,
		&email, &bio, &avatarURL, &location,
		&user.CreatedAt, &user.UpdatedAt, &user.LastLoginAt, &user.IsActive,
	)
	if err != nil {
		return nil, err
	}

	// Преобразуем nullable поля
	if username.Valid {
		user.Username = username.String
	}
	if firstName.Valid {
		user.FirstName = firstName.String
	}
	if lastName.Valid {
		user.LastName = lastName.String
	}
	if email.Valid {
		user.Email = email.String
	}
	if bio.Valid {
		user.Bio = bio.String
	}
	if avatarURL.Valid {
		user.AvatarURL = avatarURL.String
	}
	if location.Valid {
		user.Location = location.String
	}

	return &user, nil
}

// ToModel конвертирует пользователя в структуру для API
func (u *User) ToModel() *models.User {
	return &models.User{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		AvatarURL: u.AvatarURL,
	}
}

// UserIdentity разрешает пользователей для движка обменов
type UserIdentity struct{}

// NewUserIdentity создает новый экземпляр UserIdentity
func NewUserIdentity() *UserIdentity {
	return &UserIdentity{}
}

// GetUser возвращает снимок пользователя по ID
func (ui *UserIdentity) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := GetUserByID(id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, &swap.NotFoundError{Kind: "user", ID: id}
		}
		return nil, fmt.Errorf("ошибка при получении пользователя: %w", err)
	}
	return user.ToModel(), nil
}
