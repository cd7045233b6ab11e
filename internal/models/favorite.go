package models

import (
	"time"

	"github.com/google/uuid"
)

// Favorite представляет запись избранной книги
type Favorite struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	BookID    uuid.UUID `json:"book_id"`
	CreatedAt time.Time `json:"created_at"`

	// Дополнительные поля для API
	Book *Book `json:"book,omitempty"`
}

// FavoriteResponse представляет структуру ответа API с избранными книгами
type FavoriteResponse struct {
	Favorites []Favorite `json:"favorites"`
	Total     int        `json:"total"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
}
