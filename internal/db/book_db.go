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

// BookRegistry реализует реестр книг поверх PostgreSQL
type BookRegistry struct{}

// NewBookRegistry создает новый экземпляр BookRegistry
func NewBookRegistry() *BookRegistry {
	return &BookRegistry{}
}

// GetBook возвращает книгу по ID
func (r *BookRegistry) GetBook(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	var book models.Book
	var author, description pgtype.Text
	var availability string

	err := Pool.QueryRow(ctx, `
		SELECT id, user_id, title, author, description, condition, availability, created_at, updated_at
		FROM books
		WHERE id = $1
	`, id).Scan(
		&book.ID, &book.UserID, &book.Title, &author, &description,
		&book.Condition, &availability, &book.CreatedAt, &book.UpdatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, &swap.NotFoundError{Kind: "book", ID: id}
		}
		return nil, fmt.Errorf("ошибка при получении книги: %w", err)
	}

	if author.Valid {
		book.Author = author.String
	}
	if description.Valid {
		book.Description = description.String
	}
	book.Availability = models.BookAvailability(availability)

	return &book, nil
}

// SetAvailability выполняет условный переход доступности книги: запись
// происходит только если книга сейчас в состоянии from. Если книга уже в
// целевом состоянии, вызов идемпотентно успешен; иначе — конфликт.
func (r *BookRegistry) SetAvailability(ctx context.Context, id uuid.UUID, from, to models.BookAvailability) error {
	tag, err := Pool.Exec(ctx, `
		UPDATE books
		SET availability = $2, updated_at = NOW()
		WHERE id = $1 AND availability IN ($3, $2)
	`, id, string(to), string(from))

	if err != nil {
		return fmt.Errorf("ошибка при обновлении доступности книги: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM books WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("ошибка при проверке существования книги: %w", err)
		}
		if !exists {
			return &swap.NotFoundError{Kind: "book", ID: id}
		}
		return &swap.StateConflictError{Reason: "доступность книги изменена конкурентной операцией"}
	}
	return nil
}
