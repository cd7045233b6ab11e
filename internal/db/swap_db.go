package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rajivgeraev/bookswap-api/internal/models"
	"github.com/rajivgeraev/bookswap-api/internal/swap"
)

// SwapStore реализует хранилище обменов поверх PostgreSQL.
// Журнал переговоров, встреча, подтверждения и оценки хранятся в JSONB.
type SwapStore struct{}

// NewSwapStore создает новый экземпляр SwapStore
func NewSwapStore() *SwapStore {
	return &SwapStore{}
}

// Create сохраняет новый обмен
func (st *SwapStore) Create(ctx context.Context, s *models.Swap) error {
	requestedBook, offeredBooks, history, meeting, confirmation, requesterRating, ownerRating, err := marshalSwapFields(s)
	if err != nil {
		return err
	}

	_, err = Pool.Exec(ctx, `
		INSERT INTO swaps (id, requester_id, requester_name, owner_id, owner_name,
			requested_book, offered_books, status, message, negotiation_history,
			meeting, confirmation, requester_rating, owner_rating,
			created_at, updated_at, completed_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, s.ID, s.RequesterID, s.RequesterName, s.OwnerID, s.OwnerName,
		requestedBook, offeredBooks, string(s.Status), s.Message, history,
		meeting, confirmation, requesterRating, ownerRating,
		s.CreatedAt, s.UpdatedAt, s.CompletedAt, s.Version)

	if err != nil {
		return fmt.Errorf("ошибка при сохранении обмена: %w", err)
	}
	return nil
}

// Get возвращает обмен по ID
func (st *SwapStore) Get(ctx context.Context, id uuid.UUID) (*models.Swap, error) {
	row := Pool.QueryRow(ctx, `
		SELECT id, requester_id, requester_name, owner_id, owner_name,
			requested_book, offered_books, status, message, negotiation_history,
			meeting, confirmation, requester_rating, owner_rating,
			created_at, updated_at, completed_at, version
		FROM swaps
		WHERE id = $1
	`, id)

	s, err := scanSwap(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, &swap.NotFoundError{Kind: "swap", ID: id}
		}
		return nil, fmt.Errorf("ошибка при получении обмена: %w", err)
	}
	return s, nil
}

// Update записывает обмен с проверкой версии: при несовпадении версии
// возвращается swap.ErrVersionConflict, и вызывающий код перечитывает запись
func (st *SwapStore) Update(ctx context.Context, s *models.Swap) error {
	requestedBook, offeredBooks, history, meeting, confirmation, requesterRating, ownerRating, err := marshalSwapFields(s)
	if err != nil {
		return err
	}

	tag, err := Pool.Exec(ctx, `
		UPDATE swaps
		SET requested_book = $2, offered_books = $3, status = $4, message = $5,
			negotiation_history = $6, meeting = $7, confirmation = $8,
			requester_rating = $9, owner_rating = $10,
			updated_at = $11, completed_at = $12, version = version + 1
		WHERE id = $1 AND version = $13
	`, s.ID, requestedBook, offeredBooks, string(s.Status), s.Message,
		history, meeting, confirmation, requesterRating, ownerRating,
		s.UpdatedAt, s.CompletedAt, s.Version)

	if err != nil {
		return fmt.Errorf("ошибка при обновлении обмена: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Либо запись изменена конкурентно, либо её нет
		var exists bool
		if err := Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM swaps WHERE id = $1)`, s.ID).Scan(&exists); err != nil {
			return fmt.Errorf("ошибка при проверке существования обмена: %w", err)
		}
		if !exists {
			return &swap.NotFoundError{Kind: "swap", ID: s.ID}
		}
		return swap.ErrVersionConflict
	}

	s.Version++
	return nil
}

// ListForUser возвращает обмены пользователя по фильтру
func (st *SwapStore) ListForUser(ctx context.Context, userID uuid.UUID, filter swap.ListFilter) ([]models.Swap, error) {
	query := `
		SELECT id, requester_id, requester_name, owner_id, owner_name,
			requested_book, offered_books, status, message, negotiation_history,
			meeting, confirmation, requester_rating, owner_rating,
			created_at, updated_at, completed_at, version
		FROM swaps
	`
	var args []interface{}

	switch filter.Type {
	case swap.ListSent:
		query += ` WHERE requester_id = $1`
		args = append(args, userID)
	case swap.ListReceived:
		query += ` WHERE owner_id = $1`
		args = append(args, userID)
	default:
		query += ` WHERE (requester_id = $1 OR owner_id = $1)`
		args = append(args, userID)
	}

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, len(args)+1)
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка при запросе обменов: %w", err)
	}
	defer rows.Close()

	var swaps []models.Swap
	for rows.Next() {
		s, err := scanSwap(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка при сканировании обмена: %w", err)
		}
		swaps = append(swaps, *s)
	}
	return swaps, rows.Err()
}

// HasActiveForBook проверяет наличие незавершённого обмена пары
// (запрашивающий, книга)
func (st *SwapStore) HasActiveForBook(ctx context.Context, requesterID, bookID uuid.UUID) (bool, error) {
	var exists bool
	err := Pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM swaps
			WHERE requester_id = $1
			  AND requested_book->>'book_id' = $2
			  AND status IN ('pending', 'accepted', 'in_progress')
		)
	`, requesterID, bookID.String()).Scan(&exists)

	if err != nil {
		return false, fmt.Errorf("ошибка при проверке активной заявки: %w", err)
	}
	return exists, nil
}

// HasActiveBetween проверяет наличие незавершённого обмена между двумя
// пользователями в любом направлении
func (st *SwapStore) HasActiveBetween(ctx context.Context, userA, userB uuid.UUID) (bool, error) {
	var exists bool
	err := Pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM swaps
			WHERE ((requester_id = $1 AND owner_id = $2) OR (requester_id = $2 AND owner_id = $1))
			  AND status IN ('pending', 'accepted', 'in_progress')
		)
	`, userA, userB).Scan(&exists)

	if err != nil {
		return false, fmt.Errorf("ошибка при проверке активного обмена между пользователями: %w", err)
	}
	return exists, nil
}

// marshalSwapFields сериализует JSONB-поля обмена
func marshalSwapFields(s *models.Swap) (requestedBook, offeredBooks, history, meeting, confirmation, requesterRating, ownerRating []byte, err error) {
	if requestedBook, err = json.Marshal(s.RequestedBook); err != nil {
		return nil, nil, nil, nil, nil, nil, nil, fmt.Errorf("ошибка при сериализации запрошенной книги: %w", err)
	}
	if offeredBooks, err = json.Marshal(s.OfferedBooks); err != nil {
		return nil, nil, nil, nil, nil, nil, nil, fmt.Errorf("ошибка при сериализации предлагаемых книг: %w", err)
	}
	if history, err = json.Marshal(s.NegotiationHistory); err != nil {
		return nil, nil, nil, nil, nil, nil, nil, fmt.Errorf("ошибка при сериализации журнала переговоров: %w", err)
	}
	if confirmation, err = json.Marshal(s.Confirmation); err != nil {
		return nil, nil, nil, nil, nil, nil, nil, fmt.Errorf("ошибка при сериализации подтверждений: %w", err)
	}
	if s.Meeting != nil {
		if meeting, err = json.Marshal(s.Meeting); err != nil {
			return nil, nil, nil, nil, nil, nil, nil, fmt.Errorf("ошибка при сериализации встречи: %w", err)
		}
	}
	if s.RequesterRating != nil {
		if requesterRating, err = json.Marshal(s.RequesterRating); err != nil {
			return nil, nil, nil, nil, nil, nil, nil, fmt.Errorf("ошибка при сериализации оценки: %w", err)
		}
	}
	if s.OwnerRating != nil {
		if ownerRating, err = json.Marshal(s.OwnerRating); err != nil {
			return nil, nil, nil, nil, nil, nil, nil, fmt.Errorf("ошибка при сериализации оценки: %w", err)
		}
	}
	return requestedBook, offeredBooks, history, meeting, confirmation, requesterRating, ownerRating, nil
}

// scanSwap читает обмен из строки результата
func scanSwap(row pgx.Row) (*models.Swap, error) {
	var s models.Swap
	var status, message pgtype.Text
	var requestedBook, offeredBooks, history, meeting, confirmation, requesterRating, ownerRating []byte
	var completedAt pgtype.Timestamptz

	err := row.Scan(
		&s.ID, &s.RequesterID, &s.RequesterName, &s.OwnerID, &s.OwnerName,
		&requestedBook, &offeredBooks, &status, &message, &history,
		&meeting, &confirmation, &requesterRating, &ownerRating,
		&s.CreatedAt, &s.UpdatedAt, &completedAt, &s.Version,
	)
	if err != nil {
		return nil, err
	}

	s.Status = models.SwapStatus(status.String)
	if message.Valid {
		s.Message = message.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		s.CompletedAt = &t
	}

	if err := json.Unmarshal(requestedBook, &s.RequestedBook); err != nil {
		return nil, fmt.Errorf("ошибка при разборе запрошенной книги: %w", err)
	}
	if err := json.Unmarshal(offeredBooks, &s.OfferedBooks); err != nil {
		return nil, fmt.Errorf("ошибка при разборе предлагаемых книг: %w", err)
	}
	if err := json.Unmarshal(history, &s.NegotiationHistory); err != nil {
		return nil, fmt.Errorf("ошибка при разборе журнала переговоров: %w", err)
	}
	if err := json.Unmarshal(confirmation, &s.Confirmation); err != nil {
		return nil, fmt.Errorf("ошибка при разборе подтверждений: %w", err)
	}
	if len(meeting) > 0 {
		s.Meeting = &models.MeetingDetails{}
		if err := json.Unmarshal(meeting, s.Meeting); err != nil {
			return nil, fmt.Errorf("ошибка при разборе встречи: %w", err)
		}
	}
	if len(requesterRating) > 0 {
		s.RequesterRating = &models.Rating{}
		if err := json.Unmarshal(requesterRating, s.RequesterRating); err != nil {
			return nil, fmt.Errorf("ошибка при разборе оценки: %w", err)
		}
	}
	if len(ownerRating) > 0 {
		s.OwnerRating = &models.Rating{}
		if err := json.Unmarshal(ownerRating, s.OwnerRating); err != nil {
			return nil, fmt.Errorf("ошибка при разборе оценки: %w", err)
		}
	}

	return &s, nil
}
