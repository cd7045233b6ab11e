package websocket

import (
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/bookswap-api/internal/swap"
)

// Notify доставляет событие жизненного цикла обмена пользователю через
// его открытые WebSocket-соединения. Если пользователь офлайн, событие
// теряется: состояние обмена он увидит при следующем запросе.
func (m *Manager) Notify(userID uuid.UUID, event swap.Event) {
	eventType := EventSwapUpdate
	if event.Kind == swap.EventReceiptPending {
		eventType = EventReceiptPending
	}

	m.SendToUser(userID.String(), Event{
		Type:      eventType,
		SwapID:    event.SwapID.String(),
		Timestamp: time.Now(),
	})
}
