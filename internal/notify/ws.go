package notify

import (
	"context"
	"net/http"
	"time"

	"cmdgate/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // clients authenticate with the API key, not an origin
	},
}

// WSHandler upgrades an authenticated request to a websocket session fed
// from the hub. The API key comes from the ?api_key query parameter or the
// X-API-KEY header. Events are written as JSON text messages; the client
// may send "ping" and receives "pong".
func (h *Hub) WSHandler(store domain.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("api_key")
		if key == "" {
			key = r.Header.Get("X-API-KEY")
		}
		if key == "" {
			http.Error(w, "missing API key", http.StatusUnauthorized)
			return
		}

		user, err := store.GetUserByAPIKey(r.Context(), key)
		if err != nil {
			http.Error(w, "invalid API key", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Error("websocket upgrade failed", "err", err)
			return
		}

		sessionID := uuid.NewString()
		events := h.Subscribe(sessionID, user.ID, user.Role)

		ctx, cancel := context.WithCancel(context.Background())

		// Writer: pump hub events to the connection.
		go func() {
			defer conn.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-events:
					if !ok {
						return
					}
					conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteJSON(ev); err != nil {
						h.logger.Debug("websocket write failed", "session_id", sessionID, "err", err)
						return
					}
				}
			}
		}()

		// Reader: detect disconnect, answer pings.
		go func() {
			defer func() {
				cancel()
				h.Unsubscribe(sessionID)
				conn.Close()
			}()
			for {
				_, message, err := conn.ReadMessage()
				if err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						h.logger.Debug("websocket read error", "session_id", sessionID, "err", err)
					}
					return
				}
				if string(message) == "ping" {
					conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, []byte("pong")); err != nil {
						return
					}
				}
			}
		}()
	}
}
