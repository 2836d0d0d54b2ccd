package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"

	"maskserver/internal/logger"
	wshub "maskserver/internal/services/websocket"
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebsocketHandler subscribes the connection to the hub, pumps queued events
// out, and feeds inbound messages (ping) back to the hub. The connection is
// closed when the hub prunes the client or the peer disconnects.
func WebsocketHandler(hub *wshub.HubService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}
		defer connection.Close()

		client := hub.Subscribe()
		defer hub.Unsubscribe(client)

		// Write pump: hub queue -> socket. Closing the connection on exit
		// unblocks the read loop below.
		go func() {
			defer connection.Close()
			for {
				select {
				case <-client.Done():
					return
				case message := <-client.Receive():
					if err := connection.WriteMessage(websocket.TextMessage, message); err != nil {
						return
					}
				}
			}
		}()

		connection.SetReadLimit(512)

		for {
			_, raw, err := connection.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("Client disconnected normally")
				} else {
					logger.Warning("Client disconnected: %v", err)
				}
				break
			}

			hub.HandleInbound(client, raw)
		}
	}
}
