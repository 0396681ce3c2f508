// A broadcast-only websocket hub used to push library activity (fetch and
// download updates) to connected clients.
package websocket

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/offtube/offtube/pkg/logger"
)

var socketLogger = logger.Get("WebSocket")

// clientSendBuffer bounds the per-client outbound queue; clients that fall
// this far behind start dropping updates rather than blocking the hub.
const clientSendBuffer = 32

type (
	// SocketHub manages websocket upgrading, client registration and the
	// fan-out of broadcast messages.
	SocketHub struct {
		upgrader           *websocket.Upgrader
		clients            []*socketClient
		registerCh         chan *socketClient
		deregisterCh       chan *socketClient
		sendCh             chan *SocketMessage
		connectionCallback func() map[string]any
		running            bool
	}

	socketClient struct {
		id     uuid.UUID
		socket *websocket.Conn
		sendCh chan *SocketMessage
	}
)

func New() *SocketHub {
	return &SocketHub{
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		registerCh:   make(chan *socketClient),
		deregisterCh: make(chan *socketClient),
		sendCh:       make(chan *SocketMessage, 64),
	}
}

// WithConnectionCallback sets a callback executed for each newly connected
// client; its return value is delivered as the WELCOME payload so clients
// see current state without waiting for the next update.
func (hub *SocketHub) WithConnectionCallback(callback func() map[string]any) {
	hub.connectionCallback = callback
}

// Send queues a message for broadcast to all connected clients. Safe to
// call from any goroutine; drops the message if the hub's queue is full.
func (hub *SocketHub) Send(message *SocketMessage) {
	select {
	case hub.sendCh <- message:
	default:
		socketLogger.Emit(logger.WARNING, "Activity hub send queue is full, dropping %s message\n", message.Title)
	}
}

// UpgradeToSocket upgrades the provided HTTP request to a websocket
// connection and registers the resulting client with the hub.
func (hub *SocketHub) UpgradeToSocket(w http.ResponseWriter, r *http.Request) {
	socket, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		socketLogger.Emit(logger.ERROR, "Failed to upgrade connection to websocket: %v\n", err)
		return
	}

	client := &socketClient{
		id:     uuid.New(),
		socket: socket,
		sendCh: make(chan *SocketMessage, clientSendBuffer),
	}

	go client.writePump()
	go func() {
		// The read pump only exists to observe the close; inbound
		// messages are not part of this hub's protocol.
		for {
			if _, _, err := socket.ReadMessage(); err != nil {
				hub.deregisterCh <- client
				return
			}
		}
	}()

	hub.registerCh <- client
}

// Start runs the hub loop until the provided context is cancelled.
func (hub *SocketHub) Start(ctx context.Context) {
	if hub.running {
		socketLogger.Emit(logger.WARNING, "Attempt to start an already running activity hub ignored\n")
		return
	}
	hub.running = true
	socketLogger.Emit(logger.INFO, "Activity websocket hub started\n")

	for {
		select {
		case message := <-hub.sendCh:
			for _, client := range hub.clients {
				client.trySend(message)
			}
		case client := <-hub.registerCh:
			hub.clients = append(hub.clients, client)
			socketLogger.Emit(logger.NEW, "Registered new activity client {%v}\n", client.id)

			if hub.connectionCallback != nil {
				client.trySend(&SocketMessage{Title: "CONNECTION_ESTABLISHED", Type: Welcome, Body: hub.connectionCallback()})
			}
		case client := <-hub.deregisterCh:
			hub.removeClient(client)
		case <-ctx.Done():
			for _, client := range hub.clients {
				client.close()
			}
			hub.clients = nil
			hub.running = false
			socketLogger.Emit(logger.STOP, "Activity websocket hub stopped\n")
			return
		}
	}
}

func (hub *SocketHub) removeClient(client *socketClient) {
	for k, candidate := range hub.clients {
		if candidate.id == client.id {
			hub.clients = append(hub.clients[:k], hub.clients[k+1:]...)
			client.close()
			socketLogger.Emit(logger.REMOVE, "Deregistered activity client {%v}\n", client.id)
			return
		}
	}
}

func (client *socketClient) writePump() {
	for message := range client.sendCh {
		if err := client.socket.WriteJSON(message); err != nil {
			socketLogger.Emit(logger.WARNING, "Failed to write to activity client {%v}: %v\n", client.id, err)
			return
		}
	}
}

func (client *socketClient) trySend(message *SocketMessage) {
	select {
	case client.sendCh <- message:
	default:
		socketLogger.Emit(logger.WARNING, "Activity client {%v} is not keeping up, dropping message\n", client.id)
	}
}

func (client *socketClient) close() {
	close(client.sendCh)
	client.socket.Close()
}
