package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Hub хранит подключения клиентов, сгруппированные по sessionID.
type Hub struct {
	// Для каждой сессии храним множество подключений.
	clients map[string]map[*Client]bool
	// Канал для регистрации нового клиента.
	register chan *Client
	// Канал для удаления клиента.
	unregister chan *Client
	// Канал для трансляции сообщений по конкретной сессии.
	broadcast chan BroadcastMessage
	// Mutex для защиты карты клиентов.
	mu sync.RWMutex
}

// BroadcastMessage представляет сообщение для рассылки в комнату сессии.
type BroadcastMessage struct {
	SessionID string
	Message   []byte
}

// WSMessage — событие очереди, уходящее подписчикам комнаты.
type WSMessage struct {
	EventType string                 `json:"event_type"`
	SessionID string                 `json:"session_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Создаем глобальный экземпляр хаба.
var HubInstance = NewHub()

// NewHub создает новый Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan BroadcastMessage),
	}
}

// Run запускает цикл обработки каналов хаба.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.SessionID] == nil {
				h.clients[client.SessionID] = make(map[*Client]bool)
			}
			h.clients[client.SessionID][client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.SessionID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.SessionID)
					}
				}
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.RLock()
			if clients, ok := h.clients[message.SessionID]; ok {
				for client := range clients {
					select {
					case client.Send <- message.Message:
					default:
						close(client.Send)
						delete(clients, client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastWSMessage сериализует событие и рассылает его в комнату сессии.
func (h *Hub) BroadcastWSMessage(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Println("Ошибка сериализации WS сообщения:", err)
		return
	}
	h.broadcast <- BroadcastMessage{SessionID: msg.SessionID, Message: data}
}

// Client представляет одно подключение через WebSocket.
type Client struct {
	Hub       *Hub
	Conn      *websocket.Conn
	Send      chan []byte
	SessionID string
}

// readPump читает сообщения из WebSocket-соединения.
// Входящие сообщения не обрабатываются, отслеживается только разрыв соединения.
func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			break
		}
	}
}

// writePump отправляет сообщения клиенту и поддерживает соединение ping-ами.
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Канал закрыт.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			// Отправка ping-сообщения для поддержания соединения.
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Настраиваем апгрейдер для WebSocket с разрешением всех источников.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SessionWebSocketHandler обновляет соединение до WebSocket и регистрирует клиента в Hub.
// URL-пример: /api/sessions/{id}/ws
func SessionWebSocketHandler(c *gin.Context) {
	sessionID := c.Param("id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		http.Error(c.Writer, "Ошибка обновления до WebSocket", http.StatusInternalServerError)
		return
	}
	// Создаем нового клиента
	client := &Client{
		Hub:       HubInstance,
		Conn:      conn,
		Send:      make(chan []byte, 256),
		SessionID: sessionID,
	}
	// Регистрируем клиента в Hub
	HubInstance.register <- client

	// Запускаем горутины для отправки и приема сообщений
	go client.writePump()
	client.readPump()
}
