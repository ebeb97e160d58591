package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ZentaChain/zentalk-client/pkg/client"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The API binds to localhost for a local front-end
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	eventWriteTimeout = 10 * time.Second
	eventPingInterval = 30 * time.Second

	// eventBuffer bounds the per-connection queue; a front-end that
	// stops reading is disconnected rather than allowed to stall the bus
	eventBuffer = 64
)

// handleEvents streams bus events to a websocket front-end
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("⚠️ Event stream upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events := make(chan client.Event, eventBuffer)
	dropped := make(chan struct{})
	unsub := s.client.Subscribe(func(ev client.Event) {
		select {
		case events <- ev:
		default:
			select {
			case <-dropped:
			default:
				close(dropped)
			}
		}
	})
	defer unsub()

	// Reader goroutine only detects the peer going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventPingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-events:
			conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-dropped:
			log.Println("⚠️ Event stream client too slow, disconnecting")
			return
		case <-gone:
			return
		}
	}
}
