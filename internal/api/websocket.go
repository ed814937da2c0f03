package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"copier-core/internal/events"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsMessage is the envelope pushed to WebSocket clients.
type wsMessage struct {
	Event events.Event `json:"event"`
	Data  any          `json:"data"`
}

// wsTopics returns the topics named in the comma separated topics query
// parameter, or every topic when it is absent.
func wsTopics(raw string) []events.Event {
	if strings.TrimSpace(raw) == "" {
		return events.Topics
	}
	known := make(map[events.Event]bool, len(events.Topics))
	for _, t := range events.Topics {
		known[t] = true
	}
	var out []events.Event
	seen := make(map[events.Event]bool)
	for _, part := range strings.Split(raw, ",") {
		t := events.Event(strings.TrimSpace(part))
		if known[t] && !seen[t] {
			out = append(out, t)
			seen[t] = true
		}
	}
	return out
}

// websocket streams bus events. Each subscription first replays the current
// state of its topic so a client never waits for the next change.
func (s *Server) websocket(c *gin.Context) {
	topics := wsTopics(c.Query("topics"))
	if len(topics) == 0 {
		respondError(c, http.StatusBadRequest, "INVALID_TOPICS", "no known topic requested")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Warn("WebSocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The read side only detects the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	out := make(chan wsMessage, 64)
	var wg sync.WaitGroup
	for _, topic := range topics {
		stream, unsub := s.Engine.Subscribe(topic, 16)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-stream:
					if !ok {
						return
					}
					select {
					case out <- wsMessage{Event: topic, Data: payload}:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}
	defer wg.Wait()
	defer cancel()

	s.Logger.Debug("WebSocket client connected", slog.Int("topics", len(topics)))
	for {
		select {
		case <-ctx.Done():
			s.Logger.Debug("WebSocket client disconnected")
			return
		case msg := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				s.Logger.Debug("WebSocket write failed", slog.Any("error", err))
				return
			}
		}
	}
}
