package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"sniper-core/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamed are the lifecycle topics pushed to websocket clients.
var streamed = []events.Event{
	events.EventTradeOpened,
	events.EventTradeClosed,
	events.EventIncident,
	events.EventHaltChanged,
}

type wsMessage struct {
	Event events.Event `json:"event"`
	Data  any          `json:"data"`
}

func (s *Server) websocket(c *gin.Context) {
	if s.bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":  "BUS_NOT_READY",
			"error": "event stream unavailable",
		})
		return
	}
	out := make(chan wsMessage, 64)
	for _, topic := range streamed {
		ch, unsub := s.bus.Subscribe(topic, 32)
		defer unsub()
		go func(topic events.Event, ch <-chan any) {
			for payload := range ch {
				select {
				case out <- wsMessage{Event: topic, Data: payload}:
				default:
				}
			}
		}(topic, ch)
	}

	// Subscriptions exist before the handshake completes so nothing
	// published after the client connects is missed.
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	// Reader goroutine notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	operator := CurrentOperator(c)
	s.logger.Info().Str("operator", operator).Msg("ws client connected")
	for {
		select {
		case <-closed:
			s.logger.Info().Str("operator", operator).Msg("ws client disconnected")
			return
		case msg := <-out:
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Warn().Err(err).Msg("ws write failed")
				return
			}
		}
	}
}
