package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoochat/internal/logger"
	"github.com/yoockh/yoochat/internal/notify"
	"github.com/yoockh/yoochat/internal/services"
	"github.com/yoockh/yoochat/internal/utils"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// WSHandler relays a user's notification channel to their websocket and
// accepts typing/send/stop commands over the same connection.
type WSHandler struct {
	chat     services.ChatService
	redis    *redis.Client
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

func NewWSHandler(chat services.ChatService, rdb *redis.Client, l *logrus.Logger) *WSHandler {
	return &WSHandler{
		chat:  chat,
		redis: rdb,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // TODO: restrict origin in prod
		},
		log: logger.Component(l, "ws"),
	}
}

type wsClientMsg struct {
	Type    string `json:"type"` // typing|send|stop
	Message string `json:"message,omitempty"`
}

type wsErrorMsg struct {
	Type    string     `json:"type"`
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) write(mt int, b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.c.WriteMessage(mt, b)
}

func (w *wsConn) writeError(err error) {
	msg := wsErrorMsg{Type: notify.TypeError, Code: utils.CodeOf(err), Message: "request failed"}
	var ae *utils.AppError
	if errors.As(err, &ae) {
		msg.Message = ae.Message
	}
	b, _ := json.Marshal(msg)
	_ = w.write(websocket.TextMessage, b)
}

func (h *WSHandler) ChatWS(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := h.log.WithField("user_id", userID)
	log.Debug("websocket opened")

	// Subscribe Redis -> WS
	pubsub := h.redis.Subscribe(ctx, notify.UserChannel(userID), notify.StatusChannel)
	defer pubsub.Close()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		h.readLoop(ctx, wc, userID)
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	msgs := pubsub.Channel()

	for {
		select {
		case <-readDone:
			log.Debug("websocket closed")
			return
		case <-ping.C:
			if err := wc.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case m, ok := <-msgs:
			if !ok {
				return
			}
			// forward as-is (payload is a notify.Event)
			if err := wc.write(websocket.TextMessage, []byte(m.Payload)); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) readLoop(ctx context.Context, wc *wsConn, userID string) {
	conn := wc.c
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg wsClientMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			wc.writeError(utils.E(utils.CodeInvalidArgument, "WSHandler.ChatWS", "invalid json", err))
			continue
		}

		switch msg.Type {
		case "typing":
			err = h.chat.OnUserTyping(ctx, userID)
		case "send":
			err = h.chat.OnUserSend(ctx, userID, msg.Message)
		case "stop":
			err = h.chat.OnUserStop(ctx, userID)
		default:
			err = utils.E(utils.CodeInvalidArgument, "WSHandler.ChatWS", "unknown message type", nil)
		}
		if err != nil {
			wc.writeError(err)
		}
	}
}
