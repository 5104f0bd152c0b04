package handlers

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/validation"
)

const (
	chatWriteWait = 10 * time.Second
	chatPongWait  = 60 * time.Second
	chatPingEvery = (chatPongWait * 9) / 10
	chatQueueSize = 32
)

var chatUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type chatOutbound struct {
	Type    string `json:"type"`
	Result  any    `json:"result,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// chat serves a conversational checkout over a websocket. Each frame is a
// validation.ChatMessage; answers arrive as "<type>_result" or "error".
// start, turn and complete frames run one at a time in arrival order.
// cancel skips the queue so it can interrupt a slow turn.
func (a *api) chat(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": "user_id is required"})
		return
	}

	conn, err := chatUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	log := a.log.WithField("user_id", userID)
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(chatPongWait)); err != nil {
		log.WithError(err).Warn("chat: set read deadline failed")
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(chatPongWait))
	})

	writeCh := make(chan chatOutbound, chatQueueSize)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		// unblocks the reader when a write fails
		defer conn.Close()
		ticker := time.NewTicker(chatPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(chatWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(chatWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	var inflight sync.WaitGroup
	ops := make(chan validation.ChatMessage, chatQueueSize)
	inflight.Add(1)
	go func() {
		defer inflight.Done()
		for in := range ops {
			pushChat(writeCh, a.dispatchChat(ctx, log, userID, in))
		}
	}()
	defer func() {
		cancel()
		close(ops)
		inflight.Wait()
		<-writerDone
	}()

	for {
		var in validation.ChatMessage
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Debug("chat: connection closed")
			}
			return
		}
		in.Type = strings.ToLower(strings.TrimSpace(in.Type))
		if err := a.v.Struct(in); err != nil {
			pushChat(writeCh, chatOutbound{Type: "error", Code: "invalid_request", Message: err.Error()})
			continue
		}
		if in.Type == "ping" {
			pushChat(writeCh, chatOutbound{Type: "pong"})
			continue
		}

		if in.Type == "cancel" {
			inflight.Add(1)
			go func(in validation.ChatMessage) {
				defer inflight.Done()
				pushChat(writeCh, a.dispatchChat(ctx, log, userID, in))
			}(in)
			continue
		}
		select {
		case ops <- in:
		case <-ctx.Done():
			return
		}
	}
}

func (a *api) dispatchChat(ctx context.Context, log logrus.FieldLogger, userID string, in validation.ChatMessage) chatOutbound {
	var (
		res any
		err error
	)
	switch in.Type {
	case "start":
		res, err = a.svc.Start(ctx, userID, strings.TrimSpace(in.ProductKey))
	case "turn":
		res, err = a.svc.Turn(ctx, userID, in.Utterance)
	case "complete":
		res, err = a.svc.Complete(ctx, userID)
	case "cancel":
		res, err = a.svc.Cancel(ctx, userID)
	}
	if err != nil {
		status, kind := errorStatus(err)
		if status >= http.StatusInternalServerError {
			log.WithError(err).WithField("type", in.Type).Error("chat: operation failed")
		}
		return chatOutbound{Type: "error", Code: kind, Message: err.Error()}
	}
	return chatOutbound{Type: in.Type + "_result", Result: res}
}

// pushChat queues out, dropping the oldest pending frame when the writer
// falls behind.
func pushChat(writeCh chan chatOutbound, out chatOutbound) {
	select {
	case writeCh <- out:
		return
	default:
	}
	select {
	case <-writeCh:
	default:
	}
	select {
	case writeCh <- out:
	default:
	}
}
