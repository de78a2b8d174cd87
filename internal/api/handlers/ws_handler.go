package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jastalk/jastalk/internal/interview"
	"github.com/jastalk/jastalk/internal/utils"
	"github.com/jastalk/jastalk/internal/workers"
)

// WSHandler is the real-time front door of a live interview. The
// client sends utterances (text or audio), turn controls, and
// lifecycle commands; replies stream back from the worker pool via
// Redis pub/sub.
type WSHandler struct {
	manager  *interview.Manager
	redis    *redis.Client
	log      *logrus.Logger
	stream   string
	upgrader websocket.Upgrader
}

func NewWSHandler(manager *interview.Manager, rdb *redis.Client, log *logrus.Logger) *WSHandler {
	if log == nil {
		log = logrus.New()
	}
	return &WSHandler{
		manager: manager,
		redis:   rdb,
		log:     log,
		stream:  workers.DefaultUtteranceStream,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // TODO: restrict origin in prod
		},
	}
}

type wsClientMsg struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	AudioBase64 string `json:"audio_base64"`
	Language    string `json:"language"`
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeText(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.writeText(b)
}

func (h *WSHandler) InterviewWS(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	sessionID := c.Param("session_id")
	if sessionID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "WSHandler.InterviewWS", "missing session_id", nil))
		return
	}

	// Open authorizes ownership and enforces one live interview per user.
	ctrl, err := h.manager.Open(c.Request.Context(), userID, sessionID)
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	respCh := "session:" + sessionID + ":response"
	statusCh := "session:" + sessionID + ":status"

	pubsub := h.redis.Subscribe(ctx, respCh, statusCh)
	defer pubsub.Close()

	var seq atomic.Int64

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})

		for {
			_, data, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}

			var msg wsClientMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				_ = wc.writeText([]byte(`{"type":"error","code":"INVALID_ARGUMENT","message":"invalid json"}`))
				continue
			}

			switch msg.Type {
			case "user_text":
				if msg.Text == "" {
					_ = wc.writeText([]byte(`{"type":"error","code":"INVALID_ARGUMENT","message":"text required"}`))
					continue
				}
				ctrl.RecordUserTurn(msg.Text)
				h.enqueueUtterance(ctx, wc, ctrl, sessionID, seq.Add(1), msg.Text, "", msg.Language)

			case "user_audio":
				if msg.AudioBase64 == "" {
					_ = wc.writeText([]byte(`{"type":"error","code":"INVALID_ARGUMENT","message":"audio_base64 required"}`))
					continue
				}
				h.enqueueUtterance(ctx, wc, ctrl, sessionID, seq.Add(1), "", msg.AudioBase64, msg.Language)

			case "next_question":
				idx := ctrl.AdvanceQuestion()
				q, _ := ctrl.CurrentQuestion()
				_ = wc.writeJSON(map[string]any{
					"type":     "question",
					"index":    idx,
					"question": q,
				})

			case "pause":
				if err := ctrl.Pause(ctx); err != nil {
					h.writeWSError(wc, err)
					continue
				}
				_ = wc.writeText([]byte(`{"type":"status","status":"paused","message":"interview paused"}`))

			case "resume":
				ctrl.SetAutoResume(true)
				if err := ctrl.Resume(ctx); err != nil {
					h.writeWSError(wc, err)
					continue
				}
				_ = wc.writeText([]byte(`{"type":"status","status":"active","message":"interview resumed"}`))

			case "finish":
				if err := ctrl.Finish(ctx); err != nil {
					h.writeWSError(wc, err)
					continue
				}
				h.manager.Release(userID)
				_ = wc.writeText([]byte(`{"type":"status","status":"finished","message":"interview finished"}`))
				return

			default:
				_ = wc.writeText([]byte(`{"type":"error","code":"INVALID_ARGUMENT","message":"unknown message type"}`))
			}
		}
	}()

	// Redis pub/sub -> WS. Completed replies are also recorded on the
	// controller so the snapshot and conversation log stay whole.
	for {
		select {
		case <-readDone:
			return
		case <-ctx.Done():
			return
		default:
			m, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				return
			}
			h.interceptReply(ctrl, m.Payload)
			if werr := wc.writeText([]byte(m.Payload)); werr != nil {
				return
			}
		}
	}
}

func (h *WSHandler) enqueueUtterance(ctx context.Context, wc *wsConn, ctrl *interview.Controller, sessionID string, seq int64, text, audioBase64, language string) {
	q, _ := ctrl.CurrentQuestion()

	fields := map[string]any{
		"session_id": sessionID,
		"seq":        strconv.FormatInt(seq, 10),
		"question":   q.Text,
		"ts_unix":    strconv.FormatInt(time.Now().UTC().Unix(), 10),
	}
	if text != "" {
		fields["text"] = text
	}
	if audioBase64 != "" {
		fields["audio_base64"] = audioBase64
	}
	if language != "" {
		fields["language"] = language
	}

	if err := h.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: h.stream,
		Values: fields,
	}).Err(); err != nil {
		h.log.WithError(err).WithField("session_id", sessionID).Warn("failed to enqueue utterance")
		_ = wc.writeText([]byte(`{"type":"error","code":"UNAVAILABLE","message":"failed to enqueue utterance"}`))
		return
	}

	_ = wc.writeJSON(map[string]any{
		"type":    "status",
		"status":  "processing",
		"message": "utterance queued",
		"seq":     seq,
	})
}

// interceptReply records fully streamed agent replies and STT results
// of audio utterances on the controller.
func (h *WSHandler) interceptReply(ctrl *interview.Controller, payload string) {
	var m struct {
		Type         string `json:"type"`
		Text         string `json:"text"`
		FullResponse string `json:"full_response"`
	}
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return
	}
	switch m.Type {
	case "stt_result":
		ctrl.RecordUserTurn(m.Text)
	case "llm_complete":
		ctrl.RecordAgentTurn(m.FullResponse)
	}
}

func (h *WSHandler) writeWSError(wc *wsConn, err error) {
	var code utils.Code = utils.CodeInternal
	msg := "internal error"
	var ae *utils.AppError
	if errors.As(err, &ae) {
		code = ae.Code
		msg = ae.Message
	}
	_ = wc.writeJSON(map[string]any{"type": "error", "code": code, "message": msg})
}
