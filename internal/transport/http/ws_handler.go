package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/auth"
	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/logger"
)

type WSHandler struct {
	service  *app.QuizService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.QuizService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type wsErrorPayload struct {
	Status int `json:"status"`
	errorPayload
}

type expiredPayload struct {
	SessionID uuid.UUID `json:"sessionId"`
}

// deadlineWatch pushes an "expired" message when the watched session runs out of time.
type deadlineWatch struct {
	mu        sync.Mutex
	timer     *time.Timer
	sessionID uuid.UUID
}

func (d *deadlineWatch) watch(sessionID uuid.UUID, after time.Duration, fire func(uuid.UUID)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	if after < 0 {
		after = 0
	}
	d.sessionID = sessionID
	d.timer = time.AfterFunc(after, func() { fire(sessionID) })
}

func (d *deadlineWatch) forget(sessionID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil && d.sessionID == sessionID {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *deadlineWatch) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// ServeWS upgrades authenticated requests to websockets and wires them into the quiz use cases.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorPayload{Error: "unauthorized"})
		return
	}
	log := logger.WithContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	// cancelled once the socket closes
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for {
			select {
			case msg := <-send:
				if err := conn.WriteJSON(msg); err != nil {
					log.WithError(err).Debug("ws write error")
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	push := func(msgType string, payload any) {
		select {
		case send <- outboundMessage{Type: msgType, Payload: payload}:
		case <-writerDone:
		case <-closeSignals:
		}
	}
	pushErr := func(err error) {
		status, body := classify(err)
		if status == http.StatusInternalServerError {
			log.WithError(err).Error("ws request failed")
		}
		push("error", wsErrorPayload{Status: status, errorPayload: body})
	}

	deadline := &deadlineWatch{}
	expire := func(sessionID uuid.UUID) {
		push("expired", expiredPayload{SessionID: sessionID})
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "start":
			var req startRequest
			lessonID, err := decodeStart(inbound.Payload, &req)
			if err != nil {
				pushErr(err)
				continue
			}
			result, err := h.service.StartSession(ctx, userID, lessonID)
			if err != nil {
				pushErr(err)
				continue
			}
			deadline.watch(result.SessionID, time.Until(result.ExpiresAt), expire)
			push("started", result)
		case "answer":
			var req answerRequest
			if err := decodeJSON(inbound.Payload, &req); err != nil {
				pushErr(err)
				continue
			}
			sessionID, err := parseUUID(req.SessionID, "sessionId")
			if err != nil {
				pushErr(err)
				continue
			}
			sub, err := req.submission(sessionID)
			if err != nil {
				pushErr(err)
				continue
			}
			result, err := h.service.SubmitAnswer(ctx, userID, sub)
			if err != nil {
				pushErr(err)
				continue
			}
			push("answerResult", result)
		case "finish":
			var req sessionRequest
			if err := decodeJSON(inbound.Payload, &req); err != nil {
				pushErr(err)
				continue
			}
			sessionID, err := parseUUID(req.SessionID, "sessionId")
			if err != nil {
				pushErr(err)
				continue
			}
			result, err := h.service.FinishSession(ctx, userID, sessionID)
			if err != nil {
				pushErr(err)
				continue
			}
			deadline.forget(sessionID)
			push("finished", result)
		case "active":
			active, err := h.service.ActiveSession(ctx, userID)
			if err != nil {
				pushErr(err)
				continue
			}
			if active != nil {
				deadline.watch(active.SessionID, time.Duration(active.SecondsRemaining)*time.Second, expire)
			}
			push("active", active)
		default:
			pushErr(badRequest("unsupported message type %q", inbound.Type))
		}
	}

	deadline.stop()
	close(closeSignals)
	<-writerDone
}

func decodeStart(payload json.RawMessage, req *startRequest) (domain.LessonID, error) {
	if err := decodeJSON(payload, req); err != nil {
		return 0, err
	}
	return req.lessonID()
}
