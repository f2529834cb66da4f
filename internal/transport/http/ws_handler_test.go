package http

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, server *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketSessionFlow(t *testing.T) {
	server := newTestServer(t, 600)
	conn := dialWS(t, server, tokenFor(t, "ws-user"))

	send(t, conn, "start", map[string]any{"lessonId": "1"})
	_, started := readNext(conn, t, "started")
	sessionID, _ := started["sessionId"].(string)
	if sessionID == "" {
		t.Fatalf("expected session id, got %v", started)
	}
	first, _ := started["firstQuestion"].(map[string]any)
	if first["id"] != float64(11) {
		t.Fatalf("expected first question 11, got %v", first)
	}
	if options, _ := first["options"].([]any); len(options) != 2 {
		t.Fatalf("expected 2 options, got %v", first["options"])
	} else if opt, _ := options[0].(map[string]any); opt["correct"] != nil {
		t.Fatalf("correct flag leaked to client: %v", opt)
	}

	send(t, conn, "start", map[string]any{"lessonId": 1})
	_, errPayload := readNext(conn, t, "error")
	if errPayload["error"] != "activeSessionExists" || errPayload["status"] != float64(400) {
		t.Fatalf("expected activeSessionExists, got %v", errPayload)
	}

	send(t, conn, "answer", map[string]any{"sessionId": sessionID, "questionId": 11, "optionId": "112", "secondsRemaining": 30})
	_, result := readNext(conn, t, "answerResult")
	if result["isCorrect"] != false || result["xpAwarded"] != float64(0) {
		t.Fatalf("expected wrong answer, got %v", result)
	}
	next, _ := result["nextQuestion"].(map[string]any)
	if next["id"] != float64(12) {
		t.Fatalf("expected next question 12, got %v", result["nextQuestion"])
	}

	send(t, conn, "active", nil)
	_, active := readNext(conn, t, "active")
	if active["sessionId"] != sessionID {
		t.Fatalf("expected active session %s, got %v", sessionID, active)
	}

	send(t, conn, "finish", map[string]any{"sessionId": sessionID})
	_, finished := readNext(conn, t, "finished")
	if finished["correctCount"] != float64(0) || finished["totalQuestions"] != float64(2) {
		t.Fatalf("unexpected settlement %v", finished)
	}

	send(t, conn, "bogus", nil)
	_, bogus := readNext(conn, t, "error")
	if bogus["error"] != "badRequest" {
		t.Fatalf("expected badRequest, got %v", bogus)
	}
}

func TestWebSocketPushesExpiry(t *testing.T) {
	server := newTestServer(t, 1)
	conn := dialWS(t, server, tokenFor(t, "slow-user"))

	send(t, conn, "start", map[string]any{"lessonId": 1})
	_, started := readNext(conn, t, "started")

	_, expired := readNext(conn, t, "expired")
	if expired["sessionId"] != started["sessionId"] {
		t.Fatalf("expected expiry for %v, got %v", started["sessionId"], expired)
	}

	send(t, conn, "answer", map[string]any{"sessionId": started["sessionId"], "questionId": 11, "optionId": 111})
	_, errPayload := readNext(conn, t, "error")
	if errPayload["error"] != "expired" || errPayload["status"] != float64(403) {
		t.Fatalf("expected expired error, got %v", errPayload)
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	server := newTestServer(t, 600)
	u := "ws" + server.URL[len("http"):] + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected dial without token to fail")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("expected 401, got %v", resp)
	}
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": msgType, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s (%v)", expect, msg.Type, msg.Payload)
	}
	return msg.Type, msg.Payload
}
