package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stemsi/exstem-proctor/internal/model"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

func dialSession(t *testing.T, srv *httptest.Server, sid, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/student/sessions/" + sid + "/stream?token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

func TestSessionStream(t *testing.T) {
	r := newTestRouter(t, fakeAttempts{})
	srv := httptest.NewServer(r)
	defer srv.Close()

	token := studentToken(t, 11)
	sid := startSession(t, r, uuid.New(), token)

	conn, _, err := dialSession(t, srv, sid, token)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	index := 0
	steps := []struct {
		name string
		send ws.RequestPayload
		want ws.Event
	}{
		{"ping", ws.RequestPayload{Action: ws.ActionPing}, ws.EventPong},
		{"autosave", ws.RequestPayload{Action: ws.ActionAutosave, Index: &index, Answer: "B"}, ws.EventSaved},
		{"autosave without index", ws.RequestPayload{Action: ws.ActionAutosave, Answer: "B"}, ws.EventError},
		{"bad violation", ws.RequestPayload{Action: ws.ActionViolation, Type: "copy_paste"}, ws.EventError},
		{"tab change", ws.RequestPayload{Action: ws.ActionViolation, Type: model.ViolationTabChange}, ws.EventRecorded},
		{"unknown action", ws.RequestPayload{Action: "dance"}, ws.EventError},
	}
	for _, step := range steps {
		if err := conn.WriteJSON(step.send); err != nil {
			t.Fatalf("%s: write: %v", step.name, err)
		}
		var got map[string]any
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("%s: read: %v", step.name, err)
		}
		if got["event"] != string(step.want) {
			t.Fatalf("%s: event = %v, want %s (%v)", step.name, got["event"], step.want, got)
		}
		if step.name == "tab change" && got["tab_change_count"] != float64(1) {
			t.Errorf("tab_change_count = %v, want 1", got["tab_change_count"])
		}
	}

	if err := conn.WriteJSON(ws.RequestPayload{Action: ws.ActionSubmit}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	var graded ws.GradedResponse
	if err := conn.ReadJSON(&graded); err != nil {
		t.Fatalf("read graded: %v", err)
	}
	if graded.Event != ws.EventGraded || graded.Score != 1 || graded.TotalQuestions != 2 {
		t.Errorf("graded = %+v, want 1/2", graded)
	}
	if graded.CompletionReason != model.CompletionSubmitted {
		t.Errorf("completion_reason = %q", graded.CompletionReason)
	}

	// The server closes the stream after grading.
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected stream to close after submit")
	}
}

func TestSessionStreamRejectsBeforeUpgrade(t *testing.T) {
	r := newTestRouter(t, fakeAttempts{})
	srv := httptest.NewServer(r)
	defer srv.Close()

	sid := startSession(t, r, uuid.New(), studentToken(t, 1))

	tests := []struct {
		name  string
		sid   string
		token string
		want  int
	}{
		{"not owner", sid, studentToken(t, 2), http.StatusForbidden},
		{"unknown session", uuid.NewString(), studentToken(t, 1), http.StatusNotFound},
		{"no token", sid, "", http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, resp, err := dialSession(t, srv, tc.sid, tc.token)
			if err == nil {
				t.Fatal("expected handshake to fail")
			}
			if resp == nil || resp.StatusCode != tc.want {
				t.Fatalf("handshake response = %v, want status %d", resp, tc.want)
			}
		})
	}
}
