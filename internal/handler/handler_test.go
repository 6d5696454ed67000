package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/grading"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

const testSecret = "handler-test-secret"

type fakeQuiz struct {
	policy    model.Policy
	questions []model.Question
}

func (q fakeQuiz) PolicyForQuiz(context.Context, uuid.UUID) (model.Policy, error) {
	return q.policy, nil
}

func (q fakeQuiz) QuestionsForQuiz(context.Context, uuid.UUID) ([]model.Question, error) {
	return q.questions, nil
}

type fakeAttempts struct {
	attempts []model.QuizAttempt
}

func (f fakeAttempts) ListByUser(_ context.Context, userID int) ([]model.QuizAttempt, error) {
	var out []model.QuizAttempt
	for _, a := range f.attempts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f fakeAttempts) ListByQuiz(_ context.Context, quizID uuid.UUID) ([]model.QuizAttempt, error) {
	var out []model.QuizAttempt
	for _, a := range f.attempts {
		if a.QuizID == quizID {
			out = append(out, a)
		}
	}
	return out, nil
}

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

func newTestRouter(t *testing.T, attempts fakeAttempts) *gin.Engine {
	t.Helper()
	quiz := fakeQuiz{
		policy: model.Policy{Enabled: true, TabChangeLimit: 1, TimeAwayThresholdSeconds: 30, AutoSubmitOnDisqualification: true},
		questions: []model.Question{
			{Position: 0, QuestionType: model.QuestionTypeMultipleChoice, Choices: []string{"A", "B", "C"}, Answer: "B"},
			{Position: 1, QuestionType: model.QuestionTypeTrueOrFalse, Answer: "true"},
		},
	}
	engine := proctor.NewEngine(proctor.NewMemoryStore(), quiz, quiz, grading.New(grading.EssayExclude), zerolog.Nop())
	proctorService := service.NewProctorService(engine, metrics.New(), zerolog.Nop())
	historyService := service.NewHistoryService(attempts)
	quizService := service.NewQuizService(nil, nil, nil, model.DefaultPolicy(), zerolog.Nop())
	authService := service.NewAuthService(&config.Config{JWTSecret: testSecret})

	sessions := NewSessionHandler(proctorService, historyService)
	intervention := NewInterventionHandler(proctorService)
	policy := NewPolicyHandler(quizService, zerolog.Nop())
	history := NewHistoryHandler(historyService, zerolog.Nop())
	wsh := NewWSHandler(proctorService, zerolog.Nop(), nil)

	r := gin.New()
	r.Use(response.RequestIDMiddleware())

	student := r.Group("/student", middleware.RequireStudentJWT(authService))
	student.POST("/quizzes/:quiz_id/sessions", sessions.StartSession)
	student.GET("/sessions/:session_id", sessions.GetSession)
	student.POST("/sessions/:session_id/events", sessions.RecordEvent)
	student.PUT("/sessions/:session_id/answers/:index", sessions.SaveAnswer)
	student.POST("/sessions/:session_id/submit", sessions.Submit)
	student.GET("/history", sessions.MyHistory)

	r.GET("/ws/student/sessions/:session_id/stream", middleware.RequireStudentWSAuth(authService), wsh.SessionStream)

	teacher := r.Group("/teacher", middleware.RequireTeacherJWT(authService))
	teacher.PUT("/quizzes/:quiz_id/policy", middleware.RequirePermission(model.PermissionPolicyWrite), policy.UpdatePolicy)
	teacher.GET("/quizzes/:quiz_id/history", middleware.RequirePermission(model.PermissionAttemptsRead), history.QuizHistory)
	teacher.POST("/sessions/:session_id/disqualify", middleware.RequirePermission(model.PermissionSessionsIntervene), intervention.Disqualify)
	teacher.POST("/sessions/:session_id/force-submit", middleware.RequirePermission(model.PermissionSessionsIntervene), intervention.ForceSubmit)
	return r
}

func sign(t *testing.T, claims *service.Claims) string {
	t.Helper()
	claims.RegisteredClaims = jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func studentToken(t *testing.T, userID int) string {
	return sign(t, &service.Claims{TokenType: service.TokenTypeStudent, UserID: userID, Name: "Student"})
}

func teacherToken(t *testing.T, perms ...model.Permission) string {
	p := make([]string, len(perms))
	for i, perm := range perms {
		p[i] = string(perm)
	}
	return sign(t, &service.Claims{TokenType: service.TokenTypeTeacher, UserID: 100, Permissions: p})
}

func do(t *testing.T, r http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s %s: %v (%s)", method, path, err, w.Body.String())
	}
	return w, env
}

func startSession(t *testing.T, r http.Handler, quizID uuid.UUID, token string) string {
	t.Helper()
	w, env := do(t, r, http.MethodPost, "/student/quizzes/"+quizID.String()+"/sessions", token, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("start status = %d, body %s", w.Code, w.Body.String())
	}
	var data struct {
		Session model.ProctoringSession `json:"session"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return data.Session.ID.String()
}

func TestSessionFlow(t *testing.T) {
	r := newTestRouter(t, fakeAttempts{})
	token := studentToken(t, 7)
	quizID := uuid.New()

	sid := startSession(t, r, quizID, token)

	w, _ := do(t, r, http.MethodPost, "/student/quizzes/"+quizID.String()+"/sessions", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("second start status = %d, want 200", w.Code)
	}

	for i, ans := range []string{"b", "TRUE"} {
		path := "/student/sessions/" + sid + "/answers/" + strconv.Itoa(i)
		if w, _ := do(t, r, http.MethodPut, path, token, map[string]string{"answer": ans}); w.Code != http.StatusOK {
			t.Fatalf("save answer %d status = %d", i, w.Code)
		}
	}

	w, env := do(t, r, http.MethodPost, "/student/sessions/"+sid+"/events", token, map[string]any{"type": "tab_change"})
	if w.Code != http.StatusOK {
		t.Fatalf("event status = %d, body %s", w.Code, w.Body.String())
	}
	var ev struct {
		Session      model.ProctoringSession `json:"session"`
		Disqualified bool                    `json:"disqualified"`
	}
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Disqualified || ev.Session.TabChangeCount != 1 {
		t.Errorf("event result = %+v, want one tab change and no disqualification", ev)
	}

	w, env = do(t, r, http.MethodPost, "/student/sessions/"+sid+"/submit", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("submit status = %d, body %s", w.Code, w.Body.String())
	}
	var sub struct {
		Attempt model.QuizAttempt `json:"attempt"`
	}
	if err := json.Unmarshal(env.Data, &sub); err != nil {
		t.Fatalf("decode attempt: %v", err)
	}
	if sub.Attempt.Score != 2 || sub.Attempt.Percentage != 100 {
		t.Errorf("attempt = %d (%v%%), want 2 (100%%)", sub.Attempt.Score, sub.Attempt.Percentage)
	}

	w, env = do(t, r, http.MethodPost, "/student/sessions/"+sid+"/submit", token, nil)
	if w.Code != http.StatusOK || env.Error == nil || env.Error.Code != response.ErrSessionCompleted {
		t.Fatalf("resubmit = %d %+v, want 200 with SESSION_COMPLETED", w.Code, env.Error)
	}
	var again struct {
		Attempt model.QuizAttempt `json:"attempt"`
	}
	_ = json.Unmarshal(env.Data, &again)
	if again.Attempt.ID != sub.Attempt.ID {
		t.Errorf("resubmit attempt %s, want original %s", again.Attempt.ID, sub.Attempt.ID)
	}
}

func TestRecordEventValidation(t *testing.T) {
	r := newTestRouter(t, fakeAttempts{})
	token := studentToken(t, 1)
	sid := startSession(t, r, uuid.New(), token)

	tests := []struct {
		name  string
		body  any
		field string
	}{
		{"unknown type", map[string]any{"type": "copy_paste"}, "type"},
		{"missing type", map[string]any{"seconds": 4}, "type"},
		{"time away too long", map[string]any{"type": "time_away", "seconds": model.MaxTimeAwaySeconds + 1}, "seconds"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w, env := do(t, r, http.MethodPost, "/student/sessions/"+sid+"/events", token, tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if env.Error == nil || env.Error.Code != response.ErrValidation {
				t.Fatalf("error = %+v, want VALIDATION_ERROR", env.Error)
			}
			if _, ok := env.Error.Fields[tc.field]; !ok {
				t.Errorf("fields = %v, want a %s error", env.Error.Fields, tc.field)
			}
		})
	}
}

func TestSessionErrors(t *testing.T) {
	r := newTestRouter(t, fakeAttempts{})
	owner := studentToken(t, 1)
	sid := startSession(t, r, uuid.New(), owner)

	tests := []struct {
		name     string
		method   string
		path     string
		token    string
		wantCode int
		wantErr  response.ErrCode
	}{
		{"no token", http.MethodGet, "/student/sessions/" + sid, "", http.StatusUnauthorized, response.ErrTokenInvalid},
		{"teacher token", http.MethodGet, "/student/sessions/" + sid, teacherToken(t), http.StatusForbidden, response.ErrStudentAccessOnly},
		{"bad id", http.MethodGet, "/student/sessions/not-a-uuid", owner, http.StatusBadRequest, response.ErrInvalidID},
		{"unknown session", http.MethodGet, "/student/sessions/" + uuid.NewString(), owner, http.StatusNotFound, response.ErrSessionNotFound},
		{"not owner", http.MethodGet, "/student/sessions/" + sid, studentToken(t, 2), http.StatusForbidden, response.ErrNotSessionOwner},
		{"bad index", http.MethodPut, "/student/sessions/" + sid + "/answers/-1", owner, http.StatusBadRequest, response.ErrValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var body any
			if tc.method == http.MethodPut {
				body = map[string]string{"answer": "x"}
			}
			w, env := do(t, r, tc.method, tc.path, tc.token, body)
			if w.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.wantCode, w.Body.String())
			}
			if env.Error == nil || env.Error.Code != tc.wantErr {
				t.Errorf("error = %+v, want %s", env.Error, tc.wantErr)
			}
		})
	}
}

func TestRecordEventUnknownSessionIgnored(t *testing.T) {
	r := newTestRouter(t, fakeAttempts{})

	w, env := do(t, r, http.MethodPost, "/student/sessions/"+uuid.NewString()+"/events", studentToken(t, 1), map[string]any{"type": "refresh"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	var ev struct {
		Ignored bool `json:"ignored"`
	}
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !ev.Ignored {
		t.Error("event for unknown session should be ignored")
	}
}

func TestUpdatePolicyValidation(t *testing.T) {
	r := newTestRouter(t, fakeAttempts{})
	token := teacherToken(t, model.PermissionPolicyWrite)
	path := "/teacher/quizzes/" + uuid.NewString() + "/policy"

	tests := []struct {
		name      string
		body      map[string]any
		wantErr   response.ErrCode
		wantField string
	}{
		{
			name:      "negative tab limit",
			body:      map[string]any{"enabled": true, "tab_change_limit": -1, "time_away_threshold_seconds": 5},
			wantErr:   response.ErrInvalidPolicy,
			wantField: "tab_change_limit",
		},
		{
			name:      "negative time away",
			body:      map[string]any{"enabled": true, "tab_change_limit": 3, "time_away_threshold_seconds": -5},
			wantErr:   response.ErrInvalidPolicy,
			wantField: "time_away_threshold_seconds",
		},
		{
			name:      "missing enabled",
			body:      map[string]any{"tab_change_limit": 3, "time_away_threshold_seconds": 5},
			wantErr:   response.ErrValidation,
			wantField: "enabled",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w, env := do(t, r, http.MethodPut, path, token, tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if env.Error == nil || env.Error.Code != tc.wantErr {
				t.Fatalf("error = %+v, want %s", env.Error, tc.wantErr)
			}
			if _, ok := env.Error.Fields[tc.wantField]; !ok {
				t.Errorf("fields = %v, want %s", env.Error.Fields, tc.wantField)
			}
		})
	}
}

func TestTeacherPermissionDenied(t *testing.T) {
	r := newTestRouter(t, fakeAttempts{})
	token := teacherToken(t, model.PermissionMonitor)

	w, env := do(t, r, http.MethodPost, "/teacher/sessions/"+uuid.NewString()+"/disqualify", token, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if env.Error == nil || env.Error.Code != response.ErrPermissionDenied {
		t.Errorf("error = %+v, want PERMISSION_DENIED", env.Error)
	}
}

func TestTeacherDisqualify(t *testing.T) {
	r := newTestRouter(t, fakeAttempts{})
	sid := startSession(t, r, uuid.New(), studentToken(t, 5))
	token := teacherToken(t, model.PermissionSessionsIntervene)

	w, env := do(t, r, http.MethodPost, "/teacher/sessions/"+sid+"/disqualify", token, map[string]string{"reason": "phone on desk"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var out struct {
		Disqualified bool               `json:"disqualified"`
		Attempt      *model.QuizAttempt `json:"attempt"`
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Disqualified || out.Attempt == nil || !out.Attempt.Disqualified {
		t.Fatalf("disqualify result = %+v, want auto-submitted disqualified attempt", out)
	}

	w, env = do(t, r, http.MethodPost, "/teacher/sessions/"+sid+"/force-submit", token, nil)
	if w.Code != http.StatusOK || env.Error == nil || env.Error.Code != response.ErrSessionCompleted {
		t.Fatalf("force-submit after auto-submit = %d %+v", w.Code, env.Error)
	}
}

func TestHistory(t *testing.T) {
	quizID := uuid.New()
	attempts := fakeAttempts{attempts: []model.QuizAttempt{
		{ID: uuid.New(), QuizID: quizID, UserID: 3, Score: 4, TotalQuestions: 5, Percentage: 80, CompletedAt: time.Now()},
		{ID: uuid.New(), QuizID: quizID, UserID: 4, Score: 1, TotalQuestions: 5, Percentage: 20, TabChangeCount: 2, CompletedAt: time.Now()},
		{ID: uuid.New(), QuizID: uuid.New(), UserID: 3, Score: 5, TotalQuestions: 5, Percentage: 100, CompletedAt: time.Now()},
	}}
	r := newTestRouter(t, attempts)

	w, env := do(t, r, http.MethodGet, "/student/history", studentToken(t, 3), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("student history status = %d", w.Code)
	}
	var mine model.HistorySummary
	if err := json.Unmarshal(env.Data, &mine); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if mine.TotalQuizzes != 2 || mine.BestScore != 100 || mine.AverageScore != 90 {
		t.Errorf("student summary = %+v", mine)
	}

	w, env = do(t, r, http.MethodGet, "/teacher/quizzes/"+quizID.String()+"/history", teacherToken(t, model.PermissionAttemptsRead), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("quiz history status = %d", w.Code)
	}
	var quiz model.HistorySummary
	if err := json.Unmarshal(env.Data, &quiz); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if quiz.TotalQuizzes != 2 || quiz.FlaggedAttempts != 1 {
		t.Errorf("quiz summary = %+v", quiz)
	}
}
