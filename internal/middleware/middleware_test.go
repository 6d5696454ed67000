package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const testSecret = "middleware-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func signToken(t *testing.T, claims *service.Claims, secret string) string {
	t.Helper()
	claims.RegisteredClaims = jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func ok(c *gin.Context) { c.Status(http.StatusNoContent) }

func serve(r http.Handler, path, header string) int {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequireTeacherJWT(t *testing.T) {
	auth := service.NewAuthService(&config.Config{JWTSecret: testSecret})
	r := gin.New()
	r.GET("/teacher", RequireTeacherJWT(auth), RequirePermission(model.PermissionMonitor), ok)
	r.GET("/any", RequireTeacherJWT(auth), RequireAnyPermission(model.PermissionMonitor, model.PermissionAttemptsRead), ok)

	monitor := signToken(t, &service.Claims{TokenType: service.TokenTypeTeacher, UserID: 1, Permissions: []string{string(model.PermissionMonitor)}}, testSecret)
	reader := signToken(t, &service.Claims{TokenType: service.TokenTypeTeacher, UserID: 2, Permissions: []string{string(model.PermissionAttemptsRead)}}, testSecret)
	student := signToken(t, &service.Claims{TokenType: service.TokenTypeStudent, UserID: 3}, testSecret)
	forged := signToken(t, &service.Claims{TokenType: service.TokenTypeTeacher, UserID: 1, Permissions: []string{string(model.PermissionMonitor)}}, "other-secret")

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"granted", "/teacher", "Bearer " + monitor, http.StatusNoContent},
		{"lowercase scheme", "/teacher", "bearer " + monitor, http.StatusNoContent},
		{"query token", "/teacher?token=" + monitor, "", http.StatusNoContent},
		{"missing permission", "/teacher", "Bearer " + reader, http.StatusForbidden},
		{"any permission", "/any", "Bearer " + reader, http.StatusNoContent},
		{"student token", "/teacher", "Bearer " + student, http.StatusForbidden},
		{"wrong secret", "/teacher", "Bearer " + forged, http.StatusUnauthorized},
		{"no token", "/teacher", "", http.StatusUnauthorized},
		{"malformed header", "/teacher", "Token " + monitor, http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := serve(r, tc.path, tc.header); got != tc.want {
				t.Errorf("status = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestRequireStudentWSAuth(t *testing.T) {
	auth := service.NewAuthService(&config.Config{JWTSecret: testSecret})
	r := gin.New()
	r.GET("/ws", RequireStudentWSAuth(auth), func(c *gin.Context) {
		if claims := GetClaims(c); claims == nil || claims.UserID != 9 {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	})

	student := signToken(t, &service.Claims{TokenType: service.TokenTypeStudent, UserID: 9}, testSecret)
	teacher := signToken(t, &service.Claims{TokenType: service.TokenTypeTeacher, UserID: 1}, testSecret)

	if got := serve(r, "/ws?token="+student, ""); got != http.StatusNoContent {
		t.Errorf("student status = %d", got)
	}
	if got := serve(r, "/ws?token="+teacher, ""); got != http.StatusForbidden {
		t.Errorf("teacher status = %d, want 403", got)
	}
	if got := serve(r, "/ws", "Bearer "+student); got != http.StatusUnauthorized {
		t.Errorf("header-only status = %d, want 401", got)
	}
}

func TestRateLimiter(t *testing.T) {
	auth := service.NewAuthService(&config.Config{JWTSecret: testSecret})
	rl := NewRateLimiter(0.001, 2)
	r := gin.New()
	r.GET("/limited", RequireStudentJWT(auth), rl.Middleware(), ok)

	first := "Bearer " + signToken(t, &service.Claims{TokenType: service.TokenTypeStudent, UserID: 1}, testSecret)
	second := "Bearer " + signToken(t, &service.Claims{TokenType: service.TokenTypeStudent, UserID: 2}, testSecret)

	for i := 0; i < 2; i++ {
		if got := serve(r, "/limited", first); got != http.StatusNoContent {
			t.Fatalf("request %d status = %d", i, got)
		}
	}
	if got := serve(r, "/limited", first); got != http.StatusTooManyRequests {
		t.Fatalf("over burst status = %d, want 429", got)
	}
	if got := serve(r, "/limited", second); got != http.StatusNoContent {
		t.Fatalf("other student status = %d, buckets should be per user", got)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Now()
	rl.limiter("ip:10.0.0.1", now.Add(-2*visitorTTL))
	rl.limiter("ip:10.0.0.2", now)

	rl.cleanup(now)

	if _, ok := rl.visitors["ip:10.0.0.1"]; ok {
		t.Error("idle visitor should be evicted")
	}
	if _, ok := rl.visitors["ip:10.0.0.2"]; !ok {
		t.Error("recent visitor should be kept")
	}
}

func TestBrotliSkip(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		accept string
		want   bool
	}{
		{"metrics", "/metrics", "", true},
		{"websocket", "/ws/v1/student/sessions/x/stream", "", true},
		{"sse accept", "/api/v1/teacher/quizzes/x/live", "text/event-stream", true},
		{"sse path", "/api/v1/teacher/quizzes/x/live/stream", "", true},
		{"json", "/api/v1/teacher/quizzes/x/live", "application/json", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.accept != "" {
				req.Header.Set("Accept", tc.accept)
			}
			if tc.name == "websocket" {
				req.Header.Set("Upgrade", "websocket")
			}
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = req
			if got := DefaultBrotliConfig.skip(c); got != tc.want {
				t.Errorf("skip = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestBrotliCompressesLargeBodies(t *testing.T) {
	body := make([]byte, 4096)
	for i := range body {
		body[i] = 'a'
	}
	r := gin.New()
	r.Use(Brotli())
	r.GET("/big", func(c *gin.Context) { c.Data(http.StatusOK, "text/plain", body) })
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/binary", func(c *gin.Context) { c.Data(http.StatusOK, "application/octet-stream", body) })

	tests := []struct {
		path string
		want string
	}{
		{"/big", "br"},
		{"/small", ""},
		{"/binary", ""},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		req.Header.Set("Accept-Encoding", "gzip, br")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if got := w.Header().Get("Content-Encoding"); got != tc.want {
			t.Errorf("%s Content-Encoding = %q, want %q", tc.path, got, tc.want)
		}
	}
}
