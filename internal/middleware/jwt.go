package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// ContextKeyClaims is the Gin context key for JWT claims.
const ContextKeyClaims = "claims"

// tokenRule describes where a route reads its token from and which
// caller type it admits.
type tokenRule struct {
	want    service.TokenType
	denied  response.ErrCode
	missing response.ErrCode
	// queryOnly is set for WebSocket upgrades, where browsers cannot
	// attach an Authorization header.
	queryOnly bool
}

// RequireStudentJWT admits student tokens from the Authorization header
// or ?token=.
func RequireStudentJWT(authService *service.AuthService) gin.HandlerFunc {
	return requireToken(authService, tokenRule{
		want:    service.TokenTypeStudent,
		denied:  response.ErrStudentAccessOnly,
		missing: response.ErrTokenInvalid,
	})
}

// RequireTeacherJWT admits teacher tokens. The ?token= fallback serves
// EventSource clients on the live monitor stream.
func RequireTeacherJWT(authService *service.AuthService) gin.HandlerFunc {
	return requireToken(authService, tokenRule{
		want:    service.TokenTypeTeacher,
		denied:  response.ErrTeacherAccessOnly,
		missing: response.ErrTokenInvalid,
	})
}

// RequireStudentWSAuth admits student tokens passed as ?token= on the
// session stream upgrade.
func RequireStudentWSAuth(authService *service.AuthService) gin.HandlerFunc {
	return requireToken(authService, tokenRule{
		want:      service.TokenTypeStudent,
		denied:    response.ErrStudentAccessOnly,
		missing:   response.ErrTokenRequired,
		queryOnly: true,
	})
}

func requireToken(authService *service.AuthService, rule tokenRule) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := rule.token(c)
		if raw == "" {
			response.AbortFail(c, http.StatusUnauthorized, rule.missing)
			return
		}

		claims, err := authService.ValidateToken(raw)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}
		if claims.TokenType != rule.want {
			response.AbortFail(c, http.StatusForbidden, rule.denied)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

func (r tokenRule) token(c *gin.Context) string {
	if !r.queryOnly {
		scheme, tok, ok := strings.Cut(c.GetHeader("Authorization"), " ")
		if ok && strings.EqualFold(scheme, "bearer") && tok != "" {
			return tok
		}
	}
	return c.Query("token")
}

// GetClaims returns the claims stored by the auth middleware, or nil.
func GetClaims(c *gin.Context) *service.Claims {
	val, ok := c.Get(ContextKeyClaims)
	if !ok {
		return nil
	}
	claims, _ := val.(*service.Claims)
	return claims
}
