package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/yungbote/lessonstream/internal/http/response"
	"github.com/yungbote/lessonstream/internal/platform/ctxutil"
	"github.com/yungbote/lessonstream/internal/platform/logger"
)

// Claims are the bearer token claims accepted by the API.
type Claims struct {
	Tenant string `json:"tenant,omitempty"`
	jwt.RegisteredClaims
}

type AuthMiddleware struct {
	log    *logger.Logger
	secret []byte
}

// NewAuthMiddleware verifies HS256 bearer tokens signed with secret. An empty
// secret turns authentication off.
func NewAuthMiddleware(log *logger.Logger, secret string) *AuthMiddleware {
	if log == nil {
		log = logger.Nop()
	}
	return &AuthMiddleware{log: log.With("Middleware", "AuthMiddleware"), secret: []byte(strings.TrimSpace(secret))}
}

func (am *AuthMiddleware) Enabled() bool { return len(am.secret) > 0 }

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !am.Enabled() {
			c.Next()
			return
		}
		tokenString := extractTokenFromAll(c)
		if tokenString == "" {
			response.Abort(c, response.CodeUnauthorized, "missing or invalid token")
			return
		}
		claims, err := am.parse(tokenString)
		if err != nil {
			am.log.Debug("token rejected", "error", err)
			response.Abort(c, response.CodeUnauthorized, "missing or invalid token")
			return
		}
		if strings.TrimSpace(claims.Subject) == "" {
			response.Abort(c, response.CodeForbidden, "forbidden")
			return
		}
		ctx := ctxutil.WithRequestData(c.Request.Context(), &ctxutil.RequestData{
			Subject: claims.Subject,
			Tenant:  claims.Tenant,
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (am *AuthMiddleware) parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return am.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// extractTokenFromAll also accepts ?token= because EventSource and browser
// websockets cannot set headers.
func extractTokenFromAll(c *gin.Context) string {
	if qToken := c.Query("token"); qToken != "" {
		return qToken
	}
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return ""
}
