package app

import (
	httpMW "github.com/yungbote/lessonstream/internal/http/middleware"
	"github.com/yungbote/lessonstream/internal/platform/logger"
)

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

func wireMiddleware(log *logger.Logger, cfg Config) Middleware {
	log.Info("Wiring middleware...")
	mw := Middleware{Auth: httpMW.NewAuthMiddleware(log, cfg.Auth.JWTSecret)}
	if !mw.Auth.Enabled() {
		log.Warn("auth.jwt_secret not set; lesson routes are open")
	}
	return mw
}
