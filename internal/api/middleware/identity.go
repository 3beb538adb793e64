package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/storesync/internal/domain"
	"github.com/timmy/storesync/internal/logger"
)

// Identity headers set by the upstream authentication layer.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"

	actorKey = "actor"
)

// Identity reads the already-authenticated caller from the request headers.
// Requests without a user ID get an empty actor, which can see nothing.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := domain.Actor{
			UserID: strings.TrimSpace(c.GetHeader(HeaderUserID)),
			Admin:  strings.EqualFold(strings.TrimSpace(c.GetHeader(HeaderUserRole)), "admin"),
		}
		c.Set(actorKey, actor)
		if actor.UserID != "" {
			ctx := logger.WithField(c.Request.Context(), logger.FieldUserID, actor.UserID)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

// ActorFrom returns the caller stored by Identity.
func ActorFrom(c *gin.Context) domain.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(domain.Actor); ok {
			return actor
		}
	}
	return domain.Actor{}
}
