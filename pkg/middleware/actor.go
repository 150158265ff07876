package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
)

// Identity headers are set by the API gateway after authentication.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

type actorKey struct{}

type Actor struct {
	ID   string
	Role string
}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

// Identity copies the gateway identity headers into the request context.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		a := Actor{
			ID:   c.GetHeader(HeaderActorID),
			Role: c.GetHeader(HeaderActorRole),
		}
		if a.Role == "" {
			a.Role = "user"
		}
		c.Request = c.Request.WithContext(WithActor(c.Request.Context(), a))
		c.Next()
	}
}
