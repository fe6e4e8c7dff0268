package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/roteiro/internal/observability/context"
)

// Identity is established by the upstream auth service, which forwards the
// user id and role as headers.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"

	contextActorKey = "actor"
)

type Actor struct {
	ID   string
	Role string
}

// UserRequired rejects requests without a well-formed user id.
func (s *Server) UserRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := uuid.Parse(strings.TrimSpace(c.GetHeader(HeaderUserID)))
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		actor := Actor{
			ID:   userID.String(),
			Role: strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderUserRole))),
		}
		c.Set(contextActorKey, actor)
		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), actor.ID))
		c.Next()
	}
}

func (s *Server) authorizeAction(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), actor.ID, actor.Role, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func actorFromContext(c *gin.Context) (Actor, bool) {
	value, ok := c.Get(contextActorKey)
	if !ok {
		return Actor{}, false
	}
	actor, ok := value.(Actor)
	return actor, ok && actor.ID != ""
}
