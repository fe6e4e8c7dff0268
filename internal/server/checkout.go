package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/smallbiznis/roteiro/internal/checkout/domain"
)

func (s *Server) CreateCheckoutSession(c *gin.Context) {
	var req checkoutdomain.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	actor, ok := actorFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	req.UserID = actor.ID

	session, err := s.checkoutSvc.CreateSession(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": session})
}
