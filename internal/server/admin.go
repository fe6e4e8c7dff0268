package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/roteiro/internal/payment/domain"
)

const defaultReconcileLimit = 100

type reconcileRequest struct {
	Limit int `json:"limit"`
}

func (s *Server) ReconcileCommissions(c *gin.Context) {
	var req reconcileRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	if req.Limit < 0 {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be positive"))
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultReconcileLimit
	}

	result, err := s.ledgerSvc.ReconcileCommissions(c.Request.Context(), req.Limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) ListPaymentEvents(c *gin.Context) {
	filter := paymentdomain.ListEventsFilter{
		Status: paymentdomain.EventStatus(strings.ToLower(strings.TrimSpace(c.Query("status")))),
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be a positive integer"))
			return
		}
		filter.Limit = limit
	}

	events, err := s.paymentSvc.ListEvents(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": events})
}
