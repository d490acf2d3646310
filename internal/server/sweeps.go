package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Sweep endpoints run the dunning passes synchronously, for operators
// and tests; production runs ride the scheduler.

func (s *Server) RunMarkOverdueSweep(c *gin.Context) {
	result, err := s.dunningSvc.MarkOverdue(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) RunEnforceOverdueSweep(c *gin.Context) {
	var req struct {
		GracePeriodDays int `json:"grace_period_days"`
	}
	_ = c.ShouldBindJSON(&req)

	result, err := s.dunningSvc.EnforceOverdue(c.Request.Context(), req.GracePeriodDays)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) RunReactivationSweep(c *gin.Context) {
	result, err := s.dunningSvc.Reactivate(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}
