package gateway

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const apiPrefix = "/api"

func (s *Server) apiAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			token = c.Query("token")
		}
		if !s.authenticate(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

func (s *Server) registerAPIRoutes(engine *gin.Engine) {
	api := engine.Group(apiPrefix, s.apiAuthMiddleware())
	api.GET("/status", s.ginAPIStatus)
	api.GET("/audit/recent", s.ginAPIAuditRecent)
	api.GET("/audit/day", s.ginAPIAuditDay)
}

func (s *Server) ginAPIStatus(c *gin.Context) {
	status := gin.H{
		"status": "ok",
		"uptime": time.Since(s.startAt).String(),
		"bridge": gin.H{"connected": false},
	}
	if conn := s.Bridge.Bridge(); conn != nil {
		status["bridge"] = gin.H{
			"connected":    true,
			"platform":     conn.Platform,
			"capabilities": conn.Capabilities,
			"connectedAt":  conn.ConnectedAt,
		}
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) ginAPIAuditRecent(c *gin.Context) {
	n := 100
	if raw := c.Query("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "n must be a positive integer"})
			return
		}
		n = parsed
	}
	records, err := s.Audit.Tail(n)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (s *Server) ginAPIAuditDay(c *gin.Context) {
	raw := c.Query("date")
	if raw == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "date required (YYYY-MM-DD)"})
		return
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid date, want YYYY-MM-DD"})
		return
	}
	records, err := s.Audit.ReadDay(day)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}
