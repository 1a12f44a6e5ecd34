package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// handleStats 返回系统统计。计数来自数据库，资源占用来自本机采样。
//
// GET /api/stats
func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.store.GetStats(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
	defer cancel()
	s.probe.Fill(ctx, &stats)
	c.JSON(http.StatusOK, stats)
}
