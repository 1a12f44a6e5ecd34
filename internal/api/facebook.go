package api

import (
	"log/slog"
	"net/http"

	"northsea/internal/apperr"

	"github.com/gin-gonic/gin"
)

// requireGraph 未配置访问令牌时直接返回 503。
func (s *Server) requireGraph(c *gin.Context) {
	if !s.graph.Enabled() {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "facebook integration not configured"})
		return
	}
	c.Next()
}

func (s *Server) handleGraphTest(c *gin.Context) {
	me, err := s.graph.Me(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": me})
}

func (s *Server) handleGraphMe(c *gin.Context) {
	user, err := s.graph.UserInfo(c.Request.Context(), "")
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) handleGraphPage(c *gin.Context) {
	page, err := s.graph.PageInfo(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) handleGraphPagePosts(c *gin.Context) {
	posts, err := s.graph.PagePosts(c.Request.Context(), c.Param("id"), parseQueryInt(c, "limit", 25))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": posts})
}

// handleGraphSearch 搜索主页或群组。
//
// GET /api/facebook/search?q=&type=page|group&limit=
func (s *Server) handleGraphSearch(c *gin.Context) {
	ctx := c.Request.Context()
	q := c.Query("q")
	limit := parseQueryInt(c, "limit", 10)

	switch c.DefaultQuery("type", "page") {
	case "page":
		pages, err := s.graph.SearchPages(ctx, q, limit)
		if err != nil {
			s.renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": pages})
	case "group":
		groups, err := s.graph.SearchGroups(ctx, q, limit)
		if err != nil {
			s.renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": groups})
	default:
		s.renderError(c, apperr.Validation("type must be page or group", nil))
	}
}

func (s *Server) handleGraphAdInsights(c *gin.Context) {
	rows, err := s.graph.AdInsights(c.Request.Context(), c.Param("account"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func (s *Server) handleGraphDebugToken(c *gin.Context) {
	info, err := s.graph.DebugToken(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// handleGraphExchangeToken 换取长期令牌。新令牌不会被持久化，需由运维写回环境变量。
func (s *Server) handleGraphExchangeToken(c *gin.Context) {
	token, err := s.graph.ExchangeToken(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}
	s.logger.Info("long-lived token issued", slog.Int64("expires_in", token.ExpiresIn))
	c.JSON(http.StatusOK, token)
}
