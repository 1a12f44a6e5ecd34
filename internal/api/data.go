package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"northsea/internal/apperr"
	"northsea/internal/export"
	"northsea/internal/model"
	"northsea/internal/pkg/metrics"
	"northsea/internal/store"

	"github.com/gin-gonic/gin"
)

type idsRequest struct {
	IDs []uint `json:"ids"`
}

type exportRequest struct {
	IDs    []uint `json:"ids"`
	Format string `json:"format"`
}

type dataStatusRequest struct {
	Status model.DataStatus `json:"status" binding:"required"`
}

// handleListData 分页查询采集数据。
//
// GET /api/data?limit=&offset=&search=&type=&taskId=
func (s *Server) handleListData(c *gin.Context) {
	filter := store.DataFilter{
		Limit:  parseQueryInt(c, "limit", 0),
		Offset: parseQueryInt(c, "offset", 0),
		Search: c.Query("search"),
		Type:   model.DataType(c.Query("type")),
	}
	if raw := c.Query("taskId"); raw != "" {
		taskID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.renderError(c, apperr.Validation("invalid taskId", nil))
			return
		}
		filter.TaskID = uint(taskID)
	}

	page, err := s.store.ListData(c.Request.Context(), filter)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// handleCreateData 外部采集器写入一条数据。带 externalId 的重复投递返回 duplicate。
//
// POST /api/data
func (s *Server) handleCreateData(c *gin.Context) {
	var req store.CreateDataInput
	if !s.bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()

	dup, err := s.deduper.Claim(ctx, req.TaskID, req.ExternalID)
	if err != nil {
		// redis 不可用时照常写入
		s.logger.Warn("dedup claim failed", slog.String("error", err.Error()))
	}
	if dup {
		metrics.IngestDuplicatesTotal.Inc()
		c.JSON(http.StatusOK, gin.H{"duplicate": true})
		return
	}

	item, err := s.store.CreateData(ctx, req)
	if err != nil {
		if relErr := s.deduper.Release(ctx, req.TaskID, req.ExternalID); relErr != nil {
			s.logger.Warn("dedup release failed", slog.String("error", relErr.Error()))
		}
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (s *Server) handleDeleteData(c *gin.Context) {
	id, ok := s.paramID(c, "id")
	if !ok {
		return
	}
	if err := s.store.DeleteData(c.Request.Context(), id); err != nil {
		s.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleBatchDeleteData 批量删除，不存在的 id 被忽略。
//
// POST /api/data/batch-delete
func (s *Server) handleBatchDeleteData(c *gin.Context) {
	var req idsRequest
	if !s.bindJSON(c, &req) {
		return
	}
	n, err := s.store.BatchDeleteData(c.Request.Context(), req.IDs)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n, "requested": len(req.IDs)})
}

// handleAdvanceDataStatus 推进数据处理状态，只能向前。
//
// PATCH /api/data/:id/status
func (s *Server) handleAdvanceDataStatus(c *gin.Context) {
	id, ok := s.paramID(c, "id")
	if !ok {
		return
	}
	var req dataStatusRequest
	if !s.bindJSON(c, &req) {
		return
	}
	item, err := s.store.AdvanceDataStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// handleExport 导出选中的数据。配置了 Redis 时返回下载地址，否则直接内联内容。
//
// POST /api/export
func (s *Server) handleExport(c *gin.Context) {
	var req exportRequest
	if !s.bindJSON(c, &req) {
		return
	}
	if len(req.IDs) == 0 {
		s.renderError(c, apperr.Validation("ids must not be empty", []store.FieldError{{Field: "ids", Rule: "required"}}))
		return
	}
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		s.renderError(c, err)
		return
	}

	ctx := c.Request.Context()
	rows, err := s.store.DataByIDs(ctx, req.IDs)
	if err != nil {
		s.renderError(c, err)
		return
	}
	body, err := export.Encode(format, rows)
	if err != nil {
		s.renderError(c, fmt.Errorf("encode export: %w", err))
		return
	}
	metrics.ExportsTotal.WithLabelValues(string(format)).Inc()

	resp := gin.H{
		"success": true,
		"message": fmt.Sprintf("exported %d items as %s", len(rows), format),
		"count":   len(rows),
	}
	if !s.exports.Enabled() {
		resp["content"] = string(body)
		c.JSON(http.StatusOK, resp)
		return
	}
	name, err := s.exports.Save(ctx, format, body)
	if err != nil {
		s.renderError(c, err)
		return
	}
	resp["downloadUrl"] = "/api/download/" + name
	c.JSON(http.StatusOK, resp)
}

// handleDownload 返回导出文件。
//
// GET /api/download/:name
func (s *Server) handleDownload(c *gin.Context) {
	if !s.exports.Enabled() {
		s.renderError(c, apperr.NotFound("export %s not found", c.Param("name")))
		return
	}
	art, err := s.exports.Load(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="northsea-export-%s"`, art.Name))
	c.Data(http.StatusOK, art.Format.ContentType(), art.Body)
}
