package api

import (
	"log/slog"
	"net/http"

	"northsea/internal/model"
	"northsea/internal/store"

	"github.com/gin-gonic/gin"
)

type failTaskRequest struct {
	Reason string `json:"reason"`
}

type progressRequest struct {
	Progress *int `json:"progress" binding:"required"`
}

// handleListTasks 返回任务列表，可按 status 过滤。
func (s *Server) handleListTasks(c *gin.Context) {
	tasks, err := s.store.ListTasks(c.Request.Context(), store.TaskFilter{
		Status: model.TaskStatus(c.Query("status")),
	})
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

// handleCreateTask 创建 pending 状态的任务。
//
// POST /api/tasks
func (s *Server) handleCreateTask(c *gin.Context) {
	var req store.CreateTaskInput
	if !s.bindJSON(c, &req) {
		return
	}
	task, err := s.store.CreateTask(c.Request.Context(), req)
	if err != nil {
		s.renderError(c, err)
		return
	}
	s.logger.Info("task created", slog.Uint64("task_id", uint64(task.ID)), slog.String("type", string(task.Type)))
	c.JSON(http.StatusCreated, task)
}

func (s *Server) handleGetTask(c *gin.Context) {
	id, ok := s.paramID(c, "id")
	if !ok {
		return
	}
	task, err := s.store.GetTask(c.Request.Context(), id)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// handleUpdateTask 修改尚未启动的任务定义。
//
// PUT /api/tasks/:id
func (s *Server) handleUpdateTask(c *gin.Context) {
	id, ok := s.paramID(c, "id")
	if !ok {
		return
	}
	var patch store.TaskPatch
	if !s.bindJSON(c, &patch) {
		return
	}
	task, err := s.store.UpdateTask(c.Request.Context(), id, patch)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleStartTask(c *gin.Context) {
	id, ok := s.paramID(c, "id")
	if !ok {
		return
	}
	task, err := s.store.StartTask(c.Request.Context(), id)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleStopTask(c *gin.Context) {
	id, ok := s.paramID(c, "id")
	if !ok {
		return
	}
	task, err := s.store.StopTask(c.Request.Context(), id)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// handleFailTask 由外部采集器上报失败。
//
// POST /api/tasks/:id/fail
func (s *Server) handleFailTask(c *gin.Context) {
	id, ok := s.paramID(c, "id")
	if !ok {
		return
	}
	var req failTaskRequest
	if c.Request.ContentLength != 0 && !s.bindJSON(c, &req) {
		return
	}
	task, err := s.store.FailTask(c.Request.Context(), id, req.Reason)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// handleUpdateProgress 由外部采集器上报进度，100 即完成。
//
// POST /api/tasks/:id/progress
func (s *Server) handleUpdateProgress(c *gin.Context) {
	id, ok := s.paramID(c, "id")
	if !ok {
		return
	}
	var req progressRequest
	if !s.bindJSON(c, &req) {
		return
	}
	task, err := s.store.UpdateProgress(c.Request.Context(), id, *req.Progress)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// handleDeleteTask 删除任务及其全部采集数据。
func (s *Server) handleDeleteTask(c *gin.Context) {
	id, ok := s.paramID(c, "id")
	if !ok {
		return
	}
	removed, err := s.store.DeleteTask(c.Request.Context(), id)
	if err != nil {
		s.renderError(c, err)
		return
	}
	if err := s.deduper.ForgetTask(c.Request.Context(), id); err != nil {
		s.logger.Warn("dedup cleanup failed", slog.Uint64("task_id", uint64(id)), slog.String("error", err.Error()))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "removedData": removed})
}
