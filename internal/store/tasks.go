package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"northsea/internal/apperr"
	"northsea/internal/lifecycle"
	"northsea/internal/model"
	"northsea/internal/pkg/metrics"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateTaskInput is the user-supplied part of a CollectionTask.
type CreateTaskInput struct {
	Name          string         `json:"name" validate:"required,max=255"`
	Type          model.TaskType `json:"type" validate:"required,oneof=posts comments profiles groups"`
	TargetCount   int            `json:"targetCount" validate:"gt=0"`
	Keywords      string         `json:"keywords"`
	TimeRange     int            `json:"timeRange" validate:"gt=0"`
	IncludeImages bool           `json:"includeImages"`
	IncludeVideos bool           `json:"includeVideos"`
}

// TaskPatch edits a pending task. Nil fields are left untouched.
type TaskPatch struct {
	Name          *string `json:"name" validate:"omitempty,min=1,max=255"`
	TargetCount   *int    `json:"targetCount" validate:"omitempty,gt=0"`
	Keywords      *string `json:"keywords"`
	TimeRange     *int    `json:"timeRange" validate:"omitempty,gt=0"`
	IncludeImages *bool   `json:"includeImages"`
	IncludeVideos *bool   `json:"includeVideos"`
}

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	Status model.TaskStatus
}

// CreateTask validates in and stores a new pending task with progress 0.
func (s *Store) CreateTask(ctx context.Context, in CreateTaskInput) (*model.CollectionTask, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	task := &model.CollectionTask{
		Name:          in.Name,
		Type:          in.Type,
		Status:        model.TaskPending,
		TargetCount:   in.TargetCount,
		Keywords:      in.Keywords,
		TimeRange:     in.TimeRange,
		IncludeImages: in.IncludeImages,
		IncludeVideos: in.IncludeVideos,
		Progress:      0,
	}
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// GetTask loads one task.
func (s *Store) GetTask(ctx context.Context, id uint) (*model.CollectionTask, error) {
	var task model.CollectionTask
	err := s.db.WithContext(ctx).First(&task, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("task %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &task, nil
}

// ListTasks returns tasks in insertion order, optionally filtered by status.
func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) ([]model.CollectionTask, error) {
	q := s.db.WithContext(ctx).Model(&model.CollectionTask{}).Order("id ASC")
	if filter.Status != "" {
		if !filter.Status.Valid() {
			return nil, apperr.Validation(fmt.Sprintf("unknown status %q", filter.Status), nil)
		}
		q = q.Where("status = ?", string(filter.Status))
	}
	tasks := make([]model.CollectionTask, 0)
	if err := q.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// UpdateTask edits the definition of a task that has not been started.
func (s *Store) UpdateTask(ctx context.Context, id uint, patch TaskPatch) (*model.CollectionTask, error) {
	if err := s.check(patch); err != nil {
		return nil, err
	}
	updates := map[string]any{"updated_at": s.now()}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.TargetCount != nil {
		updates["target_count"] = *patch.TargetCount
	}
	if patch.Keywords != nil {
		updates["keywords"] = *patch.Keywords
	}
	if patch.TimeRange != nil {
		updates["time_range"] = *patch.TimeRange
	}
	if patch.IncludeImages != nil {
		updates["include_images"] = *patch.IncludeImages
	}
	if patch.IncludeVideos != nil {
		updates["include_videos"] = *patch.IncludeVideos
	}

	res := s.db.WithContext(ctx).Model(&model.CollectionTask{}).
		Where("id = ? AND status = ?", id, string(model.TaskPending)).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("update task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		task, err := s.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Status == model.TaskPending {
			return nil, apperr.ConcurrencyConflict("task %d changed while being edited", id)
		}
		return nil, apperr.InvalidState("task %d is %s; only pending tasks can be edited", id, task.Status)
	}
	return s.GetTask(ctx, id)
}

// StartTask moves a pending task to running. Starting a running task is an error.
func (s *Store) StartTask(ctx context.Context, id uint) (*model.CollectionTask, error) {
	return s.transition(ctx, id, lifecycle.EventStart, nil)
}

// StopTask moves a running task back to pending, keeping its progress.
func (s *Store) StopTask(ctx context.Context, id uint) (*model.CollectionTask, error) {
	return s.transition(ctx, id, lifecycle.EventStop, nil)
}

// FailTask records a collector failure on a running task.
func (s *Store) FailTask(ctx context.Context, id uint, reason string) (*model.CollectionTask, error) {
	if reason == "" {
		reason = "collector reported failure"
	}
	change, err := s.transitionChange(ctx, id, lifecycle.EventFail, map[string]any{"failure_reason": reason})
	if err != nil {
		return nil, err
	}
	change.Reason = reason
	return s.finish(ctx, change)
}

// StalledTasks lists running tasks not updated since cutoff.
func (s *Store) StalledTasks(ctx context.Context, cutoff time.Time) ([]model.CollectionTask, error) {
	tasks := make([]model.CollectionTask, 0)
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", string(model.TaskRunning), cutoff).
		Order("id ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list stalled tasks: %w", err)
	}
	return tasks, nil
}

// FailStalled fails a running task only if it still has not been updated
// since cutoff. It returns false when progress arrived in the meantime.
func (s *Store) FailStalled(ctx context.Context, id uint, cutoff time.Time, reason string) (*model.CollectionTask, bool, error) {
	res := s.db.WithContext(ctx).Model(&model.CollectionTask{}).
		Where("id = ? AND status = ? AND updated_at < ?", id, string(model.TaskRunning), cutoff).
		Updates(map[string]any{
			"status":         string(model.TaskFailed),
			"failure_reason": reason,
			"updated_at":     s.now(),
		})
	if res.Error != nil {
		return nil, false, fmt.Errorf("fail stalled task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}
	task, err := s.finish(ctx, lifecycle.Change{
		TaskID: id,
		From:   model.TaskRunning,
		To:     model.TaskFailed,
		Event:  lifecycle.EventFail,
		Reason: reason,
	})
	if err != nil {
		return nil, false, err
	}
	return task, true, nil
}

// transition applies a single-source event with one conditional UPDATE.
func (s *Store) transition(ctx context.Context, id uint, event lifecycle.Event, extra map[string]any) (*model.CollectionTask, error) {
	change, err := s.transitionChange(ctx, id, event, extra)
	if err != nil {
		return nil, err
	}
	return s.finish(ctx, change)
}

func (s *Store) transitionChange(ctx context.Context, id uint, event lifecycle.Event, extra map[string]any) (lifecycle.Change, error) {
	sources := lifecycle.Sources(event)
	if len(sources) != 1 {
		return lifecycle.Change{}, fmt.Errorf("event %s has %d source states", event, len(sources))
	}
	from := sources[0]
	to, err := lifecycle.Transition(from, event)
	if err != nil {
		return lifecycle.Change{}, err
	}

	updates := map[string]any{"status": string(to), "updated_at": s.now()}
	for k, v := range extra {
		updates[k] = v
	}
	res := s.db.WithContext(ctx).Model(&model.CollectionTask{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if res.Error != nil {
		return lifecycle.Change{}, fmt.Errorf("%s task: %w", event, res.Error)
	}
	if res.RowsAffected == 0 {
		return lifecycle.Change{}, s.guardError(ctx, id, event)
	}
	return lifecycle.Change{TaskID: id, From: from, To: to, Event: event}, nil
}

// finish reloads the task and publishes the change.
func (s *Store) finish(ctx context.Context, change lifecycle.Change) (*model.CollectionTask, error) {
	task, err := s.GetTask(ctx, change.TaskID)
	if err != nil {
		return nil, err
	}
	change.Name = task.Name
	metrics.TaskTransitionsTotal.WithLabelValues(string(change.Event), string(change.To)).Inc()
	s.emit(change)
	return task, nil
}

// guardError explains why a conditional update matched no row.
func (s *Store) guardError(ctx context.Context, id uint, event lifecycle.Event) error {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			metrics.TaskTransitionRejectedTotal.WithLabelValues(string(event), "not_found").Inc()
		}
		return err
	}
	if lifecycle.Allowed(task.Status, event) {
		// the row was in another state when the UPDATE ran and has moved back since
		metrics.TaskTransitionRejectedTotal.WithLabelValues(string(event), "conflict").Inc()
		return apperr.ConcurrencyConflict("task %d changed concurrently; retry %s after refresh", id, event)
	}
	metrics.TaskTransitionRejectedTotal.WithLabelValues(string(event), "invalid_state").Inc()
	_, err = lifecycle.Transition(task.Status, event)
	return err
}

// UpdateProgress records collector progress on a running task. Progress may
// not go down; reaching 100 completes the task in the same UPDATE.
func (s *Store) UpdateProgress(ctx context.Context, id uint, progress int) (*model.CollectionTask, error) {
	if progress < 0 || progress > 100 {
		return nil, apperr.Validation("progress must be between 0 and 100", []FieldError{{Field: "progress", Rule: "range", Param: "0-100"}})
	}

	now := s.now()
	updates := map[string]any{"progress": progress, "updated_at": now}
	event := lifecycle.Event("")
	if progress == 100 {
		event = lifecycle.EventComplete
		updates["status"] = string(model.TaskCompleted)
		updates["completed_at"] = now
	}

	res := s.db.WithContext(ctx).Model(&model.CollectionTask{}).
		Where("id = ? AND status = ? AND progress <= ?", id, string(model.TaskRunning), progress).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("update progress: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, s.progressError(ctx, id, progress)
	}
	if event == "" {
		return s.GetTask(ctx, id)
	}
	return s.finish(ctx, lifecycle.Change{TaskID: id, From: model.TaskRunning, To: model.TaskCompleted, Event: event})
}

func (s *Store) progressError(ctx context.Context, id uint, progress int) error {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task.Status != model.TaskRunning {
		metrics.TaskTransitionRejectedTotal.WithLabelValues("progress", "invalid_state").Inc()
		return apperr.InvalidState("cannot update progress of task %d in status %q", id, task.Status)
	}
	if progress < task.Progress {
		metrics.TaskTransitionRejectedTotal.WithLabelValues("progress", "regression").Inc()
		return apperr.InvalidState("progress %d is below current progress %d of task %d", progress, task.Progress, id)
	}
	metrics.TaskTransitionRejectedTotal.WithLabelValues("progress", "conflict").Inc()
	return apperr.ConcurrencyConflict("task %d changed concurrently", id)
}

// DeleteTask removes a task and all its collected data in one transaction.
// It returns the number of data rows removed with it.
func (s *Store) DeleteTask(ctx context.Context, id uint) (int64, error) {
	var removed int64
	var change lifecycle.Change
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task model.CollectionTask
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&task, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("task %d not found", id)
		}
		if err != nil {
			return fmt.Errorf("lock task: %w", err)
		}
		if _, err := lifecycle.Transition(task.Status, lifecycle.EventDelete); err != nil {
			return err
		}

		res := tx.Where("task_id = ?", id).Delete(&model.CollectedData{})
		if res.Error != nil {
			return fmt.Errorf("delete task data: %w", res.Error)
		}
		removed = res.RowsAffected

		res = tx.Delete(&model.CollectionTask{}, id)
		if res.Error != nil {
			return fmt.Errorf("delete task: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound("task %d not found", id)
		}
		change = lifecycle.Change{TaskID: id, Name: task.Name, From: task.Status, To: lifecycle.StatusDeleted, Event: lifecycle.EventDelete}
		return nil
	})
	if err != nil {
		return 0, err
	}
	metrics.TaskTransitionsTotal.WithLabelValues(string(lifecycle.EventDelete), "deleted").Inc()
	s.emit(change)
	return removed, nil
}
