package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"northsea/internal/apperr"
	"northsea/internal/model"
	"northsea/internal/pkg/metrics"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// CreateDataInput is one harvested item reported by the collector.
type CreateDataInput struct {
	TaskID       uint               `json:"taskId" validate:"required"`
	ExternalID   string             `json:"externalId" validate:"max=128"`
	Type         model.DataType     `json:"type" validate:"required,oneof=post comment profile group"`
	Content      string             `json:"content"`
	Author       model.Author       `json:"author"`
	PublishTime  *time.Time         `json:"publishTime"`
	Interactions model.Interactions `json:"interactions"`
	Metadata     map[string]any     `json:"metadata"`
}

// DataFilter selects a page of collected data.
type DataFilter struct {
	Limit  int
	Offset int
	Search string
	Type   model.DataType
	TaskID uint
}

// DataPage is one page plus the full matching count.
type DataPage struct {
	Data  []model.CollectedData `json:"data"`
	Total int64                 `json:"total"`
}

// Normalize applies the default and maximum page size.
func (f DataFilter) Normalize() DataFilter {
	if f.Limit <= 0 {
		f.Limit = defaultPageLimit
	}
	if f.Limit > maxPageLimit {
		f.Limit = maxPageLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.Search = strings.TrimSpace(f.Search)
	return f
}

// CreateData stores an item for a running task. The task row is locked for the
// duration so a concurrent delete cannot leave the item orphaned.
func (s *Store) CreateData(ctx context.Context, in CreateDataInput) (*model.CollectedData, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	if in.Interactions.Likes < 0 || in.Interactions.Comments < 0 || in.Interactions.Shares < 0 {
		return nil, apperr.Validation("interactions must be non-negative", []FieldError{{Field: "interactions", Rule: "gte", Param: "0"}})
	}

	item := &model.CollectedData{
		TaskID:       in.TaskID,
		ExternalID:   in.ExternalID,
		Type:         in.Type,
		Content:      in.Content,
		Author:       datatypes.NewJSONType(in.Author),
		PublishTime:  in.PublishTime,
		Interactions: datatypes.NewJSONType(in.Interactions),
		Status:       model.DataCollected,
		Metadata:     datatypes.JSONMap(in.Metadata),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task model.CollectionTask
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).Select("id", "status").First(&task, in.TaskID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("task %d not found", in.TaskID)
		}
		if err != nil {
			return fmt.Errorf("lock task: %w", err)
		}
		if task.Status != model.TaskRunning {
			return apperr.InvalidState("task %d is %s; items can only be added while it is running", in.TaskID, task.Status)
		}
		if err := tx.Create(item).Error; err != nil {
			return fmt.Errorf("create data: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.CollectedItemsTotal.Inc()
	return item, nil
}

// ListData returns a page ordered newest first. Total counts every row that
// matches the filter, regardless of limit and offset.
func (s *Store) ListData(ctx context.Context, filter DataFilter) (DataPage, error) {
	filter = filter.Normalize()
	if filter.Type != "" && !filter.Type.Valid() {
		return DataPage{}, apperr.Validation(fmt.Sprintf("unknown data type %q", filter.Type), nil)
	}

	q := s.db.WithContext(ctx).Model(&model.CollectedData{})
	if filter.Type != "" {
		q = q.Where("type = ?", string(filter.Type))
	}
	if filter.TaskID != 0 {
		q = q.Where("task_id = ?", filter.TaskID)
	}
	if filter.Search != "" {
		pattern := "%" + escapeLike(strings.ToLower(filter.Search)) + "%"
		q = q.Where("(LOWER(content) LIKE ? ESCAPE '!' OR LOWER(author_name) LIKE ? ESCAPE '!')", pattern, pattern)
	}

	var page DataPage
	if err := q.Session(&gorm.Session{}).Count(&page.Total).Error; err != nil {
		return DataPage{}, fmt.Errorf("count data: %w", err)
	}
	page.Data = make([]model.CollectedData, 0, filter.Limit)
	if err := q.Order("created_at DESC").Order("id DESC").
		Limit(filter.Limit).Offset(filter.Offset).
		Find(&page.Data).Error; err != nil {
		return DataPage{}, fmt.Errorf("list data: %w", err)
	}
	return page, nil
}

// DataByIDs loads the rows that exist among ids, ordered by id.
func (s *Store) DataByIDs(ctx context.Context, ids []uint) ([]model.CollectedData, error) {
	rows := make([]model.CollectedData, 0, len(ids))
	if len(ids) == 0 {
		return rows, nil
	}
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load data: %w", err)
	}
	return rows, nil
}

// DeleteData hard-deletes one item.
func (s *Store) DeleteData(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&model.CollectedData{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete data: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("data %d not found", id)
	}
	return nil
}

// BatchDeleteData deletes the given items. Ids that do not exist are ignored;
// the number actually removed is returned.
func (s *Store) BatchDeleteData(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, apperr.Validation("ids must not be empty", []FieldError{{Field: "ids", Rule: "required"}})
	}
	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&model.CollectedData{})
	if res.Error != nil {
		return 0, fmt.Errorf("batch delete data: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// AdvanceDataStatus moves an item forward (collected -> processing -> analyzed).
// Moving backwards or to the same status is rejected.
func (s *Store) AdvanceDataStatus(ctx context.Context, id uint, to model.DataStatus) (*model.CollectedData, error) {
	rank := to.Rank()
	if rank < 0 {
		return nil, apperr.Validation(fmt.Sprintf("unknown data status %q", to), []FieldError{{Field: "status", Rule: "oneof", Param: "collected processing analyzed"}})
	}
	var earlier []string
	for _, st := range []model.DataStatus{model.DataCollected, model.DataProcessing, model.DataAnalyzed} {
		if st.Rank() < rank {
			earlier = append(earlier, string(st))
		}
	}

	if len(earlier) > 0 {
		res := s.db.WithContext(ctx).Model(&model.CollectedData{}).
			Where("id = ? AND status IN ?", id, earlier).
			Update("status", string(to))
		if res.Error != nil {
			return nil, fmt.Errorf("advance data status: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			return s.getData(ctx, id)
		}
	}

	item, err := s.getData(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, apperr.InvalidState("data %d is %s; status can only move forward", id, item.Status)
}

func (s *Store) getData(ctx context.Context, id uint) (*model.CollectedData, error) {
	var item model.CollectedData
	err := s.db.WithContext(ctx).First(&item, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("data %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get data: %w", err)
	}
	return &item, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`)
	return r.Replace(s)
}
