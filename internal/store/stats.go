package store

import (
	"context"
	"fmt"
	"time"

	"northsea/internal/model"
	"northsea/internal/pkg/metrics"
)

// GetStats recomputes the derivable statistics from the current rows. The
// host telemetry fields are left empty for the caller to fill.
func (s *Store) GetStats(ctx context.Context) (model.SystemStats, error) {
	var stats model.SystemStats
	db := s.db.WithContext(ctx)

	if err := db.Model(&model.CollectedData{}).Count(&stats.TotalCollected).Error; err != nil {
		return stats, fmt.Errorf("count collected: %w", err)
	}
	if err := db.Model(&model.CollectionTask{}).Where("status = ?", string(model.TaskRunning)).Count(&stats.ActiveTasks).Error; err != nil {
		return stats, fmt.Errorf("count active tasks: %w", err)
	}
	if err := db.Model(&model.CollectedData{}).Where("created_at >= ?", startOfDay(s.now())).Count(&stats.TodayCollected).Error; err != nil {
		return stats, fmt.Errorf("count today: %w", err)
	}

	var outcomes []struct {
		Status string
		N      int64
	}
	if err := db.Model(&model.CollectionTask{}).
		Select("status, COUNT(*) AS n").
		Where("status IN ?", []string{string(model.TaskCompleted), string(model.TaskFailed)}).
		Group("status").
		Scan(&outcomes).Error; err != nil {
		return stats, fmt.Errorf("count outcomes: %w", err)
	}
	var completed, failed int64
	for _, o := range outcomes {
		switch model.TaskStatus(o.Status) {
		case model.TaskCompleted:
			completed = o.N
		case model.TaskFailed:
			failed = o.N
		}
	}
	stats.SuccessRate = successRate(completed, failed)

	metrics.ActiveTasks.Set(float64(stats.ActiveTasks))
	return stats, nil
}

func successRate(completed, failed int64) string {
	if completed+failed == 0 {
		return "0.0"
	}
	return fmt.Sprintf("%.1f", float64(completed)*100/float64(completed+failed))
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
