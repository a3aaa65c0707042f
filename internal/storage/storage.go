// Package storage 使用 GORM + SQLite 保存场景运行历史
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"dnrharness/internal/harness"
	"dnrharness/internal/logger"
)

// RunRecord 单个场景一次执行的记录
type RunRecord struct {
	ID           uint      `gorm:"primaryKey"`
	RunID        string    `gorm:"size:36;index"`
	Scenario     string    `gorm:"size:128;index"`
	Passed       bool      `gorm:"not null"`
	Error        string    `gorm:"type:text"`
	CleanupError string    `gorm:"type:text"`
	Observed     string    `gorm:"type:text"`
	StartedAt    time.Time `gorm:"not null"`
	DurationMs   int64
	CreatedAt    time.Time
}

// RunSummary 一次运行的汇总
type RunSummary struct {
	RunID     string
	Total     int
	Failed    int
	StartedAt time.Time
	Duration  time.Duration
}

// Store 运行历史仓库，实现 harness.Recorder
type Store struct {
	db  *gorm.DB
	log logger.Logger
}

var _ harness.Recorder = (*Store)(nil)

// Open 打开数据库并迁移表结构
func Open(dsn, prefix string, l logger.Logger) (*Store, error) {
	if l == nil {
		l = logger.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         NewGormLogger(l),
		NamingStrategy: schema.NamingStrategy{TablePrefix: prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	if strings.Contains(dsn, ":memory:") {
		// 内存库每个连接相互独立
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&RunRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	l.Debug("运行历史库已打开", "dsn", dsn)
	return &Store{db: db, log: l}, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record 保存场景结果
func (s *Store) Record(ctx context.Context, o harness.Outcome) error {
	rec := RunRecord{
		RunID:      o.RunID,
		Scenario:   o.Name,
		Passed:     o.Passed,
		Error:      errString(o.Err),
		Observed:   o.Observed,
		StartedAt:  o.Started,
		DurationMs: o.Duration.Milliseconds(),
	}
	if o.CleanupErr != nil {
		rec.CleanupError = o.CleanupErr.Error()
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("save outcome %q: %w", o.Name, err)
	}
	return nil
}

// ByRun 某次运行的全部记录，按执行顺序
func (s *Store) ByRun(ctx context.Context, runID string) ([]RunRecord, error) {
	var recs []RunRecord
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("id").Find(&recs).Error
	return recs, err
}

// ByScenario 某场景最近的记录，新的在前
func (s *Store) ByScenario(ctx context.Context, name string, limit int) ([]RunRecord, error) {
	var recs []RunRecord
	q := s.db.WithContext(ctx).Where("scenario = ?", name).Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&recs).Error
	return recs, err
}

// Summaries 最近 limit 次运行的汇总，新的在前
func (s *Store) Summaries(ctx context.Context, limit int) ([]RunSummary, error) {
	var ids []struct{ RunID string }
	q := s.db.WithContext(ctx).Model(&RunRecord{}).
		Select("run_id").
		Group("run_id").
		Order("max(id) desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&ids).Error; err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	runIDs := make([]string, len(ids))
	index := make(map[string]int, len(ids))
	for i, r := range ids {
		runIDs[i] = r.RunID
		index[r.RunID] = i
	}
	var recs []RunRecord
	if err := s.db.WithContext(ctx).Where("run_id IN ?", runIDs).Order("id").Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make([]RunSummary, len(ids))
	ends := make([]time.Time, len(ids))
	for _, r := range recs {
		i := index[r.RunID]
		sum := &out[i]
		end := r.StartedAt.Add(time.Duration(r.DurationMs) * time.Millisecond)
		if sum.Total == 0 {
			sum.RunID = r.RunID
			sum.StartedAt = r.StartedAt
			ends[i] = end
		}
		sum.Total++
		if !r.Passed {
			sum.Failed++
		}
		if r.StartedAt.Before(sum.StartedAt) {
			sum.StartedAt = r.StartedAt
		}
		if end.After(ends[i]) {
			ends[i] = end
		}
	}
	// 持续时间取最早开始到最晚结束，并行运行的记录不按开始时间入库
	for i := range out {
		out[i].Duration = ends[i].Sub(out[i].StartedAt)
	}
	return out, nil
}

// Prune 删除 before 之前的记录，返回删除条数
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("started_at < ?", before).Delete(&RunRecord{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		s.log.Info("已清理历史记录", "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
