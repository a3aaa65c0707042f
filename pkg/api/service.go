package api

import (
	"context"
	"time"

	"dnrharness/internal/config"
	"dnrharness/internal/harness"
	"dnrharness/internal/logger"
	"dnrharness/internal/service"
	"dnrharness/internal/storage"
)

// Service 服务接口
type Service interface {
	// Scenarios 列出场景
	Scenarios() []harness.Scenario

	// Run 运行场景，names 为空时运行全部
	Run(ctx context.Context, names ...string) (harness.Report, error)

	// Sweep 清理遗留标签页、动态规则和规则集
	Sweep(ctx context.Context) error

	// History 最近的运行汇总
	History(ctx context.Context, limit int) ([]storage.RunSummary, error)

	// RunDetail 单次运行的场景记录
	RunDetail(ctx context.Context, runID string) ([]storage.RunRecord, error)

	// Prune 删除过期历史
	Prune(ctx context.Context, age time.Duration) (int64, error)

	// Close 释放浏览器、页面服务和数据库
	Close() error
}

// NewService 创建并返回服务接口实现
func NewService(cfg *config.Config, l logger.Logger) Service {
	return service.New(cfg, l)
}
