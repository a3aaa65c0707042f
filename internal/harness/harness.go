package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dnrharness/internal/logger"
	"dnrharness/internal/session"
	"dnrharness/pkg/browser"
)

// Options 测试夹具配置
type Options struct {
	PollInterval   time.Duration
	MaxAttempts    int
	CleanupTimeout time.Duration
	Logger         logger.Logger
}

// Harness 组合页面加载、结果读取、规则生命周期和轮询断言
type Harness struct {
	a      browser.Automation
	log    logger.Logger
	tabs   *session.Manager
	Rules  *Rules
	Poller Poller

	cleanupTimeout time.Duration
	closing        sync.WaitGroup
}

// New 创建测试夹具
func New(a browser.Automation, opts Options) *Harness {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = 5 * time.Second
	}
	h := &Harness{
		a:              a,
		log:            l,
		tabs:           session.NewManager(l),
		cleanupTimeout: opts.CleanupTimeout,
		Poller: Poller{
			Interval:    opts.PollInterval,
			MaxAttempts: opts.MaxAttempts,
		},
	}
	h.Rules = NewRules(a, l, opts.CleanupTimeout)
	return h
}

// Automation 底层自动化接口
func (h *Harness) Automation() browser.Automation { return h.a }

// OpenTabs 尚未关闭的标签页
func (h *Harness) OpenTabs() []session.OpenTab { return h.tabs.List() }

// LoadPage 打开页面并等待顶层框架就绪，标签页登记到管理器
func (h *Harness) LoadPage(ctx context.Context, scenario, url string) (browser.Tab, error) {
	tab, err := LoadPage(ctx, h.a, url)
	if tab.ID != 0 {
		h.tabs.Add(session.OpenTab{ID: tab.ID, URL: url, Scenario: scenario})
	}
	if err != nil {
		return tab, err
	}
	h.log.Debug("页面已就绪", "tabID", int(tab.ID), "url", url)
	return tab, nil
}

// CloseTab 关闭并注销标签页
func (h *Harness) CloseTab(ctx context.Context, id browser.TabID) error {
	if err := h.a.RemoveTab(ctx, id); err != nil {
		return fmt.Errorf("remove tab %d: %w", id, err)
	}
	h.tabs.Delete(id)
	return nil
}

// CloseTabAsync 不等待结果地关闭标签页，失败留给 Sweep 回收
func (h *Harness) CloseTabAsync(ctx context.Context, id browser.TabID) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cleanupTimeout)
	h.closing.Add(1)
	go func() {
		defer h.closing.Done()
		defer cancel()
		if err := h.CloseTab(cctx, id); err != nil {
			h.log.Warn("异步关闭标签页失败", "tabID", int(id), "error", err)
		}
	}()
}

// Sweep 场景结束后的全局清理：等待异步关闭完成后关闭遗留标签页，再删除全部动态规则并停用全部规则集
func (h *Harness) Sweep(ctx context.Context) error {
	h.closing.Wait()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cleanupTimeout)
	defer cancel()

	var errs []error
	for _, t := range h.tabs.List() {
		if err := h.CloseTab(ctx, t.ID); err != nil {
			errs = append(errs, err)
			h.tabs.Delete(t.ID)
			continue
		}
		h.log.Info("回收遗留标签页", "tabID", int(t.ID), "scenario", t.Scenario)
	}
	if err := h.Rules.Sweep(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
