// Package service 组装浏览器、测试夹具、场景集和运行历史
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dnrharness/internal/cdp"
	"dnrharness/internal/config"
	"dnrharness/internal/fixture"
	"dnrharness/internal/harness"
	"dnrharness/internal/logger"
	"dnrharness/internal/storage"
	"dnrharness/internal/suite"
	"dnrharness/pkg/browser"
)

// ErrUnknownScenario 指定的场景不存在
var ErrUnknownScenario = errors.New("unknown scenario")

// Option 服务选项
type Option func(*Service)

// WithAutomation 使用已有的自动化实现，不再启动或连接浏览器
func WithAutomation(a browser.Automation) Option {
	return func(s *Service) { s.automation = a }
}

// Service 按需启动依赖：运行场景时才连接浏览器，查询历史时只打开数据库
type Service struct {
	cfg *config.Config
	log logger.Logger

	mu         sync.Mutex
	automation browser.Automation
	store      *storage.Store
	fixture    *fixture.Server
	browser    *cdp.Browser
	driver     *cdp.Driver
	runner     *harness.Runner
}

// New 创建服务
func New(cfg *config.Config, l logger.Logger, opts ...Option) *Service {
	if l == nil {
		l = logger.NewNop()
	}
	s := &Service{cfg: cfg, log: l}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Scenarios 全部场景
func (s *Service) Scenarios() []harness.Scenario {
	return suite.Default(s.cfg.Fixtures)
}

// Run 运行指定场景，names 为空时运行全部
func (s *Service) Run(ctx context.Context, names ...string) (harness.Report, error) {
	sel, ok := suite.Select(s.Scenarios(), names...)
	if !ok {
		return harness.Report{}, fmt.Errorf("%w: %v", ErrUnknownScenario, names)
	}
	r, err := s.ensureRunner(ctx)
	if err != nil {
		return harness.Report{}, err
	}
	return r.RunAll(ctx, sel)
}

// Sweep 关闭遗留标签页并移除全部动态规则
func (s *Service) Sweep(ctx context.Context) error {
	r, err := s.ensureRunner(ctx)
	if err != nil {
		return err
	}
	return r.Harness().Sweep(ctx)
}

// History 最近 limit 次运行的汇总
func (s *Service) History(ctx context.Context, limit int) ([]storage.RunSummary, error) {
	st, err := s.ensureStore()
	if err != nil {
		return nil, err
	}
	return st.Summaries(ctx, limit)
}

// RunDetail 某次运行的逐场景记录
func (s *Service) RunDetail(ctx context.Context, runID string) ([]storage.RunRecord, error) {
	st, err := s.ensureStore()
	if err != nil {
		return nil, err
	}
	return st.ByRun(ctx, runID)
}

// Prune 删除早于 age 的历史
func (s *Service) Prune(ctx context.Context, age time.Duration) (int64, error) {
	st, err := s.ensureStore()
	if err != nil {
		return 0, err
	}
	return st.Prune(ctx, time.Now().Add(-age))
}

// Close 按启动的逆序释放资源
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.driver != nil {
		errs = append(errs, s.driver.Close())
		s.driver = nil
	}
	if s.browser != nil {
		s.browser.Close()
		s.browser = nil
	}
	if s.fixture != nil {
		timeout := s.cfg.Harness.CleanupTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		errs = append(errs, s.fixture.Shutdown(ctx))
		cancel()
		s.fixture = nil
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
		s.store = nil
	}
	s.runner = nil
	return errors.Join(errs...)
}

func (s *Service) ensureStore() (*storage.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openStore()
}

func (s *Service) openStore() (*storage.Store, error) {
	if s.store != nil {
		return s.store, nil
	}
	st, err := storage.Open(s.cfg.Sqlite.Dsn, s.cfg.Sqlite.Prefix, s.log)
	if err != nil {
		return nil, err
	}
	s.store = st
	return st, nil
}

func (s *Service) ensureRunner(ctx context.Context) (*harness.Runner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runner != nil {
		return s.runner, nil
	}
	st, err := s.openStore()
	if err != nil {
		return nil, err
	}
	a, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	h := harness.New(a, harness.Options{
		PollInterval:   s.cfg.Harness.PollInterval,
		MaxAttempts:    s.cfg.Harness.MaxAttempts,
		CleanupTimeout: s.cfg.Harness.CleanupTimeout,
		Logger:         s.log,
	})
	s.runner = harness.NewRunner(h, harness.RunnerOptions{
		ScenarioTimeout: s.cfg.Harness.ScenarioTimeout,
		Parallel:        s.cfg.Harness.Parallel,
		Recorder:        st,
	})
	return s.runner, nil
}

// connect 依次准备本地页面服务、浏览器进程和扩展连接
func (s *Service) connect(ctx context.Context) (browser.Automation, error) {
	if s.automation != nil {
		return s.automation, nil
	}
	bc := s.cfg.Browser
	devtools := bc.DevToolsURL
	if devtools == "" {
		lc := cdp.LaunchConfig{
			Bin:               bc.Bin,
			ExtensionDir:      bc.ExtensionDir,
			Headless:          bc.Headless,
			HostResolverRules: bc.HostResolverRules,
			Flags:             bc.Flags,
		}
		if s.cfg.FixtureServer.Enabled {
			srv := fixture.NewServer(fixture.Config{Addr: s.cfg.FixtureServer.Addr, Logger: s.log})
			addr, err := srv.Start()
			if err != nil {
				return nil, err
			}
			s.fixture = srv
			lc.HostResolverRules = fixture.HostResolverRules(addr)
			lc.Flags = append(append([]string{}, lc.Flags...), fixture.LaunchFlags()...)
		}
		b, err := cdp.Launch(lc, s.log)
		if err != nil {
			return nil, err
		}
		s.browser = b
		devtools = b.DevToolsURL
	}

	d, err := connectWithRetry(ctx, cdp.Options{
		DevToolsURL: devtools,
		ExtensionID: bc.ExtensionID,
		Logger:      s.log,
	})
	if err != nil {
		return nil, err
	}
	s.driver = d
	return d, nil
}

// connectWithRetry 刚启动的浏览器可能尚未注册扩展 service worker
func connectWithRetry(ctx context.Context, opts cdp.Options) (*cdp.Driver, error) {
	const attempts = 20
	var lastErr error
	for i := 0; i < attempts; i++ {
		d, err := cdp.Connect(ctx, opts)
		if err == nil {
			return d, nil
		}
		lastErr = err
		if !errors.Is(err, cdp.ErrNoExtension) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("connect after %d attempts: %w", attempts, lastErr)
}
