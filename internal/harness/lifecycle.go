package harness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"dnrharness/internal/logger"
	"dnrharness/pkg/browser"
	"dnrharness/pkg/dnr"
)

// ErrRuleIDInUse 规则 ID 已被存活的作用域持有
var ErrRuleIDInUse = errors.New("rule id already owned by a live scope")

// Rules 动态规则生命周期管理
type Rules struct {
	a              browser.Automation
	log            logger.Logger
	cleanupTimeout time.Duration

	mu    sync.Mutex
	owner map[int]*RuleScope
}

// NewRules 创建规则管理器
func NewRules(a browser.Automation, l logger.Logger, cleanupTimeout time.Duration) *Rules {
	if l == nil {
		l = logger.NewNop()
	}
	if cleanupTimeout <= 0 {
		cleanupTimeout = 5 * time.Second
	}
	return &Rules{
		a:              a,
		log:            l,
		cleanupTimeout: cleanupTimeout,
		owner:          make(map[int]*RuleScope),
	}
}

// RuleScope 一次 WithRules 调用持有的规则 ID 集合
type RuleScope struct {
	m   *Rules
	ids map[int]struct{}
}

// IDs 当前持有的规则 ID，升序
func (s *RuleScope) IDs() []int {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.idsLocked()
}

func (s *RuleScope) idsLocked() []int {
	out := make([]int, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// WithRules 安装规则后执行 body，无论 body 如何退出（包括 panic）都删除本作用域仍持有的规则
func (m *Rules) WithRules(ctx context.Context, rules []dnr.Rule, body func(ctx context.Context, s *RuleScope) error) (err error) {
	s := &RuleScope{m: m, ids: make(map[int]struct{})}
	defer func() {
		if rerr := s.release(ctx); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()

	if len(rules) > 0 {
		if err := s.Update(ctx, rules, nil); err != nil {
			return err
		}
	}
	return body(ctx, s)
}

// Update 在一次调用中删除 removeIDs 并添加 add，随后按实际结果调整持有集合：
// 先移除被删除的 ID，再加入新增的 ID
func (s *RuleScope) Update(ctx context.Context, add []dnr.Rule, removeIDs []int) error {
	if err := dnr.ValidateBatch(add); err != nil {
		return err
	}
	m := s.m

	removing := make(map[int]bool, len(removeIDs))
	for _, id := range removeIDs {
		removing[id] = true
	}

	m.mu.Lock()
	for _, id := range removeIDs {
		if o, ok := m.owner[id]; ok && o != s {
			m.mu.Unlock()
			return fmt.Errorf("remove rule %d: %w", id, ErrRuleIDInUse)
		}
	}
	for _, r := range add {
		if o, ok := m.owner[r.ID]; ok && !(o == s && removing[r.ID]) {
			m.mu.Unlock()
			return fmt.Errorf("add rule %d: %w", r.ID, ErrRuleIDInUse)
		}
	}
	// 预占新增 ID，防止并发作用域抢占
	reserved := make([]int, 0, len(add))
	for _, r := range add {
		if _, ok := m.owner[r.ID]; !ok {
			m.owner[r.ID] = s
			reserved = append(reserved, r.ID)
		}
	}
	m.mu.Unlock()

	err := m.a.UpdateDynamicRules(ctx, browser.RuleUpdate{AddRules: add, RemoveRuleIDs: removeIDs})

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		for _, id := range reserved {
			delete(m.owner, id)
		}
		m.log.Err(err, "更新动态规则失败", "add", dnr.IDs(add), "remove", removeIDs)
		return fmt.Errorf("update dynamic rules: %w", err)
	}
	for _, id := range removeIDs {
		if _, ok := s.ids[id]; ok {
			delete(s.ids, id)
			delete(m.owner, id)
		}
	}
	for _, r := range add {
		s.ids[r.ID] = struct{}{}
		m.owner[r.ID] = s
	}
	m.log.Debug("动态规则已更新", "add", dnr.IDs(add), "remove", removeIDs, "owned", s.idsLocked())
	return nil
}

// release 删除作用域仍持有的规则；使用脱离取消的 ctx，场景超时后仍能清理
func (s *RuleScope) release(ctx context.Context) error {
	m := s.m
	ids := s.IDs()
	if len(ids) == 0 {
		return nil
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cleanupTimeout)
	defer cancel()

	err := m.a.UpdateDynamicRules(cctx, browser.RuleUpdate{RemoveRuleIDs: ids})

	m.mu.Lock()
	for _, id := range ids {
		delete(s.ids, id)
		if m.owner[id] == s {
			delete(m.owner, id)
		}
	}
	m.mu.Unlock()

	if err != nil {
		m.log.Err(err, "清理动态规则失败，等待全局清理", "ids", ids)
		return fmt.Errorf("remove rules %v: %w", ids, err)
	}
	m.log.Debug("动态规则已清理", "ids", ids)
	return nil
}

// EnableRulesets 启用静态规则集，由 Sweep 统一停用
func (m *Rules) EnableRulesets(ctx context.Context, ids ...dnr.RulesetID) error {
	if len(ids) == 0 {
		return nil
	}
	if err := m.a.UpdateEnabledRulesets(ctx, browser.RulesetUpdate{EnableRulesetIDs: ids}); err != nil {
		return fmt.Errorf("enable rulesets %v: %w", ids, err)
	}
	m.log.Debug("规则集已启用", "rulesets", ids)
	return nil
}

// DisableRulesets 停用静态规则集
func (m *Rules) DisableRulesets(ctx context.Context, ids ...dnr.RulesetID) error {
	if len(ids) == 0 {
		return nil
	}
	if err := m.a.UpdateEnabledRulesets(ctx, browser.RulesetUpdate{DisableRulesetIDs: ids}); err != nil {
		return fmt.Errorf("disable rulesets %v: %w", ids, err)
	}
	m.log.Debug("规则集已停用", "rulesets", ids)
	return nil
}

// Sweep 无条件删除全部动态规则并停用全部规则集
func (m *Rules) Sweep(ctx context.Context) error {
	var errs []error

	installed, err := m.a.GetDynamicRules(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("get dynamic rules: %w", err))
	} else if len(installed) > 0 {
		ids := dnr.IDs(installed)
		if err := m.a.UpdateDynamicRules(ctx, browser.RuleUpdate{RemoveRuleIDs: ids}); err != nil {
			errs = append(errs, fmt.Errorf("remove dynamic rules: %w", err))
		} else {
			m.mu.Lock()
			for _, id := range ids {
				if o, ok := m.owner[id]; ok {
					delete(o.ids, id)
					delete(m.owner, id)
				}
			}
			m.mu.Unlock()
			m.log.Info("全局清理删除动态规则", "ids", ids)
		}
	}

	enabled, err := m.a.GetEnabledRulesets(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("get enabled rulesets: %w", err))
	} else if len(enabled) > 0 {
		if err := m.DisableRulesets(ctx, enabled...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
