// Package browsertest 提供内存中的 browser.Automation 实现，
// 用参考匹配器模拟扩展声明式规则对页面请求的作用
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"dnrharness/internal/rules"
	"dnrharness/pkg/browser"
	"dnrharness/pkg/dnr"
	"dnrharness/pkg/traffic"
)

// ExtensionOrigin 模拟扩展的来源
const ExtensionOrigin = "chrome-extension://dnrharnesstest"

// ErrNotFound 标签页或规则集不存在
var ErrNotFound = errors.New("not found")

// Browser 模拟浏览器
type Browser struct {
	mu       sync.Mutex
	nextTab  browser.TabID
	tabs     map[browser.TabID]*tab
	pages    []Page
	dynamic  []dnr.Rule
	rulesets map[dnr.RulesetID][]dnr.Rule
	enabled  []dnr.RulesetID
	updates  []browser.RuleUpdate
	fails    map[string]error
	scripts  map[string]ScriptFunc
	evals    map[string]any
	apis     map[string]bool

	// RawResults 为 true 时 executeScript 直接返回结果值，不带逐框架包装
	RawResults bool

	subMu   sync.Mutex
	nextSub int
	subs    map[int]chan browser.NavigationEvent
}

// ScriptFunc 自定义脚本处理，返回值按 JSON 序列化；nil 表示 undefined
type ScriptFunc func(t browser.Tab, world browser.World) (any, error)

// New 创建空白模拟浏览器
func New(pages ...Page) *Browser {
	return &Browser{
		nextTab:  1,
		tabs:     make(map[browser.TabID]*tab),
		pages:    pages,
		rulesets: make(map[dnr.RulesetID][]dnr.Rule),
		fails:    make(map[string]error),
		scripts:  make(map[string]ScriptFunc),
		evals:    make(map[string]any),
		apis: map[string]bool{
			"declarativeNetRequest": true,
			"runtime":               true,
			"scripting":             true,
			"tabs":                  true,
			"webNavigation":         true,
		},
		subs: make(map[int]chan browser.NavigationEvent),
	}
}

// AddPage 增加页面模型
func (b *Browser) AddPage(p Page) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pages = append(b.pages, p)
}

// DefineRuleset 声明静态规则集（相当于 manifest 中的 rule_resources）
func (b *Browser) DefineRuleset(id dnr.RulesetID, rs ...dnr.Rule) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rulesets[id] = rs
}

// HandleScript 注册自定义脚本处理
func (b *Browser) HandleScript(src string, fn ScriptFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripts[src] = fn
}

// HandleEval 注册扩展环境表达式的返回值
func (b *Browser) HandleEval(expr string, v any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evals[expr] = v
}

// Fail 使指定操作（方法名）返回 err；err 为 nil 时恢复
func (b *Browser) Fail(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.fails, op)
		return
	}
	b.fails[op] = err
}

// Updates 动态规则更新记录
func (b *Browser) Updates() []browser.RuleUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]browser.RuleUpdate(nil), b.updates...)
}

// OpenTabs 当前打开的标签页，按 ID 升序
func (b *Browser) OpenTabs() []browser.Tab {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]browser.Tab, 0, len(b.tabs))
	for _, t := range b.tabs {
		out = append(out, t.Tab)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (b *Browser) failure(op string) error {
	if err, ok := b.fails[op]; ok {
		return err
	}
	return nil
}

// CreateTab 打开页面：按当前规则计算顶层和子资源请求的去向，然后发出导航事件
func (b *Browser) CreateTab(ctx context.Context, args browser.CreateTabArgs) (browser.Tab, error) {
	if err := ctx.Err(); err != nil {
		return browser.Tab{}, err
	}
	b.mu.Lock()
	if err := b.failure("CreateTab"); err != nil {
		b.mu.Unlock()
		return browser.Tab{}, err
	}
	t := b.load(args)
	b.tabs[t.ID] = t
	b.nextTab++
	tabCopy := t.Tab
	page := t.page
	b.mu.Unlock()

	if page == nil || !page.NeverReady {
		for i, sub := range pageSubFrames(page) {
			b.emit(browser.NavigationEvent{Type: browser.EventDOMContentLoaded, TabID: tabCopy.ID, FrameID: i + 1, URL: sub})
		}
		b.emit(browser.NavigationEvent{Type: browser.EventDOMContentLoaded, TabID: tabCopy.ID, URL: tabCopy.URL})
		b.emit(browser.NavigationEvent{Type: browser.EventCompleted, TabID: tabCopy.ID, URL: tabCopy.URL})
	}
	return tabCopy, nil
}

func pageSubFrames(p *Page) []string {
	if p == nil {
		return nil
	}
	return p.SubFrames
}

// RemoveTab 关闭标签页
func (b *Browser) RemoveTab(ctx context.Context, id browser.TabID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failure("RemoveTab"); err != nil {
		return err
	}
	if _, ok := b.tabs[id]; !ok {
		return fmt.Errorf("no tab with id %d: %w", id, ErrNotFound)
	}
	delete(b.tabs, id)
	return nil
}

// GetTab 查询标签页
func (b *Browser) GetTab(ctx context.Context, id browser.TabID) (browser.Tab, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failure("GetTab"); err != nil {
		return browser.Tab{}, err
	}
	t, ok := b.tabs[id]
	if !ok {
		return browser.Tab{}, fmt.Errorf("no tab with id %d: %w", id, ErrNotFound)
	}
	return t.Tab, nil
}

// UpdateDynamicRules 先删除后添加，整体原子；删除不存在的 ID 不报错，重复添加报错
func (b *Browser) UpdateDynamicRules(ctx context.Context, u browser.RuleUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failure("UpdateDynamicRules"); err != nil {
		return err
	}
	if err := dnr.ValidateBatch(u.AddRules); err != nil {
		return err
	}
	remove := make(map[int]bool, len(u.RemoveRuleIDs))
	for _, id := range u.RemoveRuleIDs {
		remove[id] = true
	}
	next := make([]dnr.Rule, 0, len(b.dynamic)+len(u.AddRules))
	present := make(map[int]bool, len(b.dynamic))
	for _, r := range b.dynamic {
		if remove[r.ID] {
			continue
		}
		next = append(next, r)
		present[r.ID] = true
	}
	for _, r := range u.AddRules {
		if present[r.ID] {
			return fmt.Errorf("rule with id %d does not have a unique ID", r.ID)
		}
		next = append(next, r)
	}
	b.dynamic = next
	b.updates = append(b.updates, u)
	return nil
}

// GetDynamicRules 已安装的动态规则，按 ID 升序
func (b *Browser) GetDynamicRules(ctx context.Context) ([]dnr.Rule, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failure("GetDynamicRules"); err != nil {
		return nil, err
	}
	out := append([]dnr.Rule(nil), b.dynamic...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateEnabledRulesets 先停用后启用；未声明的规则集报错
func (b *Browser) UpdateEnabledRulesets(ctx context.Context, u browser.RulesetUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failure("UpdateEnabledRulesets"); err != nil {
		return err
	}
	for _, id := range append(append([]dnr.RulesetID(nil), u.EnableRulesetIDs...), u.DisableRulesetIDs...) {
		if _, ok := b.rulesets[id]; !ok {
			return fmt.Errorf("invalid ruleset id %q: %w", id, ErrNotFound)
		}
	}
	disable := make(map[dnr.RulesetID]bool, len(u.DisableRulesetIDs))
	for _, id := range u.DisableRulesetIDs {
		disable[id] = true
	}
	next := b.enabled[:0:0]
	for _, id := range b.enabled {
		if !disable[id] {
			next = append(next, id)
		}
	}
	for _, id := range u.EnableRulesetIDs {
		if !containsRuleset(next, id) {
			next = append(next, id)
		}
	}
	b.enabled = next
	return nil
}

func containsRuleset(ids []dnr.RulesetID, id dnr.RulesetID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// GetEnabledRulesets 已启用的规则集
func (b *Browser) GetEnabledRulesets(ctx context.Context) ([]dnr.RulesetID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failure("GetEnabledRulesets"); err != nil {
		return nil, err
	}
	return append([]dnr.RulesetID(nil), b.enabled...), nil
}

// Subscribe 订阅导航事件；通道有缓冲，满时丢弃
func (b *Browser) Subscribe(ctx context.Context) (<-chan browser.NavigationEvent, func(), error) {
	b.mu.Lock()
	err := b.failure("Subscribe")
	b.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}

	b.subMu.Lock()
	defer b.subMu.Unlock()
	id := b.nextSub
	b.nextSub++
	ch := make(chan browser.NavigationEvent, 64)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.subMu.Lock()
			defer b.subMu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}, nil
}

func (b *Browser) emit(ev browser.NavigationEvent) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Evaluate 扩展环境求值，支持 typeof chrome、typeof chrome[...] 及其数组和注册过的表达式
func (b *Browser) Evaluate(ctx context.Context, expr string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failure("Evaluate"); err != nil {
		return nil, err
	}
	if v, ok := b.evals[expr]; ok {
		return marshal(v)
	}
	if api, ok := typeOfAPI(expr); ok {
		return marshal(b.apiType(api))
	}
	if strings.HasPrefix(expr, "[") && strings.HasSuffix(expr, "]") {
		var out []string
		for _, part := range strings.Split(strings.TrimSuffix(strings.TrimPrefix(expr, "["), "]"), ", ") {
			api, ok := typeOfAPI(part)
			if !ok {
				return nil, fmt.Errorf("unsupported expression %q", expr)
			}
			out = append(out, b.apiType(api))
		}
		return marshal(out)
	}
	return nil, fmt.Errorf("unsupported expression %q", expr)
}

func (b *Browser) apiType(api string) string {
	if api == "" || b.apis[api] {
		return "object"
	}
	return "undefined"
}

// typeOfAPI 解析 typeof chrome 与 typeof chrome["api"]，前者返回空 api
func typeOfAPI(expr string) (string, bool) {
	const prefix, suffix = `typeof chrome["`, `"]`
	if expr == "typeof chrome" {
		return "", true
	}
	if !strings.HasPrefix(expr, prefix) || !strings.HasSuffix(expr, suffix) {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(expr, prefix), suffix), true
}

// engine 以当前动态规则和已启用规则集构建匹配器，调用方持有 b.mu
func (b *Browser) engine() *rules.Engine {
	sources := []rules.Source{{Rules: b.dynamic}}
	for _, id := range b.enabled {
		sources = append(sources, rules.Source{Ruleset: id, Rules: b.rulesets[id]})
	}
	return rules.New(sources...)
}

// load 计算一次页面加载，调用方持有 b.mu
func (b *Browser) load(args browser.CreateTabArgs) *tab {
	eng := b.engine()
	t := &tab{
		Tab:      browser.Tab{ID: b.nextTab, URL: args.URL, Status: "complete", Active: args.Active},
		outcomes: make(map[string]rules.Outcome),
	}

	main := traffic.NewRequest(args.URL, string(dnr.MainFrame), "")
	res := eng.Eval(rules.Ctx{Request: main})
	out := rules.Apply(main, res, ExtensionOrigin)
	switch {
	case out.Blocked:
		t.mainBlocked = true
	case out.RedirectURL != "":
		t.URL = out.RedirectURL
	}
	t.headers = out.Headers
	t.frameAllow = res.AllowAllPriority()
	t.page = b.findPage(t.URL)
	if t.page == nil || t.mainBlocked {
		return t
	}

	for _, r := range t.page.Resources {
		req := traffic.NewRequest(r.URL, string(r.Type), t.URL)
		rr := eng.Eval(rules.Ctx{Request: req, FrameAllow: t.frameAllow})
		o := rules.Apply(req, rr, ExtensionOrigin)
		t.outcomes[r.ID] = o
		if r.Type == dnr.Script && o.RedirectURL == ExtensionOrigin+SurrogatePath {
			t.surrogate = true
		}
	}
	return t
}

// findPage 最长前缀匹配，忽略查询串
func (b *Browser) findPage(u string) *Page {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	var best *Page
	for i := range b.pages {
		p := &b.pages[i]
		if strings.HasPrefix(u, p.Prefix()) && (best == nil || len(p.Prefix()) > len(best.Prefix())) {
			best = p
		}
	}
	return best
}
