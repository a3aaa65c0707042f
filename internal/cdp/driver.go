// Package cdp 通过 DevTools 协议连接扩展 service worker，实现 browser.Automation
package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"

	"dnrharness/internal/logger"
	"dnrharness/pkg/browser"
	"dnrharness/pkg/dnr"
)

// ErrNoExtension 未找到扩展的 service worker 目标
var ErrNoExtension = errors.New("extension service worker not found")

const (
	// subscriberBuffer 每个订阅者的事件缓冲
	subscriberBuffer  = 64
	serviceWorkerType = "service_worker"
)

// Options 连接参数
type Options struct {
	// DevToolsURL 浏览器调试地址，如 http://127.0.0.1:9222
	DevToolsURL string
	// ExtensionID 为空时取第一个扩展 service worker
	ExtensionID string
	Logger      logger.Logger
}

// Driver 扩展环境中的自动化原语
type Driver struct {
	log    logger.Logger
	conn   *rpcc.Conn
	client *cdp.Client
	ctx    context.Context
	cancel context.CancelFunc
	origin string

	subsMu  sync.Mutex
	nextSub int
	subs    map[int]chan browser.NavigationEvent
	closed  bool
}

var _ browser.Automation = (*Driver)(nil)

// Connect 定位扩展 service worker 并建立连接，注册导航事件桥
func Connect(ctx context.Context, opts Options) (*Driver, error) {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	dt := devtool.New(opts.DevToolsURL)
	targets, err := dt.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets at %s: %w", opts.DevToolsURL, err)
	}
	sel := findWorker(targets, opts.ExtensionID)
	if sel == nil {
		return nil, ErrNoExtension
	}

	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", sel.WebSocketDebuggerURL, err)
	}
	dctx, cancel := context.WithCancel(context.Background())
	d := &Driver{
		log:    l.With("target", sel.URL),
		conn:   conn,
		client: cdp.NewClient(conn),
		ctx:    dctx,
		cancel: cancel,
		subs:   make(map[int]chan browser.NavigationEvent),
	}
	if err := d.init(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}
	d.log.Info("已连接扩展环境", "origin", d.origin)
	return d, nil
}

// findWorker 扩展 service worker 目标，extensionID 为空时取第一个
func findWorker(targets []*devtool.Target, extensionID string) *devtool.Target {
	prefix := "chrome-extension://"
	if extensionID != "" {
		prefix += extensionID + "/"
	}
	for _, t := range targets {
		if t.Type == serviceWorkerType && strings.HasPrefix(t.URL, prefix) {
			return t
		}
	}
	return nil
}

func (d *Driver) init(ctx context.Context) error {
	if err := d.client.Runtime.Enable(ctx); err != nil {
		return fmt.Errorf("enable runtime: %w", err)
	}
	// 先订阅再注册绑定，避免丢失首个事件
	called, err := d.client.Runtime.BindingCalled(d.ctx)
	if err != nil {
		return fmt.Errorf("subscribe binding: %w", err)
	}
	if err := d.client.Runtime.AddBinding(ctx, runtime.NewAddBindingArgs(bindingName)); err != nil {
		_ = called.Close()
		return fmt.Errorf("add binding: %w", err)
	}
	if _, err := d.eval(ctx, bootstrapScript); err != nil {
		_ = called.Close()
		return fmt.Errorf("install navigation listeners: %w", err)
	}
	go d.consume(called)

	raw, err := d.eval(ctx, extensionOriginExpr)
	if err != nil {
		return fmt.Errorf("resolve extension origin: %w", err)
	}
	var origin string
	if err := json.Unmarshal(raw, &origin); err != nil {
		return fmt.Errorf("decode extension origin: %w", err)
	}
	d.origin = strings.TrimSuffix(origin, "/")
	return nil
}

// Origin 扩展来源，形如 chrome-extension://<id>
func (d *Driver) Origin() string { return d.origin }

// Close 断开连接并关闭所有订阅
func (d *Driver) Close() error {
	d.cancel()
	d.closeSubscribers()
	return d.conn.Close()
}

// consume 持续接收绑定回调并分发给订阅者
func (d *Driver) consume(called runtime.BindingCalledClient) {
	defer called.Close()
	defer d.closeSubscribers()
	for {
		ev, err := called.Recv()
		if err != nil {
			if d.ctx.Err() == nil {
				d.log.Err(err, "导航事件流中断")
			}
			return
		}
		if ev.Name != bindingName {
			continue
		}
		nav, err := parseNavigationEvent(ev.Payload)
		if err != nil {
			d.log.Warn("忽略无法解析的导航事件", "error", err)
			continue
		}
		d.dispatch(nav)
	}
}

// dispatch 非阻塞发送，缓冲满时丢弃
func (d *Driver) dispatch(ev browser.NavigationEvent) {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	for id, ch := range d.subs {
		select {
		case ch <- ev:
		default:
			d.log.Warn("订阅者缓冲已满，丢弃导航事件", "subscriber", id, "tabID", int(ev.TabID))
		}
	}
}

func (d *Driver) closeSubscribers() {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for id, ch := range d.subs {
		close(ch)
		delete(d.subs, id)
	}
}

// Subscribe 订阅导航事件
func (d *Driver) Subscribe(ctx context.Context) (<-chan browser.NavigationEvent, func(), error) {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	if d.closed {
		return nil, nil, errors.New("driver closed")
	}
	id := d.nextSub
	d.nextSub++
	ch := make(chan browser.NavigationEvent, subscriberBuffer)
	d.subs[id] = ch
	return ch, func() {
		d.subsMu.Lock()
		defer d.subsMu.Unlock()
		if c, ok := d.subs[id]; ok {
			delete(d.subs, id)
			close(c)
		}
	}, nil
}

// eval 在扩展环境求值，等待 Promise 并按值返回
func (d *Driver) eval(ctx context.Context, expr string) ([]byte, error) {
	args := runtime.NewEvaluateArgs(expr).SetAwaitPromise(true).SetReturnByValue(true)
	reply, err := d.client.Runtime.Evaluate(ctx, args)
	if err != nil {
		return nil, err
	}
	if reply.ExceptionDetails != nil {
		return nil, &ScriptError{Message: exceptionMessage(reply.ExceptionDetails)}
	}
	if len(reply.Result.Value) == 0 {
		return []byte("null"), nil
	}
	return reply.Result.Value, nil
}

// ScriptError 扩展环境中抛出的异常
type ScriptError struct {
	Message string
}

func (e *ScriptError) Error() string { return "script error: " + e.Message }

func exceptionMessage(d *runtime.ExceptionDetails) string {
	if d.Exception != nil && d.Exception.Description != nil {
		return *d.Exception.Description
	}
	return d.Text
}

func (d *Driver) call(ctx context.Context, op, expr string, out any) error {
	raw, err := d.eval(ctx, expr)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", op, err)
	}
	return nil
}

// CreateTab 创建标签页
func (d *Driver) CreateTab(ctx context.Context, args browser.CreateTabArgs) (browser.Tab, error) {
	var t browser.Tab
	err := d.call(ctx, "tabs.create", createTabExpr(args), &t)
	return t, err
}

// RemoveTab 关闭标签页
func (d *Driver) RemoveTab(ctx context.Context, id browser.TabID) error {
	return d.call(ctx, "tabs.remove", removeTabExpr(id), nil)
}

// GetTab 查询标签页
func (d *Driver) GetTab(ctx context.Context, id browser.TabID) (browser.Tab, error) {
	var t browser.Tab
	err := d.call(ctx, "tabs.get", getTabExpr(id), &t)
	return t, err
}

// ExecuteScript 注入并执行函数，返回 InjectionResult 数组原文
func (d *Driver) ExecuteScript(ctx context.Context, inj browser.ScriptInjection) ([]byte, error) {
	raw, err := d.eval(ctx, executeScriptExpr(inj))
	if err != nil {
		return nil, fmt.Errorf("scripting.executeScript: %w", err)
	}
	return raw, nil
}

// UpdateDynamicRules 增删动态规则
func (d *Driver) UpdateDynamicRules(ctx context.Context, u browser.RuleUpdate) error {
	expr, err := updateDynamicRulesExpr(u)
	if err != nil {
		return err
	}
	return d.call(ctx, "declarativeNetRequest.updateDynamicRules", expr, nil)
}

// GetDynamicRules 已安装的动态规则
func (d *Driver) GetDynamicRules(ctx context.Context) ([]dnr.Rule, error) {
	var rs []dnr.Rule
	err := d.call(ctx, "declarativeNetRequest.getDynamicRules", getDynamicRulesExpr, &rs)
	return rs, err
}

// UpdateEnabledRulesets 启停静态规则集
func (d *Driver) UpdateEnabledRulesets(ctx context.Context, u browser.RulesetUpdate) error {
	expr, err := updateEnabledRulesetsExpr(u)
	if err != nil {
		return err
	}
	return d.call(ctx, "declarativeNetRequest.updateEnabledRulesets", expr, nil)
}

// GetEnabledRulesets 已启用的静态规则集
func (d *Driver) GetEnabledRulesets(ctx context.Context) ([]dnr.RulesetID, error) {
	var ids []dnr.RulesetID
	err := d.call(ctx, "declarativeNetRequest.getEnabledRulesets", getEnabledRulesetsExpr, &ids)
	return ids, err
}

// Evaluate 在扩展环境求值
func (d *Driver) Evaluate(ctx context.Context, expr string) ([]byte, error) {
	return d.eval(ctx, expr)
}
