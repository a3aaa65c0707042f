package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"dnrharness/pkg/browser"
	"dnrharness/pkg/dnr"
)

// ObserveKind 观察方式
type ObserveKind string

const (
	// ObservePoll 轮询页面结果累加器直到条件满足
	ObservePoll ObserveKind = "poll"
	// ObserveProbe 页面就绪后执行一次探针
	ObserveProbe ObserveKind = "probe"
	// ObserveTabURL 读取标签页最终 URL
	ObserveTabURL ObserveKind = "tabURL"
	// ObserveEnvelope 执行探针并保留原始逐框架结果
	ObserveEnvelope ObserveKind = "envelope"
	// ObserveExtension 在扩展环境中求值表达式，不打开页面
	ObserveExtension ObserveKind = "extension"
)

// Injection 探针前先执行的注入脚本
type Injection struct {
	World browser.World
	Func  string
}

// Observation 场景的观察步骤
type Observation struct {
	Kind   ObserveKind
	Until  Predicate
	World  browser.World
	Func   string
	Inject *Injection
	// Settle 页面就绪（或注入）后、探针前的等待
	Settle time.Duration
}

// Scenario 声明式测试场景：安装规则 → 打开页面 → 观察 → 断言 → 清理
type Scenario struct {
	Name     string
	Rules    []dnr.Rule
	Rulesets []dnr.RulesetID
	// Update 在规则作用域内再发起一次增删合并的更新
	Update  *browser.RuleUpdate
	URL     string
	Observe Observation
	Expect  Expectation
}

// PollResults 轮询结果累加器
func PollResults(until Predicate) Observation {
	return Observation{Kind: ObservePoll, Until: until, World: browser.WorldMain}
}

// Probe 页面就绪后执行一次探针
func Probe(world browser.World, fn string) Observation {
	return Observation{Kind: ObserveProbe, World: world, Func: fn}
}

// TabURL 读取标签页 URL
func TabURL() Observation {
	return Observation{Kind: ObserveTabURL}
}

// RawEnvelope 保留原始 executeScript 结果
func RawEnvelope(world browser.World, fn string, settle time.Duration) Observation {
	return Observation{Kind: ObserveEnvelope, World: world, Func: fn, Settle: settle}
}

// ExtensionEval 扩展环境求值
func ExtensionEval(expr string) Observation {
	return Observation{Kind: ObserveExtension, Func: expr}
}

// Validate 校验场景定义
func (s Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario without name")
	}
	if err := dnr.ValidateBatch(s.Rules); err != nil {
		return fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	switch s.Observe.Kind {
	case ObservePoll:
		if s.Observe.Until == nil {
			return fmt.Errorf("scenario %s: poll without predicate", s.Name)
		}
	case ObserveProbe, ObserveEnvelope, ObserveExtension:
		if s.Observe.Func == "" {
			return fmt.Errorf("scenario %s: %s without function", s.Name, s.Observe.Kind)
		}
	case ObserveTabURL:
	default:
		return fmt.Errorf("scenario %s: unknown observation %q", s.Name, s.Observe.Kind)
	}
	if s.Observe.Kind != ObserveExtension && s.URL == "" {
		return fmt.Errorf("scenario %s: url required", s.Name)
	}
	if s.Expect == nil {
		return fmt.Errorf("scenario %s: no expectation", s.Name)
	}
	return nil
}

// observe 执行观察步骤，返回观察值
func (h *Harness) observe(ctx context.Context, s Scenario) (gjson.Result, error) {
	o := s.Observe
	if o.Kind == ObserveExtension {
		b, err := h.a.Evaluate(ctx, o.Func)
		if err != nil {
			return null, fmt.Errorf("evaluate in extension: %w", err)
		}
		return gjson.ParseBytes(b), nil
	}

	tab, err := h.LoadPage(ctx, s.Name, s.URL)
	if err != nil {
		return null, err
	}

	switch o.Kind {
	case ObservePoll:
		return h.ObserveUntil(ctx, tab, o.Until)

	case ObserveTabURL:
		t, err := h.a.GetTab(ctx, tab.ID)
		h.CloseTabAsync(ctx, tab.ID)
		if err != nil {
			return null, fmt.Errorf("get tab %d: %w", tab.ID, err)
		}
		b, _ := json.Marshal(t.URL)
		return gjson.ParseBytes(b), nil

	case ObserveEnvelope:
		if err := sleep(ctx, o.Settle); err != nil {
			return null, err
		}
		b, err := h.a.ExecuteScript(ctx, browser.ScriptInjection{
			Target: browser.Target{TabID: tab.ID},
			World:  o.World,
			Func:   o.Func,
		})
		h.CloseTabAsync(ctx, tab.ID)
		if err != nil {
			return null, fmt.Errorf("execute script in tab %d: %w", tab.ID, err)
		}
		return gjson.ParseBytes(b), nil

	default:
		if o.Inject != nil {
			if _, err := ReadResults(ctx, h.a, tab.ID, o.Inject.World, o.Inject.Func); err != nil {
				return null, fmt.Errorf("inject: %w", err)
			}
		}
		if err := sleep(ctx, o.Settle); err != nil {
			return null, err
		}
		res, err := ReadResult(ctx, h.a, tab.ID, o.World, o.Func)
		h.CloseTabAsync(ctx, tab.ID)
		return res, err
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
