package rules

import (
	"sort"
	"strings"
	"sync"

	"dnrharness/pkg/dnr"
	"dnrharness/pkg/traffic"
)

// Engine 声明式规则的参考匹配器，用于模拟浏览器
type Engine struct {
	mu      sync.RWMutex
	entries []entry
}

type entry struct {
	rule    dnr.Rule
	ruleset dnr.RulesetID // 动态规则为空
}

// Source 一组规则及其来源
type Source struct {
	Ruleset dnr.RulesetID
	Rules   []dnr.Rule
}

// New 创建规则引擎
func New(sources ...Source) *Engine {
	e := &Engine{}
	e.Update(sources...)
	return e
}

// Update 替换全部规则
func (e *Engine) Update(sources ...Source) {
	var entries []entry
	for _, s := range sources {
		for _, r := range s.Rules {
			entries = append(entries, entry{rule: r, ruleset: s.Ruleset})
		}
	}
	e.mu.Lock()
	e.entries = entries
	e.mu.Unlock()
}

// Ctx 匹配上下文
type Ctx struct {
	Request *traffic.Request
	// FrameAllow 发起框架已生效的 allowAllRequests 优先级，0 表示无
	FrameAllow int
}

// Match 命中的单条规则
type Match struct {
	Rule    dnr.Rule
	Ruleset dnr.RulesetID
}

// Result 匹配结果
type Result struct {
	// Decisive 决定请求去向的规则（block/allow/redirect 等），可能为空
	Decisive *Match
	// Headers 需要应用的 modifyHeaders 规则，按优先级降序
	Headers []Match
	// AllowedByFrame 被发起框架的 allowAllRequests 放行
	AllowedByFrame bool
}

// Blocked 请求是否被阻止
func (r *Result) Blocked() bool {
	return r != nil && r.Decisive != nil && r.Decisive.Rule.Action.Type == dnr.ActionBlock
}

// AllowAllPriority 顶层/子框架导航命中 allowAllRequests 时返回其优先级
func (r *Result) AllowAllPriority() int {
	if r == nil || r.Decisive == nil || r.Decisive.Rule.Action.Type != dnr.ActionAllowAllRequests {
		return 0
	}
	return r.Decisive.Rule.EffectivePriority()
}

// Eval 评估一次请求
func (e *Engine) Eval(ctx Ctx) *Result {
	e.mu.RLock()
	defer e.mu.RUnlock()

	res := &Result{}
	var decisive *Match
	var headers []Match
	for i := range e.entries {
		en := &e.entries[i]
		if !matchCondition(ctx.Request, en.rule.Condition) {
			continue
		}
		m := Match{Rule: en.rule, Ruleset: en.ruleset}
		if en.rule.Action.Type == dnr.ActionModifyHeaders {
			headers = append(headers, m)
			continue
		}
		if decisive == nil || outranks(m, *decisive) {
			mm := m
			decisive = &mm
		}
	}

	// 发起框架的 allowAllRequests 视为同优先级的 allow
	if ctx.FrameAllow > 0 && ctx.Request.ResourceType != string(dnr.MainFrame) {
		if decisive == nil || ctx.FrameAllow >= decisive.Rule.EffectivePriority() {
			res.AllowedByFrame = true
			decisive = nil
		}
	}
	res.Decisive = decisive

	floor := 0
	if res.AllowedByFrame {
		floor = ctx.FrameAllow
	} else if decisive != nil {
		switch decisive.Rule.Action.Type {
		case dnr.ActionBlock, dnr.ActionRedirect, dnr.ActionUpgradeScheme:
			// 终结性行为，请求头不再修改
			return res
		case dnr.ActionAllow, dnr.ActionAllowAllRequests:
			floor = decisive.Rule.EffectivePriority()
		}
	}
	for _, h := range headers {
		if h.Rule.EffectivePriority() > floor {
			res.Headers = append(res.Headers, h)
		}
	}
	sort.SliceStable(res.Headers, func(i, j int) bool {
		return res.Headers[i].Rule.EffectivePriority() > res.Headers[j].Rule.EffectivePriority()
	})
	return res
}

// actionRank 同优先级下的行为顺序
func actionRank(t dnr.ActionType) int {
	switch t {
	case dnr.ActionAllow, dnr.ActionAllowAllRequests:
		return 4
	case dnr.ActionBlock:
		return 3
	case dnr.ActionUpgradeScheme:
		return 2
	case dnr.ActionRedirect:
		return 1
	default:
		return 0
	}
}

// outranks a 是否优先于 b：优先级、行为顺序、动态规则优先
func outranks(a, b Match) bool {
	pa, pb := a.Rule.EffectivePriority(), b.Rule.EffectivePriority()
	if pa != pb {
		return pa > pb
	}
	ra, rb := actionRank(a.Rule.Action.Type), actionRank(b.Rule.Action.Type)
	if ra != rb {
		return ra > rb
	}
	return a.Ruleset == "" && b.Ruleset != ""
}

func matchCondition(req *traffic.Request, c dnr.Condition) bool {
	if c.URLFilter != "" && !matchURLFilter(req.URL, c.URLFilter) {
		return false
	}
	if c.RegexFilter != "" && !matchRegex(req.URL, c.RegexFilter) {
		return false
	}
	host := req.Host()
	if len(c.RequestDomains) > 0 && !anyDomain(host, c.RequestDomains) {
		return false
	}
	if anyDomain(host, c.ExcludedRequestDomains) {
		return false
	}
	if len(c.InitiatorDomains) > 0 && !anyDomain(req.InitiatorHost(), c.InitiatorDomains) {
		return false
	}
	if !matchResourceType(req.ResourceType, c) {
		return false
	}
	switch c.DomainType {
	case dnr.FirstParty:
		return !isThirdParty(req)
	case dnr.ThirdParty:
		return isThirdParty(req)
	}
	return true
}

// matchResourceType 未声明 resourceTypes 时匹配除 main_frame 外的所有类型
func matchResourceType(rt string, c dnr.Condition) bool {
	for _, t := range c.ExcludedResourceTypes {
		if string(t) == rt {
			return false
		}
	}
	if len(c.ResourceTypes) == 0 {
		return rt != string(dnr.MainFrame)
	}
	for _, t := range c.ResourceTypes {
		if string(t) == rt {
			return true
		}
	}
	return false
}

func anyDomain(host string, domains []string) bool {
	if host == "" {
		return false
	}
	for _, d := range domains {
		if traffic.MatchesDomain(host, d) {
			return true
		}
	}
	return false
}

// isThirdParty 按可注册域（末两级）比较
func isThirdParty(req *traffic.Request) bool {
	if req.Initiator == "" {
		return false
	}
	return site(req.Host()) != site(req.InitiatorHost())
}

func site(host string) string {
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}
