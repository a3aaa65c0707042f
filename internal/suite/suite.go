// Package suite 内置场景：声明式网络请求规则、脚本注入和 web_accessible_resources
package suite

import (
	"time"

	"dnrharness/internal/config"
	"dnrharness/internal/harness"
	"dnrharness/pkg/browser"
	"dnrharness/pkg/dnr"
	"dnrharness/pkg/probes"
)

// BlockingRuleset 扩展 manifest 中声明的静态阻止规则集
const BlockingRuleset dnr.RulesetID = "test_rules_blocking"

const (
	// EnvelopeSettle 页面就绪后读取 executeScript 原始返回前的等待
	EnvelopeSettle = 500 * time.Millisecond
	// InjectSettle 插入脚本标签后读取全局变量前的等待
	InjectSettle = 10 * time.Millisecond
)

var (
	badThirdParty = dnr.Condition{URLFilter: "||bad.third-party.site/*"}
	testPagesMain = dnr.Condition{
		URLFilter:     "||privacy-test-pages.glitch.me/",
		ResourceTypes: []dnr.ResourceType{dnr.MainFrame},
	}
	xhrSettled   = harness.StatusSettled("xmlhttprequest")
	xhrBlocked   = harness.RecordStatus{ID: "xmlhttprequest", Status: harness.StatusLoaded, Not: true}
	xhrLoaded    = harness.RecordStatus{ID: "xmlhttprequest", Status: harness.StatusLoaded}
	surrogateRan = harness.Equals{Value: "success"}
)

// Default 全部内置场景，页面地址取自 f
func Default(f config.Fixtures) []harness.Scenario {
	return []harness.Scenario{
		{
			Name:    "urlFilter with anchor blocks requests on matched domains",
			Rules:   []dnr.Rule{dnr.Block(1, 1, badThirdParty)},
			URL:     f.RequestBlocking,
			Observe: harness.PollResults(xhrSettled),
			Expect:  xhrBlocked,
		},
		{
			Name:     "enabling static ruleset with anchor block rule blocks requests",
			Rulesets: []dnr.RulesetID{BlockingRuleset},
			URL:      f.RequestBlocking,
			Observe:  harness.PollResults(xhrSettled),
			Expect:   xhrBlocked,
		},
		{
			Name:    "requestDomains blocks requests on matched domains",
			Rules:   []dnr.Rule{dnr.Block(1, 1, dnr.Condition{RequestDomains: []string{"bad.third-party.site"}})},
			URL:     f.RequestBlocking,
			Observe: harness.PollResults(xhrSettled),
			Expect:  xhrBlocked,
		},
		{
			Name: "allowAllRequests overrides a lower priority dynamic block rule",
			Rules: []dnr.Rule{
				dnr.Block(1, 1, badThirdParty),
				dnr.AllowAllRequests(2, 2, testPagesMain),
			},
			URL:     f.RequestBlocking,
			Observe: harness.PollResults(xhrSettled),
			Expect:  xhrLoaded,
		},
		{
			Name:     "allowAllRequests overrides a static ruleset block rule",
			Rulesets: []dnr.RulesetID{BlockingRuleset},
			Rules:    []dnr.Rule{dnr.AllowAllRequests(2, 2, testPagesMain)},
			URL:      f.RequestBlocking,
			Observe:  harness.PollResults(xhrSettled),
			Expect:   xhrLoaded,
		},
		{
			Name:     "allowAllRequests works when removeRuleIds is used in the same update",
			Rulesets: []dnr.RulesetID{BlockingRuleset},
			Update: &browser.RuleUpdate{
				RemoveRuleIDs: []int{2},
				AddRules:      []dnr.Rule{dnr.AllowAllRequests(2, 2, testPagesMain)},
			},
			URL:     f.RequestBlocking,
			Observe: harness.PollResults(xhrSettled),
			Expect:  xhrLoaded,
		},
		{
			Name:    "redirect to extension image with anchored urlFilter",
			Rules:   []dnr.Rule{dnr.RedirectToExtension(3, 2, "/images/icon-48.png", dnr.Condition{URLFilter: "||facebook.com/tr"})},
			URL:     f.TrackerImage,
			Observe: harness.Probe(browser.WorldMain, probes.ImageWidth),
			Expect:  harness.Equals{Value: 48},
		},
		{
			Name:    "redirect to extension image with explicit urlFilter",
			Rules:   []dnr.Rule{dnr.RedirectToExtension(3, 2, "/images/icon-48.png", dnr.Condition{URLFilter: "https://facebook.com/tr"})},
			URL:     f.TrackerImage,
			Observe: harness.Probe(browser.WorldMain, probes.ImageWidth),
			Expect:  harness.Equals{Value: 48},
		},
		{
			Name:    "redirect to extension script with anchored urlFilter",
			Rules:   []dnr.Rule{dnr.RedirectToExtension(4, 2, "/surrogate.js", dnr.Condition{URLFilter: "||doubleclick.net/instream/ad_status.js"})},
			URL:     f.TrackerSurrogate,
			Observe: harness.Probe(browser.WorldMain, probes.SurrogateGlobal),
			Expect:  surrogateRan,
		},
		{
			Name: "queryTransform removes search parameters",
			Rules: []dnr.Rule{dnr.RemoveQueryParams(5, 2, []string{"fbclid"}, dnr.Condition{
				URLFilter:     "||privacy-test-pages.glitch.me/*",
				ResourceTypes: []dnr.ResourceType{dnr.MainFrame},
			})},
			URL:     f.QueryParams,
			Observe: harness.TabURL(),
			Expect: harness.All{
				harness.SearchExcludes{Param: "fbclid"},
				harness.SearchContains{Param: "u", Value: "14"},
			},
		},
		{
			Name: "modifyHeaders sets the Sec-GPC header",
			Rules: []dnr.Rule{dnr.SetRequestHeader(6, 6, "Sec-GPC", "1", dnr.Condition{
				URLFilter:     "||global-privacy-control.glitch.me/",
				ResourceTypes: []dnr.ResourceType{dnr.MainFrame, dnr.SubFrame},
			})},
			URL:     f.GPC,
			Observe: harness.Probe(browser.WorldMain, probes.GPCValue),
			Expect:  harness.Equals{Value: `Sec-GPC: "1"`},
		},
		{
			Name:    "executeScript returns an array of injection results",
			URL:     f.Root,
			Observe: harness.RawEnvelope(browser.WorldIsolated, probes.Location, EnvelopeSettle),
			Expect:  harness.Envelope{FrameID: 0, Result: f.Root},
		},
		{
			Name:    "web accessible script loads on a declared origin",
			URL:     f.Root,
			Observe: injectSurrogate(),
			Expect:  surrogateRan,
		},
		{
			Name:    "web accessible script is refused on an undeclared origin",
			URL:     f.Undeclared,
			Observe: injectSurrogate(),
			Expect:  harness.IsNullValue{},
		},
		{
			Name:    "extension context exposes the tabs and declarativeNetRequest APIs",
			Observe: harness.ExtensionEval(probes.APITypes("", "tabs", "declarativeNetRequest")),
			Expect:  harness.Equals{Value: []string{"object", "object", "object"}},
		},
	}
}

func injectSurrogate() harness.Observation {
	o := harness.Probe(browser.WorldMain, probes.SurrogateGlobal)
	o.Inject = &harness.Injection{World: browser.WorldIsolated, Func: probes.InjectSurrogate}
	o.Settle = InjectSettle
	return o
}

// Select 按名称挑选场景，names 为空时返回全部；未知名称返回 false
func Select(all []harness.Scenario, names ...string) ([]harness.Scenario, bool) {
	if len(names) == 0 {
		return all, true
	}
	byName := make(map[string]harness.Scenario, len(all))
	for _, s := range all {
		byName[s.Name] = s
	}
	out := make([]harness.Scenario, 0, len(names))
	for _, n := range names {
		s, ok := byName[n]
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
