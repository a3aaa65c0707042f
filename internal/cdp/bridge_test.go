package cdp

import (
	"strings"
	"testing"

	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"dnrharness/pkg/browser"
	"dnrharness/pkg/dnr"
)

// payload 取出 chrome.xxx(<payload>) 中的参数
func payload(t *testing.T, expr, call string) gjson.Result {
	t.Helper()
	require.True(t, strings.HasPrefix(expr, call+"("), expr)
	p := strings.TrimSuffix(strings.TrimPrefix(expr, call+"("), ")")
	require.True(t, gjson.Valid(p), p)
	return gjson.Parse(p)
}

func TestCreateTabExpr(t *testing.T) {
	p := payload(t, createTabExpr(browser.CreateTabArgs{URL: `https://a.test/?q="x"`, Active: true}), "chrome.tabs.create")
	assert.Equal(t, `https://a.test/?q="x"`, p.Get("url").String())
	assert.True(t, p.Get("active").Bool())
}

func TestTabExprs(t *testing.T) {
	assert.Equal(t, "chrome.tabs.remove(7)", removeTabExpr(7))
	assert.Equal(t, "chrome.tabs.get(7)", getTabExpr(7))
}

func TestExecuteScriptExpr(t *testing.T) {
	expr := executeScriptExpr(browser.ScriptInjection{
		Target: browser.Target{TabID: 12},
		World:  browser.WorldMain,
		Func:   "() => results.results",
	})
	require.True(t, strings.HasPrefix(expr, "chrome.scripting.executeScript(Object.assign("))
	assert.True(t, strings.HasSuffix(expr, ", {func: () => results.results}))"))

	obj := strings.TrimPrefix(expr, "chrome.scripting.executeScript(Object.assign(")
	obj = obj[:strings.Index(obj, ", {func:")]
	p := gjson.Parse(obj)
	assert.Equal(t, int64(12), p.Get("target.tabId").Int())
	assert.False(t, p.Get("target.allFrames").Exists())
	assert.Equal(t, "MAIN", p.Get("world").String())
	assert.False(t, p.Get("injectImmediately").Exists())
}

func TestUpdateDynamicRulesExpr(t *testing.T) {
	expr, err := updateDynamicRulesExpr(browser.RuleUpdate{
		RemoveRuleIDs: []int{1},
		AddRules: []dnr.Rule{dnr.Block(2, 1, dnr.Condition{
			URLFilter:     "||bad.third-party.site/*",
			ResourceTypes: []dnr.ResourceType{dnr.Script},
		})},
	})
	require.NoError(t, err)
	p := payload(t, expr, "chrome.declarativeNetRequest.updateDynamicRules")
	assert.Equal(t, `[1]`, p.Get("removeRuleIds").Raw)
	assert.Equal(t, int64(2), p.Get("addRules.0.id").Int())
	assert.Equal(t, "block", p.Get("addRules.0.action.type").String())
	assert.Equal(t, "||bad.third-party.site/*", p.Get("addRules.0.condition.urlFilter").String())
	assert.Equal(t, "script", p.Get("addRules.0.condition.resourceTypes.0").String())

	expr, err = updateDynamicRulesExpr(browser.RuleUpdate{})
	require.NoError(t, err)
	assert.Equal(t, "chrome.declarativeNetRequest.updateDynamicRules({})", expr)
}

func TestUpdateEnabledRulesetsExpr(t *testing.T) {
	expr, err := updateEnabledRulesetsExpr(browser.RulesetUpdate{
		EnableRulesetIDs:  []dnr.RulesetID{"a"},
		DisableRulesetIDs: []dnr.RulesetID{"b", "c"},
	})
	require.NoError(t, err)
	p := payload(t, expr, "chrome.declarativeNetRequest.updateEnabledRulesets")
	assert.Equal(t, `["a"]`, p.Get("enableRulesetIds").Raw)
	assert.Equal(t, `["b","c"]`, p.Get("disableRulesetIds").Raw)
}

func TestParseNavigationEvent(t *testing.T) {
	ev, err := parseNavigationEvent(`{"type":"domContentLoaded","tabId":4,"frameId":0,"url":"https://a.test/"}`)
	require.NoError(t, err)
	assert.Equal(t, browser.NavigationEvent{
		Type:  browser.EventDOMContentLoaded,
		TabID: 4,
		URL:   "https://a.test/",
	}, ev)

	ev, err = parseNavigationEvent(`{"type":"completed","tabId":4,"frameId":3,"url":"about:blank"}`)
	require.NoError(t, err)
	assert.Equal(t, 3, ev.FrameID)

	for _, bad := range []string{
		`not json`,
		`{"type":"completed","frameId":0}`,
		`{"type":"beforeNavigate","tabId":1}`,
	} {
		_, err := parseNavigationEvent(bad)
		assert.Error(t, err, bad)
	}
}

func TestBootstrapScriptUsesBinding(t *testing.T) {
	assert.Contains(t, bootstrapScript, `globalThis["`+bindingName+`"]`)
	assert.Contains(t, bootstrapScript, "onDOMContentLoaded")
	assert.Contains(t, bootstrapScript, `"domContentLoaded"`)
	assert.Contains(t, bootstrapScript, `"completed"`)
}

func TestFindWorker(t *testing.T) {
	targets := []*devtool.Target{
		{Type: "page", URL: "chrome-extension://aaa/popup.html"},
		{Type: "service_worker", URL: "https://a.test/sw.js"},
		{Type: "service_worker", URL: "chrome-extension://bbb/background.js"},
		{Type: "service_worker", URL: "chrome-extension://ccc/background.js"},
	}
	assert.Equal(t, targets[2], findWorker(targets, ""))
	assert.Equal(t, targets[3], findWorker(targets, "ccc"))
	assert.Nil(t, findWorker(targets, "aaa"))
	assert.Nil(t, findWorker(nil, ""))
}

func TestExceptionMessage(t *testing.T) {
	desc := "TypeError: chrome.tabs is undefined"
	assert.Equal(t, desc, exceptionMessage(&runtime.ExceptionDetails{
		Text:      "Uncaught",
		Exception: &runtime.RemoteObject{Description: &desc},
	}))
	assert.Equal(t, "Uncaught", exceptionMessage(&runtime.ExceptionDetails{Text: "Uncaught"}))
}

func TestDevToolsURL(t *testing.T) {
	got, err := devToolsURL("ws://127.0.0.1:40123/devtools/browser/abc")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:40123", got)

	_, err = devToolsURL("/devtools/browser/abc")
	assert.Error(t, err)
}
