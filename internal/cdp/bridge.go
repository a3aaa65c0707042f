package cdp

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"dnrharness/pkg/browser"
)

// bindingName 扩展环境回调 Go 侧的绑定函数名
const bindingName = "__dnrharnessEmit"

// bootstrapScript 在扩展 service worker 中注册导航事件监听，通过绑定上报；重复执行无副作用
const bootstrapScript = `(() => {
  if (globalThis.__dnrharnessInstalled) {
    return true;
  }
  globalThis.__dnrharnessInstalled = true;
  const emit = (type) => (d) => globalThis["` + bindingName + `"](JSON.stringify({
    type,
    tabId: d.tabId,
    frameId: d.frameId,
    url: d.url,
  }));
  chrome.webNavigation.onDOMContentLoaded.addListener(emit("domContentLoaded"));
  chrome.webNavigation.onCompleted.addListener(emit("completed"));
  return true;
})()`

func createTabExpr(args browser.CreateTabArgs) string {
	p, _ := sjson.Set("", "url", args.URL)
	p, _ = sjson.Set(p, "active", args.Active)
	return "chrome.tabs.create(" + p + ")"
}

func removeTabExpr(id browser.TabID) string {
	return fmt.Sprintf("chrome.tabs.remove(%d)", int(id))
}

func getTabExpr(id browser.TabID) string {
	return fmt.Sprintf("chrome.tabs.get(%d)", int(id))
}

// executeScriptExpr Func 是函数源码，不能作为 JSON 传递，单独拼接
func executeScriptExpr(inj browser.ScriptInjection) string {
	p, _ := sjson.Set("", "target.tabId", int(inj.Target.TabID))
	if inj.Target.AllFrames {
		p, _ = sjson.Set(p, "target.allFrames", true)
	}
	if inj.World != "" {
		p, _ = sjson.Set(p, "world", string(inj.World))
	}
	if inj.InjectImmediately {
		p, _ = sjson.Set(p, "injectImmediately", true)
	}
	return "chrome.scripting.executeScript(Object.assign(" + p + ", {func: " + inj.Func + "}))"
}

func updateDynamicRulesExpr(u browser.RuleUpdate) (string, error) {
	p := "{}"
	var err error
	if len(u.RemoveRuleIDs) > 0 {
		if p, err = sjson.Set(p, "removeRuleIds", u.RemoveRuleIDs); err != nil {
			return "", err
		}
	}
	if len(u.AddRules) > 0 {
		raw, err := json.Marshal(u.AddRules)
		if err != nil {
			return "", fmt.Errorf("marshal rules: %w", err)
		}
		if p, err = sjson.SetRaw(p, "addRules", string(raw)); err != nil {
			return "", err
		}
	}
	return "chrome.declarativeNetRequest.updateDynamicRules(" + p + ")", nil
}

func updateEnabledRulesetsExpr(u browser.RulesetUpdate) (string, error) {
	p := "{}"
	var err error
	if len(u.EnableRulesetIDs) > 0 {
		if p, err = sjson.Set(p, "enableRulesetIds", u.EnableRulesetIDs); err != nil {
			return "", err
		}
	}
	if len(u.DisableRulesetIDs) > 0 {
		if p, err = sjson.Set(p, "disableRulesetIds", u.DisableRulesetIDs); err != nil {
			return "", err
		}
	}
	return "chrome.declarativeNetRequest.updateEnabledRulesets(" + p + ")", nil
}

const (
	getDynamicRulesExpr    = "chrome.declarativeNetRequest.getDynamicRules()"
	getEnabledRulesetsExpr = "chrome.declarativeNetRequest.getEnabledRulesets()"
	extensionOriginExpr    = "chrome.runtime.getURL('')"
)

// parseNavigationEvent 解析绑定上报的导航事件
func parseNavigationEvent(payload string) (browser.NavigationEvent, error) {
	if !gjson.Valid(payload) {
		return browser.NavigationEvent{}, fmt.Errorf("invalid navigation payload %q", payload)
	}
	r := gjson.Parse(payload)
	tabID := r.Get("tabId")
	if !tabID.Exists() {
		return browser.NavigationEvent{}, fmt.Errorf("navigation payload without tabId: %s", payload)
	}
	ev := browser.NavigationEvent{
		Type:    browser.EventType(r.Get("type").String()),
		TabID:   browser.TabID(tabID.Int()),
		FrameID: int(r.Get("frameId").Int()),
		URL:     r.Get("url").String(),
	}
	switch ev.Type {
	case browser.EventDOMContentLoaded, browser.EventCompleted:
		return ev, nil
	}
	return browser.NavigationEvent{}, fmt.Errorf("unknown navigation event type %q", ev.Type)
}
