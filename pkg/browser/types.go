package browser

import (
	"dnrharness/pkg/dnr"
)

// TabID 浏览器标签页 ID（chrome.tabs 的整数 ID）
type TabID int

// World 脚本执行环境
type World string

const (
	// WorldIsolated 与页面共享 DOM，不共享脚本全局变量
	WorldIsolated World = "ISOLATED"
	// WorldMain 页面自身的脚本环境
	WorldMain World = "MAIN"
)

// Tab 标签页句柄
type Tab struct {
	ID     TabID  `json:"id"`
	URL    string `json:"url"`
	Status string `json:"status,omitempty"`
	Active bool   `json:"active"`
}

// CreateTabArgs 创建标签页参数
type CreateTabArgs struct {
	URL    string `json:"url"`
	Active bool   `json:"active"`
}

// Target 脚本注入目标
type Target struct {
	TabID     TabID `json:"tabId"`
	AllFrames bool  `json:"allFrames,omitempty"`
}

// ScriptInjection 脚本注入参数，Func 为零参函数的 JS 源码
type ScriptInjection struct {
	Target            Target `json:"target"`
	World             World  `json:"world,omitempty"`
	Func              string `json:"-"`
	InjectImmediately bool   `json:"injectImmediately,omitempty"`
}

// RuleUpdate 动态规则更新，增删在同一次调用中完成
type RuleUpdate struct {
	AddRules      []dnr.Rule `json:"addRules,omitempty"`
	RemoveRuleIDs []int      `json:"removeRuleIds,omitempty"`
}

// RulesetUpdate 静态规则集启停
type RulesetUpdate struct {
	EnableRulesetIDs  []dnr.RulesetID `json:"enableRulesetIds,omitempty"`
	DisableRulesetIDs []dnr.RulesetID `json:"disableRulesetIds,omitempty"`
}

// EventType 导航事件类型
type EventType string

const (
	EventDOMContentLoaded EventType = "domContentLoaded"
	EventCompleted        EventType = "completed"
)

// NavigationEvent 导航事件，FrameID 为 0 表示顶层框架
type NavigationEvent struct {
	Type    EventType `json:"type"`
	TabID   TabID     `json:"tabId"`
	FrameID int       `json:"frameId"`
	URL     string    `json:"url"`
}

// IsTopLevel 是否顶层框架事件
func (e NavigationEvent) IsTopLevel() bool { return e.FrameID == 0 }
