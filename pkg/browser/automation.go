package browser

import (
	"context"

	"dnrharness/pkg/dnr"
)

// Automation 浏览器自动化原语，由扩展环境提供
type Automation interface {
	// CreateTab 创建标签页
	CreateTab(ctx context.Context, args CreateTabArgs) (Tab, error)

	// RemoveTab 关闭标签页
	RemoveTab(ctx context.Context, id TabID) error

	// GetTab 查询标签页当前状态
	GetTab(ctx context.Context, id TabID) (Tab, error)

	// ExecuteScript 在指定环境执行函数，返回结果数组的原始 JSON
	ExecuteScript(ctx context.Context, inj ScriptInjection) ([]byte, error)

	// UpdateDynamicRules 增删动态规则
	UpdateDynamicRules(ctx context.Context, u RuleUpdate) error

	// GetDynamicRules 查询已安装的动态规则
	GetDynamicRules(ctx context.Context) ([]dnr.Rule, error)

	// UpdateEnabledRulesets 启停静态规则集
	UpdateEnabledRulesets(ctx context.Context, u RulesetUpdate) error

	// GetEnabledRulesets 查询已启用的静态规则集
	GetEnabledRulesets(ctx context.Context) ([]dnr.RulesetID, error)

	// Subscribe 订阅导航事件，返回的函数用于取消订阅
	Subscribe(ctx context.Context) (<-chan NavigationEvent, func(), error)

	// Evaluate 在扩展环境中求值表达式，返回结果 JSON
	Evaluate(ctx context.Context, expr string) ([]byte, error)
}
