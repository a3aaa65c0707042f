package dnr

// RulesetID 静态规则集标识（manifest 中 declarative_net_request.rule_resources 的 id）
type RulesetID string

// ActionType 规则行为类型
type ActionType string

const (
	ActionBlock            ActionType = "block"
	ActionAllow            ActionType = "allow"
	ActionAllowAllRequests ActionType = "allowAllRequests"
	ActionRedirect         ActionType = "redirect"
	ActionUpgradeScheme    ActionType = "upgradeScheme"
	ActionModifyHeaders    ActionType = "modifyHeaders"
)

// ResourceType 请求资源类型
type ResourceType string

const (
	MainFrame      ResourceType = "main_frame"
	SubFrame       ResourceType = "sub_frame"
	Stylesheet     ResourceType = "stylesheet"
	Script         ResourceType = "script"
	Image          ResourceType = "image"
	Font           ResourceType = "font"
	Object         ResourceType = "object"
	XMLHTTPRequest ResourceType = "xmlhttprequest"
	Ping           ResourceType = "ping"
	Media          ResourceType = "media"
	WebSocket      ResourceType = "websocket"
	Other          ResourceType = "other"
)

// HeaderOperation 头部修改操作
type HeaderOperation string

const (
	HeaderSet    HeaderOperation = "set"
	HeaderAppend HeaderOperation = "append"
	HeaderRemove HeaderOperation = "remove"
)

// DomainType 第一方/第三方
type DomainType string

const (
	FirstParty DomainType = "firstParty"
	ThirdParty DomainType = "thirdParty"
)

// Rule 动态或静态规则
type Rule struct {
	ID        int       `json:"id"`
	Priority  int       `json:"priority,omitempty"`
	Action    Action    `json:"action"`
	Condition Condition `json:"condition"`
}

// Action 规则行为
type Action struct {
	Type            ActionType   `json:"type"`
	Redirect        *Redirect    `json:"redirect,omitempty"`
	RequestHeaders  []HeaderInfo `json:"requestHeaders,omitempty"`
	ResponseHeaders []HeaderInfo `json:"responseHeaders,omitempty"`
}

// Redirect 重定向目标，三者取其一
type Redirect struct {
	ExtensionPath string        `json:"extensionPath,omitempty"`
	URL           string        `json:"url,omitempty"`
	Transform     *URLTransform `json:"transform,omitempty"`
}

// URLTransform URL 变换
type URLTransform struct {
	Scheme         string          `json:"scheme,omitempty"`
	Host           string          `json:"host,omitempty"`
	Path           string          `json:"path,omitempty"`
	QueryTransform *QueryTransform `json:"queryTransform,omitempty"`
}

// QueryTransform 查询参数变换
type QueryTransform struct {
	RemoveParams       []string        `json:"removeParams,omitempty"`
	AddOrReplaceParams []QueryKeyValue `json:"addOrReplaceParams,omitempty"`
}

// QueryKeyValue 查询参数键值
type QueryKeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// HeaderInfo 单个头部修改
type HeaderInfo struct {
	Header    string          `json:"header"`
	Operation HeaderOperation `json:"operation"`
	Value     string          `json:"value,omitempty"`
}

// Condition 规则匹配条件
type Condition struct {
	URLFilter              string         `json:"urlFilter,omitempty"`
	RegexFilter            string         `json:"regexFilter,omitempty"`
	RequestDomains         []string       `json:"requestDomains,omitempty"`
	ExcludedRequestDomains []string       `json:"excludedRequestDomains,omitempty"`
	InitiatorDomains       []string       `json:"initiatorDomains,omitempty"`
	ResourceTypes          []ResourceType `json:"resourceTypes,omitempty"`
	ExcludedResourceTypes  []ResourceType `json:"excludedResourceTypes,omitempty"`
	DomainType             DomainType     `json:"domainType,omitempty"`
}

// EffectivePriority 未指定优先级时按 1 处理
func (r Rule) EffectivePriority() int {
	if r.Priority <= 0 {
		return 1
	}
	return r.Priority
}

// IDs 返回规则 ID 列表
func IDs(rules []Rule) []int {
	out := make([]int, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.ID)
	}
	return out
}

// Block 构造阻止规则
func Block(id, priority int, cond Condition) Rule {
	return Rule{ID: id, Priority: priority, Action: Action{Type: ActionBlock}, Condition: cond}
}

// AllowAllRequests 构造放行整个框架的规则
func AllowAllRequests(id, priority int, cond Condition) Rule {
	return Rule{ID: id, Priority: priority, Action: Action{Type: ActionAllowAllRequests}, Condition: cond}
}

// RedirectToExtension 构造重定向到扩展资源的规则
func RedirectToExtension(id, priority int, path string, cond Condition) Rule {
	return Rule{
		ID:        id,
		Priority:  priority,
		Action:    Action{Type: ActionRedirect, Redirect: &Redirect{ExtensionPath: path}},
		Condition: cond,
	}
}

// RemoveQueryParams 构造删除查询参数的规则
func RemoveQueryParams(id, priority int, params []string, cond Condition) Rule {
	return Rule{
		ID:       id,
		Priority: priority,
		Action: Action{
			Type: ActionRedirect,
			Redirect: &Redirect{Transform: &URLTransform{
				QueryTransform: &QueryTransform{RemoveParams: params},
			}},
		},
		Condition: cond,
	}
}

// SetRequestHeader 构造设置请求头的规则
func SetRequestHeader(id, priority int, header, value string, cond Condition) Rule {
	return Rule{
		ID:       id,
		Priority: priority,
		Action: Action{
			Type:           ActionModifyHeaders,
			RequestHeaders: []HeaderInfo{{Header: header, Operation: HeaderSet, Value: value}},
		},
		Condition: cond,
	}
}
