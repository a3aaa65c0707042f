package browsertest

import (
	"strings"

	"dnrharness/internal/config"
	"dnrharness/pkg/dnr"
)

const (
	// IconPath 扩展内 48px 图标
	IconPath = "/images/icon-48.png"
	// SurrogatePath 扩展内替身脚本，加载后写入 window.surrogate_test
	SurrogatePath = "/surrogate.js"

	// BlockingRuleset 扩展声明的静态阻止规则集
	BlockingRuleset dnr.RulesetID = "test_rules_blocking"

	BlockedScriptURL = "https://bad.third-party.site/privacy-protections/request-blocking/block-me/script.js"
	BlockedXHRURL    = "https://bad.third-party.site/privacy-protections/request-blocking/block-me/xhr.json"
	BlockedImageURL  = "https://bad.third-party.site/privacy-protections/request-blocking/block-me/image.png"
	TrackerPixelURL  = "https://facebook.com/tr/?id=1&ev=PageView"
	TrackerScriptURL = "https://doubleclick.net/instream/ad_status.js"
)

// Resource 页面发起的子资源请求
type Resource struct {
	ID   string
	URL  string
	Type dnr.ResourceType
}

// Page 页面模型，按 URL 前缀（不含查询串）匹配
type Page struct {
	URL       string
	Resources []Resource
	SubFrames []string
	// Results 页面是否维护 results.results 累加器
	Results bool
	// SettleAfter 前 N 次读取累加器时请求仍为 "not loaded"
	SettleAfter int
	// WebAccessible 页面来源在扩展 web_accessible_resources 的 matches 中
	WebAccessible bool
	// GPC 页面回显 Sec-GPC 请求头
	GPC bool
	// NeverReady 页面不发出导航事件
	NeverReady bool
}

// Prefix 匹配前缀
func (p *Page) Prefix() string {
	u := p.URL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return u
}

// Standard 按测试页面地址构建模拟浏览器，并声明 test_rules_blocking 规则集
func Standard(f config.Fixtures) *Browser {
	b := New(
		Page{URL: f.Root, WebAccessible: true, SubFrames: []string{"about:blank"}},
		Page{
			URL:         f.RequestBlocking,
			Results:     true,
			SettleAfter: 2,
			Resources: []Resource{
				{ID: "script", URL: BlockedScriptURL, Type: dnr.Script},
				{ID: "xmlhttprequest", URL: BlockedXHRURL, Type: dnr.XMLHTTPRequest},
				{ID: "image", URL: BlockedImageURL, Type: dnr.Image},
			},
		},
		Page{
			URL:           f.TrackerImage,
			WebAccessible: true,
			Resources:     []Resource{{ID: "img", URL: TrackerPixelURL, Type: dnr.Image}},
		},
		Page{
			URL:           f.TrackerSurrogate,
			WebAccessible: true,
			Resources:     []Resource{{ID: "script", URL: TrackerScriptURL, Type: dnr.Script}},
		},
		Page{URL: f.QueryParams, WebAccessible: true},
		Page{URL: f.GPC, GPC: true},
		Page{URL: f.Undeclared},
	)
	b.DefineRuleset(BlockingRuleset, dnr.Block(1, 1, dnr.Condition{URLFilter: "||bad.third-party.site/*"}))
	return b
}
