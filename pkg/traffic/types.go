package traffic

import (
	"net/url"
	"strings"
)

// Header 封装通用的头部操作
type Header map[string]string

// Get 获取指定 Header 的值（大小写不敏感）
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(key)]
}

// Set 设置指定 Header 的值（自动转换为小写）
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Del 删除指定 Header
func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// Request 中立的请求模型
type Request struct {
	URL          string // 完整URL
	Method       string // HTTP方法
	Headers      Header // 请求头
	ResourceType string // 资源类型 (main_frame, script, xmlhttprequest ...)
	Initiator    string // 发起请求的文档 URL，顶层导航为空
}

// NewRequest 创建初始化请求对象
func NewRequest(rawURL, resourceType, initiator string) *Request {
	return &Request{
		URL:          rawURL,
		Method:       "GET",
		Headers:      make(Header),
		ResourceType: resourceType,
		Initiator:    initiator,
	}
}

// Host 请求主机名，解析失败返回空
func (r *Request) Host() string {
	return hostOf(r.URL)
}

// InitiatorHost 发起方主机名
func (r *Request) InitiatorHost() string {
	return hostOf(r.Initiator)
}

// IsFrame 是否框架导航请求
func (r *Request) IsFrame() bool {
	return r.ResourceType == "main_frame" || r.ResourceType == "sub_frame"
}

func hostOf(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// MatchesDomain host 等于 domain 或为其子域
func MatchesDomain(host, domain string) bool {
	domain = strings.ToLower(domain)
	return host == domain || strings.HasSuffix(host, "."+domain)
}
