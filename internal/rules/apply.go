package rules

import (
	"net/url"
	"strings"

	"dnrharness/pkg/dnr"
	"dnrharness/pkg/traffic"
)

// Outcome 规则作用后的请求去向
type Outcome struct {
	Blocked     bool
	RedirectURL string
	Headers     traffic.Header
	RuleIDs     []int
}

// Apply 将匹配结果作用于请求；extensionOrigin 形如 chrome-extension://<id>
func Apply(req *traffic.Request, res *Result, extensionOrigin string) Outcome {
	out := Outcome{Headers: cloneHeader(req.Headers)}
	if res == nil {
		return out
	}
	if d := res.Decisive; d != nil {
		out.RuleIDs = append(out.RuleIDs, d.Rule.ID)
		switch d.Rule.Action.Type {
		case dnr.ActionBlock:
			out.Blocked = true
			return out
		case dnr.ActionRedirect:
			out.RedirectURL = redirectTarget(req.URL, d.Rule.Action.Redirect, extensionOrigin)
			return out
		case dnr.ActionUpgradeScheme:
			if strings.HasPrefix(req.URL, "http://") {
				out.RedirectURL = "https://" + strings.TrimPrefix(req.URL, "http://")
			}
			return out
		}
	}

	// 同名头部由高优先级规则先占，低优先级的 set 不再覆盖
	claimed := map[string]bool{}
	for _, m := range res.Headers {
		out.RuleIDs = append(out.RuleIDs, m.Rule.ID)
		for _, h := range m.Rule.Action.RequestHeaders {
			name := strings.ToLower(h.Header)
			switch h.Operation {
			case dnr.HeaderSet:
				if claimed[name] {
					continue
				}
				out.Headers.Set(name, h.Value)
			case dnr.HeaderAppend:
				if cur := out.Headers.Get(name); cur != "" {
					out.Headers.Set(name, cur+", "+h.Value)
				} else {
					out.Headers.Set(name, h.Value)
				}
			case dnr.HeaderRemove:
				if claimed[name] {
					continue
				}
				out.Headers.Del(name)
			}
			claimed[name] = true
		}
	}
	return out
}

func redirectTarget(raw string, rd *dnr.Redirect, extensionOrigin string) string {
	if rd == nil {
		return ""
	}
	switch {
	case rd.ExtensionPath != "":
		return strings.TrimSuffix(extensionOrigin, "/") + rd.ExtensionPath
	case rd.URL != "":
		return rd.URL
	case rd.Transform != nil:
		return transformURL(raw, rd.Transform)
	}
	return ""
}

// transformURL 应用 URL 变换，保持原查询参数顺序
func transformURL(raw string, t *dnr.URLTransform) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if t.Scheme != "" {
		u.Scheme = t.Scheme
	}
	if t.Host != "" {
		u.Host = t.Host
	}
	if t.Path != "" {
		u.Path = t.Path
	}
	if qt := t.QueryTransform; qt != nil {
		u.RawQuery = transformQuery(u.RawQuery, qt)
	}
	return u.String()
}

func transformQuery(rawQuery string, qt *dnr.QueryTransform) string {
	remove := make(map[string]bool, len(qt.RemoveParams))
	for _, p := range qt.RemoveParams {
		remove[p] = true
	}
	replace := make(map[string]string, len(qt.AddOrReplaceParams))
	for _, kv := range qt.AddOrReplaceParams {
		replace[kv.Key] = kv.Value
	}

	var kept []string
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key := pair
		if i := strings.IndexByte(pair, '='); i >= 0 {
			key = pair[:i]
		}
		if remove[key] {
			continue
		}
		if v, ok := replace[key]; ok {
			kept = append(kept, key+"="+url.QueryEscape(v))
			delete(replace, key)
			continue
		}
		kept = append(kept, pair)
	}
	for _, kv := range qt.AddOrReplaceParams {
		if _, ok := replace[kv.Key]; ok {
			kept = append(kept, kv.Key+"="+url.QueryEscape(kv.Value))
		}
	}
	return strings.Join(kept, "&")
}

func cloneHeader(h traffic.Header) traffic.Header {
	out := make(traffic.Header, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
