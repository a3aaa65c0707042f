package harness

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"dnrharness/pkg/browser"
)

var null = gjson.Parse("null")

// NormalizeResults 统一 executeScript 的返回形态：
// 带 documentId 的逐框架结果取其 result 字段（缺失视为 null），其余元素原样保留
func NormalizeResults(raw []byte) []gjson.Result {
	doc := gjson.ParseBytes(raw)
	if !doc.IsArray() {
		if !doc.Exists() {
			return nil
		}
		return []gjson.Result{doc}
	}
	items := doc.Array()
	out := make([]gjson.Result, 0, len(items))
	for _, r := range items {
		if r.IsObject() && truthy(r.Get("documentId")) {
			v := r.Get("result")
			if !v.Exists() {
				v = null
			}
			out = append(out, v)
			continue
		}
		out = append(out, r)
	}
	return out
}

// ReadResults 在指定环境执行探针并返回归一化后的结果列表
func ReadResults(ctx context.Context, a browser.Automation, tabID browser.TabID, world browser.World, probe string) ([]gjson.Result, error) {
	raw, err := a.ExecuteScript(ctx, browser.ScriptInjection{
		Target: browser.Target{TabID: tabID},
		World:  world,
		Func:   probe,
	})
	if err != nil {
		return nil, fmt.Errorf("execute script in tab %d (%s): %w", tabID, world, err)
	}
	return NormalizeResults(raw), nil
}

// ReadResult 单框架探针的结果，列表为空时返回 null
func ReadResult(ctx context.Context, a browser.Automation, tabID browser.TabID, world browser.World, probe string) (gjson.Result, error) {
	rs, err := ReadResults(ctx, a, tabID, world, probe)
	if err != nil {
		return null, err
	}
	if len(rs) == 0 {
		return null, nil
	}
	return rs[0], nil
}

// IsNull 结果缺失或为 null
func IsNull(r gjson.Result) bool {
	return !r.Exists() || r.Type == gjson.Null
}

func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.String:
		return r.Str != ""
	case gjson.Number:
		return r.Num != 0
	case gjson.True, gjson.JSON:
		return true
	default:
		return false
	}
}
