// Package probes 汇总在页面或扩展环境中执行的探针函数源码
package probes

import (
	"fmt"
	"strings"
)

const (
	// Results 读取测试页面的结果累加器
	Results = `() => { return results?.results; }`

	// ImageWidth 首个 img 的渲染宽度
	ImageWidth = `() => { return document.querySelector("img").width; }`

	// SurrogateGlobal 替身脚本写入的全局变量
	SurrogateGlobal = `() => { return window.surrogate_test; }`

	// GPCValue GPC 回显页面显示的请求头
	GPCValue = `() => { return document.querySelector('.gpc-value > code').innerText; }`

	// Location 当前文档地址
	Location = `() => { return document.location.href; }`

	// InjectSurrogate 在隔离环境中插入指向扩展 web_accessible_resources 的脚本标签
	InjectSurrogate = `() => {
  const script = document.createElement("script");
  script.src = chrome.runtime.getURL("/surrogate.js");
  (document.head || document.documentElement).appendChild(script);
}`
)

// TypeOf 扩展环境中 chrome.<api> 的类型
func TypeOf(api string) string {
	if api == "" {
		return "typeof chrome"
	}
	return fmt.Sprintf("typeof chrome[%q]", api)
}

// APITypes 多个 chrome.<api> 的类型，结果为字符串数组
func APITypes(apis ...string) string {
	parts := make([]string, 0, len(apis))
	for _, a := range apis {
		parts = append(parts, TypeOf(a))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
