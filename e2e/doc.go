//go:build e2e

// Package e2e 在真实 Chrome 中运行全部场景。
//
// 运行：
//
//	go test -tags=e2e ./e2e/...
//
// 默认启动本地测试页面服务并通过 --host-resolver-rules 指向它；
// 设置 DNRHARNESS_REMOTE=1 时直接访问公共测试页面。
package e2e
