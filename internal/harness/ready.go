package harness

import (
	"context"
	"errors"
	"fmt"

	"dnrharness/pkg/browser"
)

// ErrEventsClosed 导航事件流提前关闭
var ErrEventsClosed = errors.New("navigation events closed")

// LoadPage 打开非激活标签页，等顶层框架（frameId 0）DOMContentLoaded 后返回。
// 先订阅再创建，创建返回前到达的事件留在订阅缓冲中。超时由 ctx 决定；
// 出错时若标签页已创建仍返回其句柄，供调用方回收。
func LoadPage(ctx context.Context, a browser.Automation, url string) (browser.Tab, error) {
	events, unsubscribe, err := a.Subscribe(ctx)
	if err != nil {
		return browser.Tab{}, fmt.Errorf("subscribe navigation events: %w", err)
	}
	defer unsubscribe()

	tab, err := a.CreateTab(ctx, browser.CreateTabArgs{URL: url, Active: false})
	if err != nil {
		return browser.Tab{}, fmt.Errorf("create tab %s: %w", url, err)
	}

	for {
		select {
		case <-ctx.Done():
			return tab, fmt.Errorf("wait for %s: %w", url, ctx.Err())
		case ev, ok := <-events:
			if !ok {
				return tab, ErrEventsClosed
			}
			if ev.Type == browser.EventDOMContentLoaded && ev.TabID == tab.ID && ev.IsTopLevel() {
				return tab, nil
			}
		}
	}
}
