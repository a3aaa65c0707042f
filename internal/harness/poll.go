package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"dnrharness/pkg/browser"
	"dnrharness/pkg/probes"
)

// DefaultPollInterval 两次读取之间的固定间隔
const DefaultPollInterval = 100 * time.Millisecond

// ErrGaveUp 达到最大尝试次数仍未满足条件
var ErrGaveUp = errors.New("observation gave up")

// Predicate 轮询结束条件
type Predicate func(gjson.Result) bool

// Poller 轮询配置。MaxAttempts 为 0 时不限次数，仅由 ctx 截止时间约束
type Poller struct {
	Interval    time.Duration
	MaxAttempts int
}

// ObserveError 轮询未完成，携带最后一次观察值
type ObserveError struct {
	Attempts int
	Last     gjson.Result
	Err      error
}

func (e *ObserveError) Error() string {
	last := "<none>"
	if e.Last.Exists() {
		last = e.Last.Raw
	}
	return fmt.Sprintf("observe after %d attempts (last %s): %v", e.Attempts, last, e.Err)
}

func (e *ObserveError) Unwrap() error { return e.Err }

// ObserveUntil 在 MAIN 环境反复读取页面结果累加器，首次满足 pred 时关闭标签页并返回该结果。
// 每次读取都是独立查询；读取出错直接返回，不在此层重试
func (h *Harness) ObserveUntil(ctx context.Context, tab browser.Tab, pred Predicate) (gjson.Result, error) {
	interval := h.Poller.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	last := gjson.Result{}
	for attempt := 1; ; attempt++ {
		res, err := ReadResult(ctx, h.a, tab.ID, browser.WorldMain, probes.Results)
		if err != nil {
			if ctx.Err() != nil {
				return last, &ObserveError{Attempts: attempt, Last: last, Err: ctx.Err()}
			}
			return last, err
		}
		last = res
		if !IsNull(res) && pred(res) {
			h.log.Debug("轮询条件满足", "tabID", int(tab.ID), "attempts", attempt)
			if err := h.CloseTab(ctx, tab.ID); err != nil {
				return res, err
			}
			return res, nil
		}
		if h.Poller.MaxAttempts > 0 && attempt >= h.Poller.MaxAttempts {
			return last, &ObserveError{Attempts: attempt, Last: last, Err: ErrGaveUp}
		}

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return last, &ObserveError{Attempts: attempt, Last: last, Err: ctx.Err()}
		case <-t.C:
		}
	}
}
