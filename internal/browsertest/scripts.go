package browsertest

import (
	"context"
	"encoding/json"
	"fmt"

	"dnrharness/internal/rules"
	"dnrharness/pkg/browser"
	"dnrharness/pkg/probes"
	"dnrharness/pkg/traffic"
)

type tab struct {
	browser.Tab
	page        *Page
	mainBlocked bool
	frameAllow  int
	headers     traffic.Header
	outcomes    map[string]rules.Outcome
	surrogate   bool
	polls       int
}

// ExecuteScript 按函数源码分派到内置探针或注册的处理函数
func (b *Browser) ExecuteScript(ctx context.Context, inj browser.ScriptInjection) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failure("ExecuteScript"); err != nil {
		return nil, err
	}
	t, ok := b.tabs[inj.Target.TabID]
	if !ok {
		return nil, fmt.Errorf("no tab with id %d: %w", inj.Target.TabID, ErrNotFound)
	}
	world := inj.World
	if world == "" {
		world = browser.WorldIsolated
	}

	var v any
	var err error
	if fn, ok := b.scripts[inj.Func]; ok {
		v, err = fn(t.Tab, world)
	} else {
		v, err = t.run(inj.Func, world)
	}
	if err != nil {
		return nil, err
	}
	if b.RawResults {
		return marshal([]any{v})
	}
	env := map[string]any{
		"documentId": fmt.Sprintf("DOC%08d", int(t.ID)),
		"frameId":    0,
	}
	if v != nil {
		env["result"] = v
	}
	return marshal([]any{env})
}

func (t *tab) run(src string, world browser.World) (any, error) {
	switch src {
	case probes.Results:
		return t.results(world), nil
	case probes.ImageWidth:
		return t.imageWidth(), nil
	case probes.SurrogateGlobal:
		if world != browser.WorldMain || !t.surrogate {
			return nil, nil
		}
		return "success", nil
	case probes.InjectSurrogate:
		if t.page != nil && t.page.WebAccessible {
			t.surrogate = true
		}
		return nil, nil
	case probes.GPCValue:
		if t.page == nil || !t.page.GPC {
			return nil, fmt.Errorf("no .gpc-value element on %s", t.URL)
		}
		if v := t.headers.Get("Sec-GPC"); v != "" {
			return fmt.Sprintf("Sec-GPC: %q", v), nil
		}
		return "No Sec-GPC header", nil
	case probes.Location:
		return t.URL, nil
	}
	return nil, fmt.Errorf("unsupported script %q", src)
}

// results 页面全局变量只在 MAIN 环境可见
func (t *tab) results(world browser.World) any {
	if world != browser.WorldMain || t.page == nil || !t.page.Results || t.mainBlocked {
		return nil
	}
	t.polls++
	out := make([]map[string]string, 0, len(t.page.Resources))
	for _, r := range t.page.Resources {
		st := "not loaded"
		if t.polls > t.page.SettleAfter {
			st = "loaded"
			if t.outcomes[r.ID].Blocked {
				st = "failed"
			}
		}
		out = append(out, map[string]string{"id": r.ID, "status": st})
	}
	return out
}

func (t *tab) imageWidth() any {
	if t.page == nil {
		return nil
	}
	for _, r := range t.page.Resources {
		if r.Type != "image" {
			continue
		}
		o := t.outcomes[r.ID]
		switch {
		case o.Blocked:
			return 0
		case o.RedirectURL == ExtensionOrigin+IconPath:
			return 48
		default:
			return 1
		}
	}
	return nil
}

func marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal script result: %w", err)
	}
	return b, nil
}
