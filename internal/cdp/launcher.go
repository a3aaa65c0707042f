package cdp

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"

	"dnrharness/internal/logger"
)

// LaunchConfig 浏览器启动参数
type LaunchConfig struct {
	Bin          string
	ExtensionDir string
	Headless     bool
	// HostResolverRules 把测试域名指向本地夹具服务
	HostResolverRules string
	// Flags 额外命令行参数，形如 name 或 name=value
	Flags []string
}

// Browser 已启动的浏览器进程
type Browser struct {
	// DevToolsURL 形如 http://127.0.0.1:port，可直接传给 Connect
	DevToolsURL string
	l           *launcher.Launcher
	log         logger.Logger
}

// Launch 启动加载了扩展的 Chrome
func Launch(cfg LaunchConfig, log logger.Logger) (*Browser, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.ExtensionDir == "" {
		return nil, errors.New("extension directory is required")
	}
	l := launcher.New().
		Set("no-sandbox").
		Set("no-first-run").
		Set("load-extension", cfg.ExtensionDir).
		Set("disable-extensions-except", cfg.ExtensionDir).
		Delete("disable-extensions")
	// 旧版 headless 不加载扩展
	if cfg.Headless {
		l = l.Headless(false).Set("headless", "new")
	} else {
		l = l.Headless(false)
	}
	if cfg.HostResolverRules != "" {
		l = l.Set("host-resolver-rules", cfg.HostResolverRules)
	}
	for _, f := range cfg.Flags {
		name, value, ok := strings.Cut(strings.TrimLeft(f, "-"), "=")
		if ok {
			l = l.Set(flags.Flag(name), value)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	bin := cfg.Bin
	if bin == "" {
		if p, found := launcher.LookPath(); found {
			bin = p
		}
	}
	if bin != "" {
		l = l.Bin(bin)
	}

	ws, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	dt, err := devToolsURL(ws)
	if err != nil {
		l.Kill()
		return nil, err
	}
	log.Info("浏览器已启动", "devtools", dt, "extension", cfg.ExtensionDir)
	return &Browser{DevToolsURL: dt, l: l, log: log}, nil
}

// Close 结束浏览器进程并清理用户数据目录
func (b *Browser) Close() {
	b.l.Kill()
	b.l.Cleanup()
	b.log.Info("浏览器已关闭")
}

// devToolsURL ws://host:port/devtools/browser/<id> 转为 http://host:port
func devToolsURL(ws string) (string, error) {
	u, err := url.Parse(ws)
	if err != nil {
		return "", fmt.Errorf("parse control url %q: %w", ws, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("control url %q has no host", ws)
	}
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return scheme + "://" + u.Host, nil
}
