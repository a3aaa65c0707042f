// Package fixture 在本地复刻测试页面，浏览器通过 --host-resolver-rules 访问
package fixture

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"

	"dnrharness/internal/config"
	"dnrharness/internal/logger"
)

// 页面与资源所在的主机
const (
	PagesHost      = "privacy-test-pages.glitch.me"
	GPCHost        = "global-privacy-control.glitch.me"
	ThirdPartyHost = "bad.third-party.site"
	PixelHost      = "facebook.com"
	AdHost         = "doubleclick.net"
	UndeclaredHost = "example.com"
)

// Hosts 需要指向本地的全部主机
func Hosts() []string {
	return []string{PagesHost, GPCHost, ThirdPartyHost, PixelHost, AdHost, UndeclaredHost}
}

// Config 服务配置
type Config struct {
	// Addr 监听地址，":0" 时随机端口
	Addr   string
	Logger logger.Logger
}

// DefaultConfig 随机端口的本地服务
func DefaultConfig() Config {
	return Config{Addr: "127.0.0.1:0"}
}

// Server 按 Host 分发测试页面的 HTTPS 服务，证书自签
type Server struct {
	mu      sync.Mutex
	cfg     Config
	handler http.Handler
	srv     *httptest.Server
	log     logger.Logger
}

// NewServer 创建服务，Start 之前不监听
func NewServer(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultConfig().Addr
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Server{cfg: cfg, handler: Handler(cfg.Logger), log: cfg.Logger}
}

// Start 开始监听，返回实际地址；重复调用返回同一地址
func (s *Server) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return s.srv.Listener.Addr().String(), nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return "", fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	srv := httptest.NewUnstartedServer(s.handler)
	_ = srv.Listener.Close()
	srv.Listener = ln
	srv.StartTLS()
	s.srv = srv
	s.log.Info("测试页面服务已启动", "addr", ln.Addr().String())
	return ln.Addr().String(), nil
}

// Shutdown 关闭服务
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		srv.Close()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		srv.CloseClientConnections()
		return ctx.Err()
	}
}

// Addr 监听地址，未启动时为空
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return ""
	}
	return s.srv.Listener.Addr().String()
}

// Client 信任自签证书的客户端，未启动时为 nil
func (s *Server) Client() *http.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return nil
	}
	return s.srv.Client()
}

// HostResolverRules Chrome --host-resolver-rules 参数值，把测试主机映射到 addr
func HostResolverRules(addr string) string {
	hosts := Hosts()
	sort.Strings(hosts)
	rules := make([]string, 0, len(hosts))
	for _, h := range hosts {
		rules = append(rules, fmt.Sprintf("MAP %s %s", h, addr))
	}
	return strings.Join(rules, ", ")
}

// LaunchFlags 访问本地服务所需的额外浏览器参数
func LaunchFlags() []string {
	return []string{"ignore-certificate-errors"}
}

// Fixtures 本地服务对应的页面地址，主机名与公共页面一致
func Fixtures() config.Fixtures {
	return config.RemoteFixtures()
}
