package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	Browser struct {
		DevToolsURL       string   `yaml:"devtoolsURL"`
		ExtensionID       string   `yaml:"extensionID"`
		Bin               string   `yaml:"bin"`
		ExtensionDir      string   `yaml:"extensionDir"`
		Headless          bool     `yaml:"headless"`
		HostResolverRules string   `yaml:"hostResolverRules"`
		Flags             []string `yaml:"flags"`
	} `yaml:"browser"`

	Harness struct {
		PollInterval    time.Duration `yaml:"pollInterval"`
		MaxAttempts     int           `yaml:"maxAttempts"`
		ScenarioTimeout time.Duration `yaml:"scenarioTimeout"`
		CleanupTimeout  time.Duration `yaml:"cleanupTimeout"`
		Parallel        int           `yaml:"parallel"`
	} `yaml:"harness"`

	Fixtures Fixtures `yaml:"fixtures"`

	// FixtureServer 本地测试页面服务，仅对启动的浏览器生效
	FixtureServer struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"fixtureServer"`

	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   string   `yaml:"file"`
	} `yaml:"log"`
}

// Fixtures 测试页面地址
type Fixtures struct {
	Root             string `yaml:"root"`
	RequestBlocking  string `yaml:"requestBlocking"`
	TrackerImage     string `yaml:"trackerImage"`
	TrackerSurrogate string `yaml:"trackerSurrogate"`
	QueryParams      string `yaml:"queryParams"`
	GPC              string `yaml:"gpc"`
	Undeclared       string `yaml:"undeclared"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.Browser.Headless = true
	c.Harness.PollInterval = 100 * time.Millisecond
	c.Harness.ScenarioTimeout = 10 * time.Second
	c.Harness.CleanupTimeout = 5 * time.Second
	c.Harness.Parallel = 1
	c.Fixtures = RemoteFixtures()
	c.FixtureServer.Addr = "127.0.0.1:0"
	c.Sqlite.Dsn = "db.sqlite3"
	c.Sqlite.Prefix = "dnrharness_"
	c.Log.Level = "debug"
	c.Log.Writer = []string{"console", "file"}
	c.Log.File = "logs/dnrharness.log"
	return c
}

// RemoteFixtures 公共测试页面
func RemoteFixtures() Fixtures {
	return Fixtures{
		Root:             "https://privacy-test-pages.glitch.me/",
		RequestBlocking:  "https://privacy-test-pages.glitch.me/privacy-protections/request-blocking/?run",
		TrackerImage:     "https://privacy-test-pages.glitch.me/tracker-reporting/1major-via-img.html",
		TrackerSurrogate: "https://privacy-test-pages.glitch.me/tracker-reporting/1major-with-surrogate.html",
		QueryParams:      "https://privacy-test-pages.glitch.me/privacy-protections/query-parameters/query.html?fbclid=12345&fb_source=someting&u=14",
		GPC:              "https://global-privacy-control.glitch.me/",
		Undeclared:       "https://example.com/",
	}
}

// Load 读取配置文件并覆盖默认值，随后校验
func Load(path string) (*Config, error) {
	c, err := Read(path)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return c, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Read 读取配置文件并覆盖默认值，不做校验；path 为空时返回默认配置
func Read(path string) (*Config, error) {
	c := NewConfig()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Harness.PollInterval <= 0 {
		return fmt.Errorf("harness.pollInterval must be positive")
	}
	if c.Harness.MaxAttempts < 0 {
		return fmt.Errorf("harness.maxAttempts must not be negative")
	}
	if c.Harness.ScenarioTimeout <= 0 {
		return fmt.Errorf("harness.scenarioTimeout must be positive")
	}
	if c.Harness.Parallel < 1 {
		c.Harness.Parallel = 1
	}
	if c.Harness.CleanupTimeout <= 0 {
		c.Harness.CleanupTimeout = 5 * time.Second
	}
	if c.Browser.DevToolsURL == "" && c.Browser.ExtensionDir == "" {
		return fmt.Errorf("either browser.devtoolsURL or browser.extensionDir is required")
	}
	if c.FixtureServer.Enabled && c.Browser.ExtensionDir == "" {
		return fmt.Errorf("fixtureServer requires a launched browser (browser.extensionDir)")
	}
	return nil
}
