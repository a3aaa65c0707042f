package session

import (
	"sort"
	"sync"
	"time"

	"dnrharness/internal/logger"
	"dnrharness/pkg/browser"
)

// OpenTab 场景打开且尚未关闭的标签页
type OpenTab struct {
	ID       browser.TabID
	URL      string
	Scenario string
	OpenedAt time.Time
}

// Manager 记录各场景打开的标签页，供清理时回收
type Manager struct {
	mu   sync.RWMutex
	tabs map[browser.TabID]OpenTab
	log  logger.Logger
}

// NewManager 创建标签页管理器
func NewManager(l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		tabs: make(map[browser.TabID]OpenTab),
		log:  l,
	}
}

// Add 登记标签页
func (m *Manager) Add(t OpenTab) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.OpenedAt.IsZero() {
		t.OpenedAt = time.Now()
	}
	m.tabs[t.ID] = t
	m.log.Debug("登记标签页", "tabID", int(t.ID), "scenario", t.Scenario)
}

// Get 获取标签页
func (m *Manager) Get(id browser.TabID) (OpenTab, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tabs[id]
	return t, ok
}

// Delete 注销标签页
func (m *Manager) Delete(id browser.TabID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tabs, id)
}

// List 按打开顺序返回所有未关闭标签页
func (m *Manager) List() []OpenTab {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]OpenTab, 0, len(m.tabs))
	for _, t := range m.tabs {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Len 未关闭标签页数量
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tabs)
}
